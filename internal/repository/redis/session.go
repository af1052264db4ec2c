package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

const sessionKeyPrefix = "session:"

// SessionRepository implements repository.SessionStore using Redis. It holds
// the user's gateway bearer token for the lifetime of their sign-in.
type SessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionRepository creates a new Redis-backed session repository.
func NewSessionRepository(client *redis.Client, ttl time.Duration) *SessionRepository {
	return &SessionRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the session token for a user.
func (r *SessionRepository) Get(ctx context.Context, userID string) (string, error) {
	token, err := r.client.Get(ctx, sessionKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.Unauthorized("no active session")
		}
		return "", fmt.Errorf("redis get session: %w", err)
	}
	return token, nil
}

// Save stores the session token for a user with the configured TTL.
func (r *SessionRepository) Save(ctx context.Context, userID, token string) error {
	if token == "" {
		return apperrors.InvalidInput("session token is required")
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+userID, token, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Delete clears the session token for a user.
func (r *SessionRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}
