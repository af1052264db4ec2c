package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerochristian/robloxkeys/internal/domain"
	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

const catalogKey = "catalog:products"

// CatalogRepository implements repository.CatalogCache using Redis. The
// snapshot is replaced wholesale whenever the gateway reports a refreshed
// catalog (notably alongside a confirmed purchase).
type CatalogRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCatalogRepository creates a new Redis-backed catalog cache.
func NewCatalogRepository(client *redis.Client, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the cached catalog snapshot.
func (r *CatalogRepository) Get(ctx context.Context) ([]domain.Product, error) {
	data, err := r.client.Get(ctx, catalogKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("catalog", "snapshot")
		}
		return nil, fmt.Errorf("redis get catalog: %w", err)
	}

	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("unmarshal catalog: %w", err)
	}
	return products, nil
}

// Replace overwrites the cached snapshot.
func (r *CatalogRepository) Replace(ctx context.Context, products []domain.Product) error {
	data, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := r.client.Set(ctx, catalogKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set catalog: %w", err)
	}
	return nil
}
