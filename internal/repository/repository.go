// Package repository defines the persistence interfaces consumed by the
// checkout flow and the HTTP handlers.
package repository

import (
	"context"

	"github.com/nerochristian/robloxkeys/internal/domain"
)

// CartStore persists per-user shopping carts.
type CartStore interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

// SessionStore persists the user's gateway session token.
type SessionStore interface {
	Get(ctx context.Context, userID string) (string, error)
	Save(ctx context.Context, userID, token string) error
	Delete(ctx context.Context, userID string) error
}

// PendingPaymentStore persists payment correlation records across the
// external provider redirect. Records must be durable: the process may
// restart between handing out the redirect and the provider return.
type PendingPaymentStore interface {
	Save(ctx context.Context, pending *domain.PendingPayment) error
	Get(ctx context.Context, token string) (*domain.PendingPayment, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// CatalogCache holds the catalog snapshot most recently reported by the
// gateway.
type CatalogCache interface {
	Get(ctx context.Context) ([]domain.Product, error)
	Replace(ctx context.Context, products []domain.Product) error
}
