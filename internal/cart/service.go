// Package cart implements cart operations on top of the Redis cart store
// and the gateway catalog.
package cart

import (
	"context"
	"log/slog"

	"github.com/nerochristian/robloxkeys/internal/domain"
	"github.com/nerochristian/robloxkeys/internal/repository"
	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

// Catalog is the product source used to snapshot cart lines.
type Catalog interface {
	Products(ctx context.Context) ([]domain.Product, error)
}

// Service owns cart reads and mutations outside of an active checkout.
type Service struct {
	carts   repository.CartStore
	cache   repository.CatalogCache
	catalog Catalog
	logger  *slog.Logger
}

// NewService creates a cart service.
func NewService(carts repository.CartStore, cache repository.CatalogCache, catalog Catalog, logger *slog.Logger) *Service {
	return &Service{
		carts:   carts,
		cache:   cache,
		catalog: catalog,
		logger:  logger,
	}
}

// Get returns the user's cart.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.carts.Get(ctx, userID)
}

// Add snapshots a product (and optional tier) into the cart. The quantity is
// clamped to the available stock; an existing line accumulates.
func (s *Service) Add(ctx context.Context, userID, productID, tierID string, quantity int) (*domain.Cart, error) {
	product, err := s.findProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if tierID != "" && product.FindTier(tierID) == nil {
		return nil, apperrors.NotFound("tier", tierID)
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart.Upsert(domain.NewCartItem(product, tierID, quantity))

	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// UpdateQuantity sets a line's quantity, clamped to its stock ceiling.
func (s *Service) UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cart.SetQuantity(lineID, quantity) {
		return nil, apperrors.NotFound("cart line", lineID)
	}
	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// Remove drops a line from the cart.
func (s *Service) Remove(ctx context.Context, userID, lineID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cart.Remove(lineID) {
		return nil, apperrors.NotFound("cart line", lineID)
	}
	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.carts.Delete(ctx, userID)
}

// Products returns the catalog, preferring the cached snapshot and
// refreshing it from the gateway when missing.
func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	if products, err := s.cache.Get(ctx); err == nil {
		return products, nil
	}

	products, err := s.catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Replace(ctx, products); err != nil {
		s.logger.WarnContext(ctx, "refresh catalog cache", slog.String("error", err.Error()))
	}
	return products, nil
}

// findProduct resolves a product from the cached snapshot, falling back to
// the gateway and refreshing the cache on a miss.
func (s *Service) findProduct(ctx context.Context, productID string) (*domain.Product, error) {
	if products, err := s.cache.Get(ctx); err == nil {
		for i := range products {
			if products[i].ID == productID {
				return &products[i], nil
			}
		}
	}

	products, err := s.catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Replace(ctx, products); err != nil {
		s.logger.WarnContext(ctx, "refresh catalog cache", slog.String("error", err.Error()))
	}
	for i := range products {
		if products[i].ID == productID {
			return &products[i], nil
		}
	}
	return nil, apperrors.NotFound("product", productID)
}
