package adapter

import (
	"context"

	cartapp "github.com/dmehra2102/storefront/internal/cart/application"
	"github.com/dmehra2102/storefront/internal/cart/domain"
)

// CartStore exposes the cart repository to the checkout. It skips the cart
// service's per-user lock because the checkout already holds it.
type CartStore struct {
	repo cartapp.CartRepository
}

func NewCartStore(repo cartapp.CartRepository) *CartStore {
	return &CartStore{repo: repo}
}

func (c *CartStore) Get(ctx context.Context, userID string) (domain.Cart, error) {
	return c.repo.Get(ctx, userID)
}

func (c *CartStore) Clear(ctx context.Context, userID string) error {
	return c.repo.Delete(ctx, userID)
}
