package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dmehra2102/storefront/internal/cart/domain"
)

type Repository struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

func NewRepository() *Repository {
	return &Repository{carts: make(map[string]domain.Cart)}
}

func (r *Repository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID}, nil
	}
	c.Items = slices.Clone(c.Items)
	return c, nil
}

func (r *Repository) Save(ctx context.Context, cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart.Items = slices.Clone(cart.Items)
	r.carts[cart.UserID] = cart
	return nil
}

func (r *Repository) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}
