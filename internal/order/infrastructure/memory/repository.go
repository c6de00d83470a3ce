package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/dmehra2102/storefront/internal/order/application"
	"github.com/dmehra2102/storefront/internal/order/domain"
)

// Repository keeps orders in process. Events are retained in write order
// so tests can assert on them.
type Repository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	events []application.Event
}

func NewRepository() *Repository {
	return &Repository{orders: make(map[string]domain.Order)}
}

func (r *Repository) Save(ctx context.Context, o domain.Order, ev application.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.Items = slices.Clone(o.Items)
	r.orders[o.ID] = o
	r.events = append(r.events, ev)
	return nil
}

func (r *Repository) Update(ctx context.Context, o domain.Order, ev application.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok || cur.UserID != o.UserID {
		return domain.ErrOrderNotFound
	}
	o.Items = slices.Clone(o.Items)
	r.orders[o.ID] = o
	r.events = append(r.events, ev)
	return nil
}

func (r *Repository) FindByID(ctx context.Context, orderID, userID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok || o.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			o.Items = slices.Clone(o.Items)
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return out, nil
}

// Events returns the recorded events of the given type, or all of them
// when eventType is empty.
func (r *Repository) Events(eventType string) []application.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []application.Event
	for _, ev := range r.events {
		if eventType == "" || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
