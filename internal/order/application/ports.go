package application

import (
	"context"

	cart "github.com/dmehra2102/storefront/internal/cart/domain"
	catalog "github.com/dmehra2102/storefront/internal/catalog/domain"
	notification "github.com/dmehra2102/storefront/internal/notification/domain"
	"github.com/dmehra2102/storefront/internal/order/domain"
)

// Event is an order change that repositories with an outbox record in the
// same write as the order itself.
type Event struct {
	Type        string
	Payload     []byte
	Traceparent string
}

// OrderRepository reads are scoped to userID: an order owned by someone
// else is reported as domain.ErrOrderNotFound.
type OrderRepository interface {
	Save(ctx context.Context, o domain.Order, ev Event) error
	Update(ctx context.Context, o domain.Order, ev Event) error
	FindByID(ctx context.Context, orderID, userID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
}

// Catalog.AdjustStock must check and decrement atomically; its
// ErrInsufficientStock wins over any earlier read.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (catalog.Product, error)
	AdjustStock(ctx context.Context, productID string, quantity int, op catalog.StockOperation) (int, error)
}

// CartStore is used while the caller already holds the user's lock.
type CartStore interface {
	Get(ctx context.Context, userID string) (cart.Cart, error)
	Clear(ctx context.Context, userID string) error
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notification) error
}
