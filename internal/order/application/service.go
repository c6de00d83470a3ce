package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	cart "github.com/dmehra2102/storefront/internal/cart/domain"
	catalog "github.com/dmehra2102/storefront/internal/catalog/domain"
	notification "github.com/dmehra2102/storefront/internal/notification/domain"
	"github.com/dmehra2102/storefront/internal/order/domain"
	"github.com/dmehra2102/storefront/pkg/apperr"
	"github.com/dmehra2102/storefront/pkg/keylock"
	"github.com/dmehra2102/storefront/pkg/metrics"
	"github.com/dmehra2102/storefront/pkg/tracing"
)

type Options struct {
	CatalogTimeout time.Duration
	// Concurrency bounds parallel catalog reads per checkout.
	Concurrency int
	Policy      StatusPolicy
}

type Service struct {
	log      *slog.Logger
	repo     OrderRepository
	catalog  Catalog
	carts    CartStore
	notifier Notifier
	locks    *keylock.Locker
	effects  *SideEffects
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	catalogTimeout time.Duration
	concurrency    int
	policy         StatusPolicy

	now   func() time.Time
	newID func() string
}

func NewService(
	log *slog.Logger,
	repo OrderRepository,
	catalog Catalog,
	carts CartStore,
	notifier Notifier,
	locks *keylock.Locker,
	effects *SideEffects,
	m *metrics.Metrics,
	opts Options,
) *Service {
	if opts.CatalogTimeout <= 0 {
		opts.CatalogTimeout = 3 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Policy == nil {
		opts.Policy = Permissive{}
	}
	return &Service{
		log:            log,
		repo:           repo,
		catalog:        catalog,
		carts:          carts,
		notifier:       notifier,
		locks:          locks,
		effects:        effects,
		metrics:        m,
		tracer:         otel.Tracer("order-service"),
		catalogTimeout: opts.CatalogTimeout,
		concurrency:    opts.Concurrency,
		policy:         opts.Policy,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// CreateOrder turns the user's cart into an order.
//
// Until the pending order is stored the checkout has no side effects and
// honours cancellation. After that it runs to completion: stock is
// decremented line by line, and a failed decrement restores the lines
// already taken and marks the order failed. The cart is cleared only once
// the order is confirmed.
func (s *Service) CreateOrder(ctx context.Context, userID string, addr domain.Address) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	o, outcome, err := s.createOrder(ctx, userID, addr)
	s.metrics.CheckoutOutcome(outcome)
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func (s *Service) createOrder(ctx context.Context, userID string, addr domain.Address) (domain.Order, string, error) {
	if err := addr.Validate(); err != nil {
		return domain.Order{}, "invalid", err
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return domain.Order{}, "cancelled", fmt.Errorf("checkout: %w", err)
	}
	defer unlock()

	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return domain.Order{}, "error", fmt.Errorf("load cart: %w", err)
	}
	if c.IsEmpty() {
		return domain.Order{}, "empty_cart", domain.ErrEmptyCart
	}
	for _, it := range c.Items {
		if it.Quantity < 1 || it.Quantity > cart.MaxQuantity {
			return domain.Order{}, "invalid", apperr.Invalid(fmt.Sprintf("cart line %s has invalid quantity %d", it.ProductID, it.Quantity))
		}
	}

	products, err := s.snapshot(ctx, c.Items)
	if err != nil {
		return domain.Order{}, "catalog_unavailable", err
	}

	lines := make([]domain.Line, len(c.Items))
	for i, it := range c.Items {
		p := products[i]
		if p.Stock < it.Quantity {
			return domain.Order{}, "insufficient_stock", catalog.InsufficientStock(p.Name)
		}
		lines[i] = domain.NewLine(it.ProductID, p.Name, p.Price, it.Quantity, p.Image)
	}
	o := domain.NewOrder(s.newID(), userID, lines, addr, s.now())

	if err := ctx.Err(); err != nil {
		return domain.Order{}, "cancelled", fmt.Errorf("checkout: %w", err)
	}

	created, err := newEvent(ctx, domain.EventOrderCreated, domain.OrderCreated{
		OrderID: o.ID, UserID: o.UserID, TotalAmount: o.TotalAmount, Items: o.Items,
	})
	if err != nil {
		return domain.Order{}, "error", err
	}
	if err := s.repo.Save(ctx, o, created); err != nil {
		return domain.Order{}, "error", fmt.Errorf("save order: %w", err)
	}

	// The order is durable from here on.
	ctx = context.WithoutCancel(ctx)

	if err := s.reserve(ctx, o); err != nil {
		s.fail(ctx, &o, err)
		if apperr.KindOf(err) == apperr.KindInsufficientStock {
			return domain.Order{}, "insufficient_stock", err
		}
		return domain.Order{}, "catalog_unavailable", err
	}

	confirmed := o
	confirmed.SetStatus(domain.StatusConfirmed, s.now())
	ev, err := newEvent(ctx, domain.EventOrderConfirmed, domain.OrderConfirmed{OrderID: o.ID, UserID: o.UserID})
	if err == nil {
		err = s.repo.Update(ctx, confirmed, ev)
	}
	if err != nil {
		s.log.Error("confirm order", "order_id", o.ID, "err", err)
	} else {
		o = confirmed
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		s.log.Error("clear cart after checkout", "user_id", userID, "order_id", o.ID, "err", err)
	}

	s.notify(ctx, notification.Notification{
		Type:    notification.TypeOrderCreated,
		UserID:  userID,
		OrderID: o.ID,
		Message: fmt.Sprintf("Your order %s has been placed. Total: %s", o.ID, o.TotalAmount.StringFixed(2)),
	})
	s.log.Info("order created", "order_id", o.ID, "user_id", userID, "total", o.TotalAmount.String(), "status", o.Status)
	return o, "confirmed", nil
}

// snapshot reads every product concurrently. Any failure, including a
// product that has since disappeared, is reported as catalog unavailable.
func (s *Service) snapshot(ctx context.Context, items []cart.Line) ([]catalog.Product, error) {
	products := make([]catalog.Product, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, it := range items {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.catalogTimeout)
			defer cancel()
			p, err := s.catalog.GetProduct(cctx, it.ProductID)
			if err != nil {
				if errors.Is(err, catalog.ErrCatalogUnavailable) {
					return err
				}
				return catalog.Unavailable(fmt.Errorf("product %s: %w", it.ProductID, err))
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

// reserve decrements stock for every line. On failure the lines already
// decremented are restored in reverse order before returning.
func (s *Service) reserve(ctx context.Context, o domain.Order) error {
	for i, line := range o.Items {
		err := s.adjust(ctx, line, catalog.Decrease)
		if err == nil {
			continue
		}
		s.compensate(ctx, o, o.Items[:i])
		switch apperr.KindOf(err) {
		case apperr.KindInsufficientStock:
			return catalog.InsufficientStock(line.Name)
		case apperr.KindUpstreamUnavailable:
			return err
		default:
			return catalog.Unavailable(err)
		}
	}
	return nil
}

func (s *Service) compensate(ctx context.Context, o domain.Order, taken []domain.Line) {
	for i := len(taken) - 1; i >= 0; i-- {
		line := taken[i]
		if err := s.adjust(ctx, line, catalog.Increase); err != nil {
			s.log.Error("restore stock", "order_id", o.ID, "product_id", line.ProductID, "quantity", line.Quantity, "err", err)
		}
	}
}

func (s *Service) adjust(ctx context.Context, line domain.Line, op catalog.StockOperation) error {
	ctx, cancel := context.WithTimeout(ctx, s.catalogTimeout)
	defer cancel()
	_, err := s.catalog.AdjustStock(ctx, line.ProductID, line.Quantity, op)
	return err
}

func (s *Service) fail(ctx context.Context, o *domain.Order, cause error) {
	o.SetStatus(domain.StatusFailed, s.now())
	ev, err := newEvent(ctx, domain.EventOrderFailed, domain.OrderFailed{OrderID: o.ID, UserID: o.UserID, Reason: cause.Error()})
	if err == nil {
		err = s.repo.Update(ctx, *o, ev)
	}
	if err != nil {
		s.log.Error("mark order failed", "order_id", o.ID, "err", err)
		return
	}
	s.log.Warn("order failed", "order_id", o.ID, "user_id", o.UserID, "reason", cause)
}

func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (domain.Order, error) {
	return s.repo.FindByID(ctx, orderID, userID)
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

// UpdateStatus moves an order owned by userID to status, subject to the
// configured StatusPolicy.
func (s *Service) UpdateStatus(ctx context.Context, orderID, userID, status string) (domain.Order, error) {
	to, err := domain.ParseStatus(status)
	if err != nil {
		return domain.Order{}, err
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	o, err := s.repo.FindByID(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	from := o.Status
	if !s.policy.Allow(from, to) {
		return domain.Order{}, apperr.Invalid(fmt.Sprintf("cannot change order status from %s to %s", from, to))
	}

	o.SetStatus(to, s.now())
	ev, err := newEvent(ctx, domain.EventOrderStatusChanged, domain.OrderStatusChanged{
		OrderID: o.ID, UserID: o.UserID, From: from, To: to,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.Update(ctx, o, ev); err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}

	s.notify(ctx, notification.Notification{
		Type:    notification.TypeOrderStatusUpdated,
		UserID:  userID,
		OrderID: o.ID,
		Message: fmt.Sprintf("Your order %s is now %s", o.ID, to),
	})
	s.log.Info("order status updated", "order_id", o.ID, "from", from, "to", to)
	return o, nil
}

// ApplyPayment records the payment outcome reported by the payment
// service. Repeating the current status is a no-op.
func (s *Service) ApplyPayment(ctx context.Context, orderID, userID string, ps domain.PaymentStatus) (domain.Order, error) {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	o, err := s.repo.FindByID(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.PaymentStatus == ps {
		return o, nil
	}
	from := o.PaymentStatus
	o.SetPaymentStatus(ps, s.now())
	ev, err := newEvent(ctx, domain.EventPaymentStatusChanged, domain.PaymentStatusChanged{
		OrderID: o.ID, UserID: o.UserID, From: from, To: ps,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.Update(ctx, o, ev); err != nil {
		return domain.Order{}, fmt.Errorf("update payment status: %w", err)
	}
	s.log.Info("payment status updated", "order_id", o.ID, "from", from, "to", ps)
	return o, nil
}

func (s *Service) notify(ctx context.Context, n notification.Notification) {
	s.effects.Go(ctx, "notify_"+n.Type, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, n)
	})
}

func newEvent(ctx context.Context, eventType string, v any) (Event, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Event{Type: eventType, Payload: payload, Traceparent: tracing.Traceparent(ctx)}, nil
}
