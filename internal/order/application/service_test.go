package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	cart "github.com/dmehra2102/storefront/internal/cart/domain"
	cartmem "github.com/dmehra2102/storefront/internal/cart/infrastructure/memory"
	catalog "github.com/dmehra2102/storefront/internal/catalog/domain"
	catalogmem "github.com/dmehra2102/storefront/internal/catalog/infrastructure/memory"
	notification "github.com/dmehra2102/storefront/internal/notification/domain"
	"github.com/dmehra2102/storefront/internal/order/application"
	"github.com/dmehra2102/storefront/internal/order/domain"
	"github.com/dmehra2102/storefront/internal/order/infrastructure/adapter"
	ordermem "github.com/dmehra2102/storefront/internal/order/infrastructure/memory"
	"github.com/dmehra2102/storefront/pkg/apperr"
	"github.com/dmehra2102/storefront/pkg/keylock"
	"github.com/dmehra2102/storefront/pkg/metrics"
)

var testAddr = domain.Address{Street: "1 Main St", City: "Springfield", Country: "US"}

// flakyCatalog wraps the in-memory catalog and injects failures.
type flakyCatalog struct {
	*catalogmem.Catalog
	getErr    error
	adjustErr map[string]error
}

func (f *flakyCatalog) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	if f.getErr != nil {
		return catalog.Product{}, f.getErr
	}
	return f.Catalog.GetProduct(ctx, id)
}

func (f *flakyCatalog) AdjustStock(ctx context.Context, id string, qty int, op catalog.StockOperation) (int, error) {
	if err, ok := f.adjustErr[id]; ok && op == catalog.Decrease {
		return 0, err
	}
	return f.Catalog.AdjustStock(ctx, id, qty, op)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, msg notification.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Type)
	}
	return out
}

type fixture struct {
	svc      *application.Service
	orders   *ordermem.Repository
	carts    *cartmem.Repository
	catalog  *flakyCatalog
	notifier *recordingNotifier
	effects  *application.SideEffects
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, policy application.StatusPolicy, products ...catalog.Product) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		orders:   ordermem.NewRepository(),
		carts:    cartmem.NewRepository(),
		catalog:  &flakyCatalog{Catalog: catalogmem.NewCatalog(products...), adjustErr: map[string]error{}},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.effects = application.NewSideEffects(log, f.metrics, time.Second)
	f.svc = application.NewService(log, f.orders, f.catalog, adapter.NewCartStore(f.carts), f.notifier,
		keylock.New(), f.effects, f.metrics, application.Options{CatalogTimeout: time.Second, Policy: policy})
	return f
}

func (f *fixture) addToCart(t *testing.T, userID, productID string, qty int) {
	t.Helper()
	c, _ := f.carts.Get(context.Background(), userID)
	if err := c.Add(productID, qty); err != nil {
		t.Fatal(err)
	}
	if err := f.carts.Save(context.Background(), c); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.effects.Wait(ctx); err != nil {
		t.Fatalf("side effects did not finish: %v", err)
	}
}

func product(id, price string, stock int) catalog.Product {
	return catalog.Product{ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price), Stock: stock, Image: id + ".png"}
}

// A checkout that reserves every line confirms the order before returning;
// payment stays pending until the payment service reports back.
func TestCreateOrder_Success(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 2)

	o, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !o.TotalAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected total 20, got %s", o.TotalAmount)
	}
	if o.Status != domain.StatusConfirmed || o.PaymentStatus != domain.PaymentPending {
		t.Fatalf("unexpected status %s/%s", o.Status, o.PaymentStatus)
	}
	if got := f.catalog.Stock("p1"); got != 3 {
		t.Fatalf("expected stock 3, got %d", got)
	}
	if c, _ := f.carts.Get(context.Background(), "u1"); !c.IsEmpty() {
		t.Fatalf("cart should be empty, got %+v", c.Items)
	}

	stored, err := f.svc.GetOrder(context.Background(), o.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusConfirmed || stored.Items[0].Name != "Product p1" {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if n := len(f.orders.Events(domain.EventOrderCreated)); n != 1 {
		t.Fatalf("expected one OrderCreated event, got %d", n)
	}
	if n := len(f.orders.Events(domain.EventOrderConfirmed)); n != 1 {
		t.Fatalf("expected one OrderConfirmed event, got %d", n)
	}

	f.drain(t)
	if got := f.notifier.types(); len(got) != 1 || got[0] != notification.TypeOrderCreated {
		t.Fatalf("unexpected notifications %v", got)
	}
	if v := testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues("confirmed")); v != 1 {
		t.Fatalf("expected one confirmed checkout, got %v", v)
	}
}

func TestCreateOrder_SnapshotsLines(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 1)

	o, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if err != nil {
		t.Fatal(err)
	}
	f.catalog.Put(product("p1", "99", 5))

	stored, _ := f.svc.GetOrder(context.Background(), o.ID, "u1")
	if !stored.Items[0].Price.Equal(decimal.NewFromInt(10)) || !stored.TotalAmount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("catalog price change leaked into order: %+v", stored)
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 10)

	_, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if apperr.KindOf(err) != apperr.KindInsufficientStock {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}
	if got := f.catalog.Stock("p1"); got != 5 {
		t.Fatalf("stock changed to %d", got)
	}
	c, _ := f.carts.Get(context.Background(), "u1")
	if len(c.Items) != 1 || c.Items[0].Quantity != 10 {
		t.Fatalf("cart changed: %+v", c.Items)
	}
	if orders, _ := f.svc.ListOrders(context.Background(), "u1"); len(orders) != 0 {
		t.Fatalf("no order should exist, got %d", len(orders))
	}
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))

	_, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if len(f.orders.Events("")) != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestCreateOrder_RejectsCorruptCartLine(t *testing.T) {
	for _, qty := range []int{-2, 0, cart.MaxQuantity + 1} {
		f := newFixture(t, nil, product("p1", "10", 5))
		bad := cart.Cart{UserID: "u1", Items: []cart.Line{{ProductID: "p1", Quantity: qty}}}
		if err := f.carts.Save(context.Background(), bad); err != nil {
			t.Fatal(err)
		}

		_, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("quantity %d: expected validation error, got %v", qty, err)
		}
		if got := f.catalog.Stock("p1"); got != 5 {
			t.Fatalf("quantity %d: stock changed to %d", qty, got)
		}
		if len(f.orders.Events("")) != 0 {
			t.Fatalf("quantity %d: nothing should be persisted", qty)
		}
	}
}

func TestCreateOrder_InvalidAddress(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 1)

	_, err := f.svc.CreateOrder(context.Background(), "u1", domain.Address{City: "Springfield"})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateOrder_CatalogFailuresBeforePersist(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"catalog down", func(f *fixture) { f.catalog.getErr = catalog.Unavailable(errors.New("dial tcp: refused")) }},
		{"unexpected error", func(f *fixture) { f.catalog.getErr = errors.New("boom") }},
		{"product delisted", func(f *fixture) { f.catalog.Catalog = catalogmem.NewCatalog() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, product("p1", "10", 5))
			f.addToCart(t, "u1", "p1", 1)
			tc.setup(f)

			_, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
			if !errors.Is(err, catalog.ErrCatalogUnavailable) {
				t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
			}
			if len(f.orders.Events("")) != 0 {
				t.Fatalf("no order should be persisted")
			}
			if c, _ := f.carts.Get(context.Background(), "u1"); c.IsEmpty() {
				t.Fatalf("cart should be kept")
			}
		})
	}
}

func TestCreateOrder_DecrementFailureCompensates(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5), product("p2", "3", 5), product("p3", "1", 5))
	f.addToCart(t, "u1", "p1", 2)
	f.addToCart(t, "u1", "p2", 1)
	f.addToCart(t, "u1", "p3", 4)
	f.catalog.adjustErr["p3"] = catalog.Unavailable(errors.New("timeout"))

	_, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if !errors.Is(err, catalog.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		if got := f.catalog.Stock(id); got != 5 {
			t.Fatalf("stock for %s is %d after compensation", id, got)
		}
	}

	orders, _ := f.svc.ListOrders(context.Background(), "u1")
	if len(orders) != 1 || orders[0].Status != domain.StatusFailed {
		t.Fatalf("expected a single failed order, got %+v", orders)
	}
	if n := len(f.orders.Events(domain.EventOrderFailed)); n != 1 {
		t.Fatalf("expected one OrderFailed event, got %d", n)
	}
	if c, _ := f.carts.Get(context.Background(), "u1"); len(c.Items) != 3 {
		t.Fatalf("cart should be kept for retry, got %+v", c.Items)
	}
	f.drain(t)
	if len(f.notifier.types()) != 0 {
		t.Fatalf("failed checkout must not notify")
	}
}

func TestCreateOrder_LostStockRaceIsAuthoritative(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 2)
	f.catalog.adjustErr["p1"] = catalog.ErrInsufficientStock

	_, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if apperr.KindOf(err) != apperr.KindInsufficientStock {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}
	orders, _ := f.svc.ListOrders(context.Background(), "u1")
	if len(orders) != 1 || orders[0].Status != domain.StatusFailed {
		t.Fatalf("expected a failed order, got %+v", orders)
	}
}

func TestCreateOrder_CancelledBeforePersist(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.CreateOrder(ctx, "u1", testAddr); err == nil {
		t.Fatalf("expected error for cancelled request")
	}
	if orders, _ := f.svc.ListOrders(context.Background(), "u1"); len(orders) != 0 {
		t.Fatalf("no order may exist, got %d", len(orders))
	}
	if got := f.catalog.Stock("p1"); got != 5 {
		t.Fatalf("stock changed to %d", got)
	}
}

func TestCreateOrder_NotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 1)
	f.notifier.err = errors.New("smtp down")

	if _, err := f.svc.CreateOrder(context.Background(), "u1", testAddr); err != nil {
		t.Fatalf("notification failure leaked: %v", err)
	}
	f.drain(t)
	if v := testutil.ToFloat64(f.metrics.SideEffectFailure.WithLabelValues("notify_order_created")); v != 1 {
		t.Fatalf("expected one counted failure, got %v", v)
	}
}

func TestCreateOrder_ConcurrentCheckoutsSameUser(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 50))
	f.addToCart(t, "u1", "p1", 2)

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(context.Background(), "u1", testAddr)
		}()
	}
	wg.Wait()

	var ok, empty int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrEmptyCart):
			empty++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || empty != n-1 {
		t.Fatalf("expected 1 order and %d empty carts, got %d/%d", n-1, ok, empty)
	}
	if got := f.catalog.Stock("p1"); got != 48 {
		t.Fatalf("expected stock 48, got %d", got)
	}
}

func TestGetOrder_ScopedToOwner(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 1)
	o, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.GetOrder(context.Background(), o.ID, "u2"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for another user, got %v", err)
	}
	if _, err := f.svc.UpdateStatus(context.Background(), o.ID, "u2", "cancelled"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on update by another user, got %v", err)
	}
}

func TestListOrders_NewestFirst(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 50))
	var ids []string
	for range 3 {
		f.addToCart(t, "u1", "p1", 1)
		o, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, o.ID)
		time.Sleep(2 * time.Millisecond)
	}

	orders, err := f.svc.ListOrders(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 3 || orders[0].ID != ids[2] || orders[2].ID != ids[0] {
		t.Fatalf("unexpected order %v", orders)
	}
}

func TestUpdateStatus(t *testing.T) {
	create := func(t *testing.T, f *fixture) domain.Order {
		t.Helper()
		f.addToCart(t, "u1", "p1", 1)
		o, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
		if err != nil {
			t.Fatal(err)
		}
		return o
	}

	t.Run("permissive allows going backwards", func(t *testing.T) {
		f := newFixture(t, application.Permissive{}, product("p1", "10", 5))
		o := create(t, f)
		if _, err := f.svc.UpdateStatus(context.Background(), o.ID, "u1", "delivered"); err != nil {
			t.Fatal(err)
		}
		got, err := f.svc.UpdateStatus(context.Background(), o.ID, "u1", "pending")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.StatusPending {
			t.Fatalf("expected pending, got %s", got.Status)
		}
		f.drain(t)
		var updates int
		for _, typ := range f.notifier.types() {
			if typ == notification.TypeOrderStatusUpdated {
				updates++
			}
		}
		if updates != 2 {
			t.Fatalf("expected two status notifications, got %d", updates)
		}
		if n := len(f.orders.Events(domain.EventOrderStatusChanged)); n != 2 {
			t.Fatalf("expected two status events, got %d", n)
		}
	})

	t.Run("lifecycle rejects going backwards", func(t *testing.T) {
		f := newFixture(t, application.Lifecycle{}, product("p1", "10", 5))
		o := create(t, f)
		if _, err := f.svc.UpdateStatus(context.Background(), o.ID, "u1", "shipped"); err != nil {
			t.Fatal(err)
		}
		_, err := f.svc.UpdateStatus(context.Background(), o.ID, "u1", "pending")
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
		stored, _ := f.svc.GetOrder(context.Background(), o.ID, "u1")
		if stored.Status != domain.StatusShipped {
			t.Fatalf("status should be unchanged, got %s", stored.Status)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t, nil, product("p1", "10", 5))
		o := create(t, f)
		_, err := f.svc.UpdateStatus(context.Background(), o.ID, "u1", "teleported")
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		f := newFixture(t, nil, product("p1", "10", 5))
		_, err := f.svc.UpdateStatus(context.Background(), "nope", "u1", "shipped")
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestApplyPayment(t *testing.T) {
	f := newFixture(t, nil, product("p1", "10", 5))
	f.addToCart(t, "u1", "p1", 1)
	o, err := f.svc.CreateOrder(context.Background(), "u1", testAddr)
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.ApplyPayment(context.Background(), o.ID, "u1", domain.PaymentCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentStatus != domain.PaymentCompleted {
		t.Fatalf("expected completed, got %s", got.PaymentStatus)
	}
	if _, err := f.svc.ApplyPayment(context.Background(), o.ID, "u1", domain.PaymentCompleted); err != nil {
		t.Fatal(err)
	}
	if n := len(f.orders.Events(domain.EventPaymentStatusChanged)); n != 1 {
		t.Fatalf("repeated payment status must not emit again, got %d events", n)
	}
}
