//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	cartdomain "github.com/dmehra2102/storefront/internal/cart/domain"
	cartredis "github.com/dmehra2102/storefront/internal/cart/infrastructure/redis"
	catalog "github.com/dmehra2102/storefront/internal/catalog/domain"
	catalogmem "github.com/dmehra2102/storefront/internal/catalog/infrastructure/memory"
	"github.com/dmehra2102/storefront/internal/notification/infrastructure/logsink"
	"github.com/dmehra2102/storefront/internal/order/application"
	"github.com/dmehra2102/storefront/internal/order/domain"
	"github.com/dmehra2102/storefront/internal/order/infrastructure/adapter"
	orderkafka "github.com/dmehra2102/storefront/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/storefront/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/storefront/pkg/idempotency"
	"github.com/dmehra2102/storefront/pkg/keylock"
	"github.com/dmehra2102/storefront/pkg/outbox"
)

var (
	env  *Env
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error
	env, err = Setup(ctx)
	if err != nil {
		slog.Error("integration setup failed", "err", err)
		os.Exit(1)
	}
	pool, err = pgxpool.New(ctx, env.PGURL)
	if err == nil {
		err = orderpg.Migrate(ctx, pool)
	}
	if err != nil {
		slog.Error("postgres setup failed", "err", err)
		env.Teardown(ctx)
		os.Exit(1)
	}
	rdb = redis.NewClient(&redis.Options{Addr: env.RedisAddr})

	code := m.Run()

	_ = rdb.Close()
	pool.Close()
	env.Teardown(ctx)
	os.Exit(code)
}

func sampleOrder(id, userID string, created time.Time) domain.Order {
	lines := []domain.Line{
		domain.NewLine("p1", "Mug", decimal.RequireFromString("10.00"), 2, "mug.png"),
		domain.NewLine("p2", "Pen", decimal.RequireFromString("1.25"), 1, ""),
	}
	return domain.NewOrder(id, userID, lines, domain.Address{Street: "1 Main", City: "Springfield", Country: "US"}, created)
}

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()
	repo := orderpg.NewRepository(log, pool)
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, id := range []string{"pg-a", "pg-b"} {
		o := sampleOrder(id, "pg-user", base.Add(time.Duration(i)*time.Second))
		if err := repo.Save(ctx, o, application.Event{Type: domain.EventOrderCreated, Payload: []byte(`{"orderId":"` + id + `"}`)}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := repo.FindByID(ctx, "pg-a", "pg-user")
	if err != nil {
		t.Fatal(err)
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("21.25")) || len(got.Items) != 2 || got.Items[0].ProductID != "p1" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got.ShippingAddress.City != "Springfield" {
		t.Fatalf("address lost: %+v", got.ShippingAddress)
	}

	if _, err := repo.FindByID(ctx, "pg-a", "someone-else"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	got.SetStatus(domain.StatusShipped, time.Now())
	if err := repo.Update(ctx, got, application.Event{Type: domain.EventOrderStatusChanged, Payload: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}

	orders, err := repo.ListByUser(ctx, "pg-user")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 || orders[0].ID != "pg-b" || orders[1].Status != domain.StatusShipped {
		t.Fatalf("unexpected list %+v", orders)
	}
}

func TestOutboxRelayPublishesToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	topic := "order.events.test"
	repo := orderpg.NewRepository(log, pool)
	o := sampleOrder("relay-1", "relay-user", time.Now())
	if err := repo.Save(ctx, o, application.Event{Type: domain.EventOrderCreated, Payload: []byte(`{"orderId":"relay-1"}`)}); err != nil {
		t.Fatal(err)
	}

	writer := orderkafka.NewWriter(env.KAddr)
	defer writer.Close()
	relay := outbox.NewRelay(log, orderpg.NewOutboxStore(log, pool), outbox.NewDispatcher(log, writer, topic), "test-relay")

	sent := 0
	for sent == 0 && ctx.Err() == nil {
		n, err := relay.RunOnce(ctx)
		if err != nil {
			t.Logf("relay: %v", err)
			time.Sleep(time.Second)
			continue
		}
		sent += n
	}
	if sent == 0 {
		t.Fatalf("relay sent nothing")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: env.KAddr, Topic: topic, StartOffset: kafka.FirstOffset})
	defer reader.Close()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(msg.Key) != "relay-1" {
			continue
		}
		for _, h := range msg.Headers {
			if h.Key == "event_type" && string(h.Value) == domain.EventOrderCreated {
				return
			}
		}
		t.Fatalf("event_type header missing: %+v", msg.Headers)
	}
}

func TestRedisCartAndIdempotency(t *testing.T) {
	ctx := context.Background()
	carts := cartredis.NewRepository(log, rdb, time.Hour)

	c := cartdomain.Cart{UserID: "redis-user"}
	_ = c.Add("p1", 2)
	if err := carts.Save(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, err := carts.Get(ctx, "redis-user")
	if err != nil || len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart %+v (%v)", got, err)
	}
	if err := carts.Delete(ctx, "redis-user"); err != nil {
		t.Fatal(err)
	}
	if got, _ := carts.Get(ctx, "redis-user"); !got.IsEmpty() {
		t.Fatalf("cart should be gone")
	}

	idem := idempotency.NewStore(rdb, time.Minute)
	key := idempotency.RequestKey("orders", "redis-user", "k1")
	if _, ok, err := idem.Claim(ctx, key); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if v, ok, _ := idem.Claim(ctx, key); ok || v != idempotency.InFlight {
		t.Fatalf("second claim should see in-flight, got %q ok=%v", v, ok)
	}
	if err := idem.Complete(ctx, key, "order-1"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := idem.Claim(ctx, key); v != "order-1" {
		t.Fatalf("expected stored result, got %q", v)
	}
}

func TestCheckoutWithPostgresAndRedis(t *testing.T) {
	ctx := context.Background()
	carts := cartredis.NewRepository(log, rdb, time.Hour)
	cat := catalogmem.NewCatalog(catalog.Product{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(10), Stock: 5})
	effects := application.NewSideEffects(log, nil, time.Second)
	svc := application.NewService(log, orderpg.NewRepository(log, pool), cat, adapter.NewCartStore(carts),
		logsink.NewNotifier(log), keylock.New(), effects, nil, application.Options{})

	c := cartdomain.Cart{UserID: "e2e-user"}
	_ = c.Add("p1", 2)
	if err := carts.Save(ctx, c); err != nil {
		t.Fatal(err)
	}

	o, err := svc.CreateOrder(ctx, "e2e-user", domain.Address{Street: "1 Main", City: "Springfield", Country: "US"})
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != domain.StatusConfirmed || !o.TotalAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected order %+v", o)
	}
	if cat.Stock("p1") != 3 {
		t.Fatalf("expected stock 3, got %d", cat.Stock("p1"))
	}
	if got, _ := carts.Get(ctx, "e2e-user"); !got.IsEmpty() {
		t.Fatalf("cart should be cleared")
	}
	stored, err := svc.GetOrder(ctx, o.ID, "e2e-user")
	if err != nil || stored.Status != domain.StatusConfirmed {
		t.Fatalf("stored order %+v (%v)", stored, err)
	}
	_ = effects.Wait(ctx)
}
