package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	cartapp "github.com/dmehra2102/storefront/internal/cart/application"
	cartmem "github.com/dmehra2102/storefront/internal/cart/infrastructure/memory"
	cartredis "github.com/dmehra2102/storefront/internal/cart/infrastructure/redis"
	cataloghttp "github.com/dmehra2102/storefront/internal/catalog/infrastructure/http"
	catalogmem "github.com/dmehra2102/storefront/internal/catalog/infrastructure/memory"
	notifyamqp "github.com/dmehra2102/storefront/internal/notification/infrastructure/amqp"
	notifyhttp "github.com/dmehra2102/storefront/internal/notification/infrastructure/http"
	"github.com/dmehra2102/storefront/internal/notification/infrastructure/logsink"
	"github.com/dmehra2102/storefront/internal/order/application"
	orderdynamo "github.com/dmehra2102/storefront/internal/order/infrastructure/dynamodb"
	orderhttp "github.com/dmehra2102/storefront/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/storefront/internal/order/infrastructure/kafka"
	ordermem "github.com/dmehra2102/storefront/internal/order/infrastructure/memory"
	orderpg "github.com/dmehra2102/storefront/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/storefront/pkg/config"
	"github.com/dmehra2102/storefront/pkg/idempotency"
)

type stores struct {
	orders application.OrderRepository
	outbox *orderpg.OutboxStore
	carts  cartapp.CartRepository
	idem   orderhttp.IdempotencyStore
	dedupe orderkafka.Deduper

	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.OrderStore {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PGURL)
		if err != nil {
			return nil, fmt.Errorf("pg connect: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		if err := orderpg.Migrate(ctx, pool); err != nil {
			st.Close()
			return nil, fmt.Errorf("pg migrate: %w", err)
		}
		st.orders = orderpg.NewRepository(log, pool)
		st.outbox = orderpg.NewOutboxStore(log, pool)
	case "dynamodb":
		client, err := orderdynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, fmt.Errorf("dynamodb client: %w", err)
		}
		st.orders = orderdynamo.NewRepository(log, client, cfg.DynamoTable)
	case "memory":
		st.orders = ordermem.NewRepository()
	default:
		return nil, fmt.Errorf("unknown ORDER_STORE %q", cfg.OrderStore)
	}
	log.Info("order store", "kind", cfg.OrderStore)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			st.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st.closers = append(st.closers, func() { _ = rdb.Close() })
		st.carts = cartredis.NewRepository(log, rdb, cfg.CartTTL)
		idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)
		st.idem, st.dedupe = idem, idem
	} else {
		log.Warn("REDIS_ADDR not set; carts and idempotency keys are kept in memory")
		st.carts = cartmem.NewRepository()
		idem := idempotency.NewMemoryStore(cfg.IdempotencyTTL)
		st.idem, st.dedupe = idem, idem
	}
	return st, nil
}

type catalogClient interface {
	cartapp.ProductReader
	application.Catalog
}

func newCatalog(cfg config.Config, log *slog.Logger) catalogClient {
	if cfg.CatalogURL == "" {
		log.Warn("CATALOG_URL not set; using an empty in-memory catalog")
		return catalogmem.NewCatalog()
	}
	return cataloghttp.NewClient(log, cfg.CatalogURL, cfg.CatalogTimeout)
}

func newNotifier(cfg config.Config, log *slog.Logger) (application.Notifier, func(), error) {
	switch cfg.NotifyTransport {
	case "http":
		return notifyhttp.NewClient(log, cfg.NotifyURL, cfg.NotifyTimeout), func() {}, nil
	case "amqp":
		p, err := notifyamqp.Dial(log, cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case "log", "":
		return logsink.NewNotifier(log), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown NOTIFY_TRANSPORT %q", cfg.NotifyTransport)
	}
}
