package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	cartapp "github.com/dmehra2102/storefront/internal/cart/application"
	carthttp "github.com/dmehra2102/storefront/internal/cart/infrastructure/http"
	"github.com/dmehra2102/storefront/internal/order/application"
	"github.com/dmehra2102/storefront/internal/order/infrastructure/adapter"
	ordergrpc "github.com/dmehra2102/storefront/internal/order/infrastructure/grpc"
	orderhttp "github.com/dmehra2102/storefront/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/storefront/internal/order/infrastructure/kafka"
	"github.com/dmehra2102/storefront/pkg/config"
	"github.com/dmehra2102/storefront/pkg/httpx"
	"github.com/dmehra2102/storefront/pkg/keylock"
	"github.com/dmehra2102/storefront/pkg/logging"
	"github.com/dmehra2102/storefront/pkg/metrics"
	"github.com/dmehra2102/storefront/pkg/outbox"
	"github.com/dmehra2102/storefront/pkg/shutdown"
	"github.com/dmehra2102/storefront/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.Options{Service: "order-service"}).Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(logging.Options{
		Service:   "order-service",
		Env:       cfg.AppEnv,
		Level:     cfg.LogLevel,
		AddSource: cfg.AppEnv != "prod",
	})
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Stores
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("store setup failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	catalog := newCatalog(cfg, log)
	notifier, closeNotifier, err := newNotifier(cfg, log)
	if err != nil {
		log.Error("notifier setup failed", "err", err)
		os.Exit(1)
	}
	defer closeNotifier()

	policy, err := application.ParsePolicy(cfg.OrderStatusPolicy)
	if err != nil {
		log.Error("invalid status policy", "err", err)
		os.Exit(1)
	}

	// Services share one per-user lock so cart edits never interleave
	// with a checkout.
	locks := keylock.New()
	effects := application.NewSideEffects(log, m, cfg.NotifyTimeout)
	cartSvc := cartapp.NewService(log, st.carts, catalog, locks, cfg.CatalogTimeout)
	orderSvc := application.NewService(log, st.orders, catalog, adapter.NewCartStore(st.carts), notifier,
		locks, effects, m, application.Options{
			CatalogTimeout: cfg.CatalogTimeout,
			Concurrency:    cfg.CheckoutConcurrency,
			Policy:         policy,
		})
	log.Info("order status policy", "policy", policy.Name())

	// Kafka: outbox relay and payment events
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		if st.outbox != nil {
			writer := orderkafka.NewWriter(brokers)
			defer writer.Close()
			dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
			relay := outbox.NewRelay(log, st.outbox, dispatch, "order-service-relay")
			go func() {
				if err := relay.Run(ctx); err != nil {
					log.Error("relay stopped with error", "err", err)
				}
			}()
		}
		consumer := orderkafka.NewPaymentConsumer(log, brokers, cfg.PaymentTopic, cfg.PaymentGroup, orderSvc, st.dedupe)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("payment consumer stopped with error", "err", err)
			}
		}()
	} else {
		log.Warn("KAFKA_BROKERS not set; outbox relay and payment consumer disabled")
	}

	// HTTP
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, m.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	r.Mount("/cart", carthttp.NewHandler(log, cartSvc).Routes())
	r.Mount("/orders", orderhttp.NewHandler(log, orderSvc, st.idem).Routes())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// gRPC health
	health := ordergrpc.NewServer()
	if err := ordergrpc.Run(log, cfg.GRPCAddr, health); err != nil {
		log.Error("grpc listen failed", "err", err)
		os.Exit(1)
	}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()
	health.SetServing(true)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	health.SetServing(false)
	_ = srv.Shutdown(shutdownCtx)
	health.Stop()
	if err := effects.Wait(shutdownCtx); err != nil {
		log.Warn("side effects still running at shutdown", "err", err)
	}
	log.Info("order-service shutdown complete")
}
