package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront/internal/order/application"
	"github.com/dmehra2102/storefront/internal/order/domain"
	"github.com/dmehra2102/storefront/pkg/apperr"
	"github.com/dmehra2102/storefront/pkg/httpx"
	"github.com/dmehra2102/storefront/pkg/idempotency"
)

const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore remembers which order a client-supplied key produced.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (string, bool, error)
	Complete(ctx context.Context, key, result string) error
	Release(ctx context.Context, key string) error
}

type Handler struct {
	log     *slog.Logger
	service *application.Service
	idem    IdempotencyStore
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, idem IdempotencyStore) *Handler {
	return &Handler{
		log:     log,
		service: service,
		idem:    idem,
		tracer:  otel.Tracer("order-http"),
	}
}

type createOrderReq struct {
	ShippingAddress *domain.Address `json:"shippingAddress"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{id}", h.getOrder)
	r.Patch("/{id}/status", h.updateStatus)
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req createOrderReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if req.ShippingAddress == nil {
		httpx.WriteError(w, h.log, apperr.Invalid("shippingAddress is required"))
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	if key != "" && h.idem != nil {
		key = idempotency.RequestKey("orders", userID, key)
		prev, claimed, err := h.idem.Claim(ctx, key)
		if err != nil {
			httpx.WriteError(w, h.log, apperr.Unavailable("IdempotencyUnavailable", "idempotency store unavailable", err))
			return
		}
		if !claimed {
			h.replay(ctx, w, userID, prev)
			return
		}
	} else {
		key = ""
	}

	o, err := h.service.CreateOrder(ctx, userID, *req.ShippingAddress)
	if err != nil {
		if key != "" {
			if rerr := h.idem.Release(context.WithoutCancel(ctx), key); rerr != nil {
				h.log.Warn("release idempotency key", "err", rerr)
			}
		}
		httpx.WriteError(w, h.log, err)
		return
	}
	if key != "" {
		if cerr := h.idem.Complete(context.WithoutCancel(ctx), key, o.ID); cerr != nil {
			h.log.Warn("complete idempotency key", "order_id", o.ID, "err", cerr)
		}
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) replay(ctx context.Context, w http.ResponseWriter, userID, prev string) {
	if prev == idempotency.InFlight {
		httpx.WriteError(w, h.log, apperr.Conflict("RequestInProgress", "a request with this idempotency key is in progress"))
		return
	}
	o, err := h.service.GetOrder(ctx, prev, userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	orders, err := h.service.ListOrders(ctx, userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	o, err := h.service.GetOrder(ctx, chi.URLParam(r, "id"), userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req updateStatusReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	o, err := h.service.UpdateStatus(ctx, chi.URLParam(r, "id"), userID, req.Status)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}
