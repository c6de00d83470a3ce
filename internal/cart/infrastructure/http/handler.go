package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront/internal/cart/application"
	"github.com/dmehra2102/storefront/pkg/apperr"
	"github.com/dmehra2102/storefront/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("cart-http"),
	}
}

type addItemReq struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type updateItemReq struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/add", h.addItem)
	r.Put("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
	return r
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetCart")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	view, err := h.service.View(ctx, userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddCartItem")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req addItemReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(w, h.log, apperr.Invalid("productId is required"))
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	if _, err := h.service.AddItem(ctx, userID, req.ProductID, qty); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.writeView(ctx, w, userID)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateCartItem")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	var req updateItemReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(w, h.log, apperr.Invalid("quantity is required"))
		return
	}
	if _, err := h.service.UpdateItem(ctx, userID, chi.URLParam(r, "productID"), *req.Quantity); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.writeView(ctx, w, userID)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RemoveCartItem")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if _, err := h.service.RemoveItem(ctx, userID, chi.URLParam(r, "productID")); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	h.writeView(ctx, w, userID)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ClearCart")
	defer span.End()

	userID, err := httpx.UserID(r)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	if err := h.service.Clear(ctx, userID); err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeView(ctx context.Context, w http.ResponseWriter, userID string) {
	view, err := h.service.View(ctx, userID)
	if err != nil {
		httpx.WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}
