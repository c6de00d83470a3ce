package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dmehra2102/storefront/pkg/apperr"
)

const UserHeader = "X-User-ID"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation, apperr.KindInsufficientStock:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as a structured error body. Errors without a kind
// are logged and reported as a generic internal error.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		log.Error("request failed", "err", err)
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Kind:    apperr.KindInternal,
			Message: "internal error",
		}})
		return
	}
	if e.Kind == apperr.KindUpstreamUnavailable {
		log.Warn("upstream unavailable", "code", e.Code, "err", err)
	}
	WriteJSON(w, StatusFor(e.Kind), errorBody{Error: errorDetail{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
	}})
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("invalid body")
	}
	return nil
}

// UserID returns the caller identity set by the gateway after token
// verification.
func UserID(r *http.Request) (string, error) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		return "", apperr.Unauthorized("missing user identity")
	}
	return id, nil
}
