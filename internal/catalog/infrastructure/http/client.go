package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/dmehra2102/storefront/internal/catalog/domain"
)

// Client talks to the product service over HTTP.
type Client struct {
	log     *slog.Logger
	baseURL string
	hc      *http.Client
}

func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

type productDTO struct {
	ID      string          `json:"id"`
	MongoID string          `json:"_id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Stock   int             `json:"stock"`
	Image   string          `json:"image"`
}

func (p productDTO) toDomain() domain.Product {
	id := p.ID
	if id == "" {
		id = p.MongoID
	}
	return domain.Product{ID: id, Name: p.Name, Price: p.Price, Stock: p.Stock, Image: p.Image}
}

type stockReq struct {
	Quantity  int    `json:"quantity"`
	Operation string `json:"operation"`
}

func (c *Client) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var p productDTO
	status, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, &p)
	if err != nil {
		return domain.Product{}, domain.Unavailable(err)
	}
	switch {
	case status == http.StatusNotFound:
		return domain.Product{}, domain.ErrProductNotFound
	case status >= 200 && status < 300:
		return p.toDomain(), nil
	default:
		return domain.Product{}, domain.Unavailable(fmt.Errorf("get product %s: status %d", productID, status))
	}
}

func (c *Client) AdjustStock(ctx context.Context, productID string, quantity int, op domain.StockOperation) (int, error) {
	var p productDTO
	status, err := c.do(ctx, http.MethodPatch, "/products/"+url.PathEscape(productID)+"/stock",
		stockReq{Quantity: quantity, Operation: string(op)}, &p)
	if err != nil {
		return 0, domain.Unavailable(err)
	}
	switch {
	case status == http.StatusNotFound:
		return 0, domain.ErrProductNotFound
	case (status == http.StatusBadRequest || status == http.StatusConflict) && op == domain.Decrease:
		return 0, domain.ErrInsufficientStock
	case status >= 200 && status < 300:
		return p.Stock, nil
	default:
		return 0, domain.Unavailable(fmt.Errorf("adjust stock %s: status %d", productID, status))
	}
}

// do sends body as JSON and decodes a 2xx response into out. Non-2xx
// statuses are returned without error so callers can map them.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		c.log.Warn("catalog error response", "method", method, "path", path, "status", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
