package domain

import (
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/storefront/pkg/apperr"
)

// Product is the catalog's view of an item at the moment it was read.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
	Image string
}

type StockOperation string

const (
	Increase StockOperation = "increase"
	Decrease StockOperation = "decrease"
)

var (
	ErrProductNotFound    = apperr.NotFound("ProductNotFound", "product not found")
	ErrInsufficientStock  = apperr.New(apperr.KindInsufficientStock, "InsufficientStock", "insufficient stock")
	ErrCatalogUnavailable = apperr.New(apperr.KindUpstreamUnavailable, "CatalogUnavailable", "catalog unavailable")
)

// InsufficientStock names the product whose stock ran out.
func InsufficientStock(productName string) error {
	return apperr.New(apperr.KindInsufficientStock, "InsufficientStock", "insufficient stock for "+productName)
}

// Unavailable wraps a transport failure as ErrCatalogUnavailable.
func Unavailable(err error) error {
	return apperr.Wrap(apperr.KindUpstreamUnavailable, "CatalogUnavailable", "catalog unavailable", err)
}
