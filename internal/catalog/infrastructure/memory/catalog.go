package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/storefront/internal/catalog/domain"
)

// Catalog is an in-process product store whose decrement is an atomic
// check-and-set, the contract the checkout relies on.
type Catalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) Put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, domain.Unavailable(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (c *Catalog) AdjustStock(ctx context.Context, productID string, quantity int, op domain.StockOperation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.Unavailable(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	switch op {
	case domain.Increase:
		p.Stock += quantity
	case domain.Decrease:
		if quantity > p.Stock {
			return 0, domain.ErrInsufficientStock
		}
		p.Stock -= quantity
	}
	c.products[productID] = p
	return p.Stock, nil
}

// Stock is a test helper reporting the current stock of a product.
func (c *Catalog) Stock(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.products[productID].Stock
}
