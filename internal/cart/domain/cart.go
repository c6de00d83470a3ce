package domain

import (
	"fmt"
	"time"

	"github.com/dmehra2102/storefront/pkg/apperr"
)

// MaxQuantity caps a single line.
const MaxQuantity = 9999

var (
	ErrInvalidQuantity = apperr.Invalid(fmt.Sprintf("quantity must be between 1 and %d", MaxQuantity))
	ErrItemNotFound    = apperr.NotFound("CartItemNotFound", "item not in cart")
)

type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart holds at most one line per product.
type Cart struct {
	UserID    string    `json:"userId"`
	Items     []Line    `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c Cart) index(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// Add increments an existing line or appends a new one.
func (c *Cart) Add(productID string, quantity int) error {
	if quantity < 1 || quantity > MaxQuantity {
		return ErrInvalidQuantity
	}
	if i := c.index(productID); i >= 0 {
		if c.Items[i].Quantity > MaxQuantity-quantity {
			return ErrInvalidQuantity
		}
		c.Items[i].Quantity += quantity
	} else {
		c.Items = append(c.Items, Line{ProductID: productID, Quantity: quantity})
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// SetQuantity overwrites a line's quantity; zero removes the line.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	if quantity < 0 || quantity > MaxQuantity {
		return ErrInvalidQuantity
	}
	if quantity == 0 {
		return c.Remove(productID)
	}
	i := c.index(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items[i].Quantity = quantity
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *Cart) Remove(productID string) error {
	i := c.index(productID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.UpdatedAt = time.Now().UTC()
	return nil
}
