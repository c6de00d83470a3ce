package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/storefront/pkg/apperr"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

var statuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
	StatusDelivered, StatusCancelled, StatusFailed,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperr.Invalid("unknown order status " + strconv.Quote(s))
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch ps := PaymentStatus(s); ps {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return ps, nil
	}
	return "", apperr.Invalid("unknown payment status " + strconv.Quote(s))
}

var (
	ErrOrderNotFound = apperr.NotFound("OrderNotFound", "order not found")
	ErrEmptyCart     = apperr.New(apperr.KindValidation, "EmptyCart", "cart is empty")
)

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

func (a Address) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return apperr.Invalid("shippingAddress missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Line is a snapshot of the product taken at checkout. Later catalog
// changes never reach it.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewLine snapshots a product at checkout. The price is rounded to cents so
// that price, subtotal and total stay consistent once stored.
func NewLine(productID, name string, price decimal.Decimal, quantity int, image string) Line {
	price = price.Round(2)
	return Line{
		ProductID: productID,
		Name:      name,
		Price:     price,
		Quantity:  quantity,
		Image:     image,
		Subtotal:  price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Items           []Line          `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          Status          `json:"status"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	ShippingAddress Address         `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// NewOrder fixes TotalAmount to the sum of the line subtotals. Nothing
// recomputes it afterwards.
func NewOrder(id, userID string, items []Line, addr Address, now time.Time) Order {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	now = now.UTC()
	return Order{
		ID:              id,
		UserID:          userID,
		Items:           items,
		TotalAmount:     total,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		ShippingAddress: addr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (o *Order) SetStatus(s Status, now time.Time) {
	o.Status = s
	o.UpdatedAt = now.UTC()
}

func (o *Order) SetPaymentStatus(ps PaymentStatus, now time.Time) {
	o.PaymentStatus = ps
	o.UpdatedAt = now.UTC()
}
