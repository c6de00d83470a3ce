package domain

import "github.com/shopspring/decimal"

const (
	EventOrderCreated         = "OrderCreated"
	EventOrderConfirmed       = "OrderConfirmed"
	EventOrderFailed          = "OrderFailed"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventPaymentStatusChanged = "PaymentStatusChanged"
)

type OrderCreated struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []Line          `json:"items"`
}

type OrderConfirmed struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
}

type OrderFailed struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason"`
}

type OrderStatusChanged struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

type PaymentStatusChanged struct {
	OrderID string        `json:"orderId"`
	UserID  string        `json:"userId"`
	From    PaymentStatus `json:"from"`
	To      PaymentStatus `json:"to"`
}
