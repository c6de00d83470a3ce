package domain

const (
	TypeOrderCreated       = "order_created"
	TypeOrderStatusUpdated = "order_status_updated"
)

// Notification is the payload handed to the notification collaborator.
type Notification struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}
