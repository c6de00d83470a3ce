package logsink

import (
	"context"
	"log/slog"

	"github.com/dmehra2102/storefront/internal/notification/domain"
)

// Notifier records notifications in the service log instead of delivering
// them. It is the default when no transport is configured.
type Notifier struct {
	log *slog.Logger
}

func NewNotifier(log *slog.Logger) *Notifier {
	return &Notifier{log: log}
}

func (n *Notifier) Notify(ctx context.Context, msg domain.Notification) error {
	n.log.InfoContext(ctx, "notification", "type", msg.Type, "user_id", msg.UserID, "order_id", msg.OrderID, "message", msg.Message)
	return nil
}
