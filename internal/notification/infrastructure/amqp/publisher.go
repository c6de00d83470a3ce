package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmehra2102/storefront/internal/notification/domain"
)

// RoutingPrefix prefixes the notification type to form the routing key,
// so consumers can bind "notification.*" or a single type.
const RoutingPrefix = "notification."

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends notifications to a RabbitMQ topic exchange.
type Publisher struct {
	log      *slog.Logger
	exchange string

	mu   sync.Mutex
	ch   channel
	conn *amqp.Connection
}

// Dial connects to RabbitMQ and declares the topic exchange.
func Dial(log *slog.Logger, url, exchange string) (*Publisher, error) {
	if exchange == "" {
		return nil, fmt.Errorf("exchange name cannot be empty")
	}
	var (
		conn *amqp.Connection
		err  error
	)
	for i := range 5 {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		wait := time.Duration(i*i)*time.Second + time.Second
		log.Warn("rabbitmq dial failed, retrying", "in", wait, "err", err)
		time.Sleep(wait)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := newPublisher(log, ch, exchange)
	p.conn = conn
	return p, nil
}

func newPublisher(log *slog.Logger, ch channel, exchange string) *Publisher {
	return &Publisher{log: log, ch: ch, exchange: exchange}
}

func (p *Publisher) Notify(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := RoutingPrefix + n.Type

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", key, p.exchange, err)
	}
	p.log.Debug("notification published", "routing_key", key, "order_id", n.OrderID)
	return nil
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
