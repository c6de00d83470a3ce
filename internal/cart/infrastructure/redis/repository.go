package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/storefront/internal/cart/domain"
)

// Repository stores one JSON document per user under cart:<userID>. Carts
// expire after ttl of inactivity.
type Repository struct {
	log *slog.Logger
	rdb *redis.Client
	ttl time.Duration
}

func NewRepository(log *slog.Logger, rdb *redis.Client, ttl time.Duration) *Repository {
	return &Repository{log: log, rdb: rdb, ttl: ttl}
}

func key(userID string) string { return "cart:" + userID }

func (r *Repository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	raw, err := r.rdb.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{UserID: userID}, nil
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart %s: %w", userID, err)
	}
	var c domain.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart %s: %w", userID, err)
	}
	c.UserID = userID
	return c, nil
}

func (r *Repository) Save(ctx context.Context, cart domain.Cart) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, key(cart.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save cart %s: %w", cart.UserID, err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("delete cart %s: %w", userID, err)
	}
	return nil
}
