package application

import (
	"fmt"

	"github.com/dmehra2102/storefront/internal/order/domain"
)

// StatusPolicy decides whether an owner may move an order from one status
// to another.
type StatusPolicy interface {
	Name() string
	Allow(from, to domain.Status) bool
}

// Permissive accepts every transition.
type Permissive struct{}

func (Permissive) Name() string { return "permissive" }
func (Permissive) Allow(from, to domain.Status) bool { return true }

// Lifecycle only moves forward through
// pending, confirmed, processing, shipped, delivered. Cancellation is
// possible until the order ships; delivered, cancelled and failed are final.
type Lifecycle struct{}

var lifecycleRank = map[domain.Status]int{
	domain.StatusPending:    0,
	domain.StatusConfirmed:  1,
	domain.StatusProcessing: 2,
	domain.StatusShipped:    3,
	domain.StatusDelivered:  4,
}

func (Lifecycle) Name() string { return "lifecycle" }

func (Lifecycle) Allow(from, to domain.Status) bool {
	switch from {
	case domain.StatusDelivered, domain.StatusCancelled, domain.StatusFailed:
		return false
	}
	if to == domain.StatusCancelled {
		return from == domain.StatusPending || from == domain.StatusConfirmed || from == domain.StatusProcessing
	}
	fr, ok := lifecycleRank[from]
	if !ok {
		return false
	}
	tr, ok := lifecycleRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

func ParsePolicy(name string) (StatusPolicy, error) {
	switch name {
	case "", "permissive":
		return Permissive{}, nil
	case "lifecycle":
		return Lifecycle{}, nil
	default:
		return nil, fmt.Errorf("unknown order status policy %q", name)
	}
}
