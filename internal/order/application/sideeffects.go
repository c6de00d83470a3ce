package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmehra2102/storefront/pkg/metrics"
)

// SideEffects runs work that must happen after a change is committed but
// must never change its outcome. Failures are logged and counted.
type SideEffects struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewSideEffects(log *slog.Logger, m *metrics.Metrics, timeout time.Duration) *SideEffects {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SideEffects{log: log, metrics: m, timeout: timeout}
}

// Go runs fn in the background. fn keeps ctx's values (trace, logger
// attributes) but not its cancellation, and gets its own timeout.
func (s *SideEffects) Go(ctx context.Context, task string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn("side effect failed", "task", task, "err", err)
			s.metrics.SideEffectFailed(task)
		}
	}()
}

// Wait blocks until running tasks finish or ctx is done.
func (s *SideEffects) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
