// Package messaging serializes and dispatches inbound client messages.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
	"github.com/GuideRail/guiderail-go/pkg/config"
)

// ErrLockContended reports that the per-connection lock could not be taken
// within the retry budget. The message fails; the process does not.
var ErrLockContended = errors.New("connection lock contended")

// Guard is the distributed concurrency guard: it wraps message handling in a
// per-connection lock held in the shared store, so two messages for the same
// connection never mutate state concurrently anywhere in the fleet.
type Guard struct {
	locker statestore.Locker
	logger *logging.ChanneledLogger
}

func NewGuard(locker statestore.Locker, logger *logging.ChanneledLogger) *Guard {
	return &Guard{
		locker: locker,
		logger: logger,
	}
}

// WithLock runs fn while holding the lock for connectionID, retrying
// acquisition with doubling backoff up to the configured retry budget. The
// lock's TTL bounds how long a crashed holder can wedge the connection.
func (g *Guard) WithLock(ctx context.Context, connectionID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	backoff := config.LockBackoff

	for attempt := 0; attempt <= config.LockMaxRetries; attempt++ {
		token, acquired, err := g.locker.Acquire(ctx, connectionID, config.LockTTL)
		if err != nil {
			return err
		}
		if acquired {
			if attempt > 0 {
				g.logger.Orchestrator().Debug("Lock acquired after contention", "connectionId", connectionID, "attempts", attempt+1, "waited", time.Since(start))
			}
			defer func() {
				if err := g.locker.Release(ctx, connectionID, token); err != nil {
					g.logger.Orchestrator().Warn("Lock release failed", "connectionId", connectionID, "error", err.Error())
				}
			}()
			return fn(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > config.LockBackoffMax {
			backoff = config.LockBackoffMax
		}
	}

	g.logger.Orchestrator().Warn("Lock retries exhausted", "connectionId", connectionID, "retries", config.LockMaxRetries, "waited", time.Since(start))
	return ErrLockContended
}
