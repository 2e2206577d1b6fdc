// Package statestore provides background expiry cleanup
package statestore

import (
	"context"
	"time"

	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// Janitor periodically sweeps expired connection records and locks from a
// store. A crashed process leaves its records behind; the janitor on any
// surviving process reclaims them.
type Janitor struct {
	store    Sweeper
	interval time.Duration
	logger   *logging.ChanneledLogger
}

// NewJanitor creates a new janitor over a sweepable store.
func NewJanitor(store Sweeper, interval time.Duration, logger *logging.ChanneledLogger) *Janitor {
	return &Janitor{store: store, interval: interval, logger: logger}
}

// Start begins the sweep routine, using the configured interval.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.StateStore().Info("State janitor started", "interval", j.interval)

	for {
		select {
		case <-ctx.Done():
			j.logger.StateStore().Info("State janitor stopping")
			return
		case <-ticker.C:
			start := time.Now()
			removed, err := j.store.Sweep(ctx, time.Now())
			if err != nil {
				j.logger.StateStore().Error("Sweep failed", "error", err.Error(), "duration", time.Since(start))
				continue
			}
			if removed > 0 {
				j.logger.StateStore().Info("Sweep completed", "removed", removed, "duration", time.Since(start))
			}
		}
	}
}
