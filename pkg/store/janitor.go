package store

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Janitor periodically purges expired nonces. The limiter bounds purge
// frequency even if the interval is misconfigured low; purging is
// idempotent, so overlap with other replicas is harmless.
type Janitor struct {
	store    Store
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewJanitor builds a janitor sweeping at the given interval.
func NewJanitor(s Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		store:    s,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(10*time.Second), 1),
		logger:   slog.Default().With("component", "store.janitor"),
	}
}

// Run sweeps until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.limiter.Wait(ctx); err != nil {
				return
			}
			removed, err := j.store.PurgeExpiredNonces(ctx, time.Now().UTC())
			if err != nil {
				j.logger.WarnContext(ctx, "nonce purge failed", "error", err)
				continue
			}
			if removed > 0 {
				j.logger.DebugContext(ctx, "purged expired nonces", "removed", removed)
			}
		}
	}
}
