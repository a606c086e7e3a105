// Package janitor runs periodic store maintenance on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/observ"
	"go.uber.org/zap"
)

// retryAfter is how long the loop backs off when the next tick cannot be
// computed.
const retryAfter = 30 * time.Second

// Sweeper clears the online hint of users that stopped heartbeating.
type Sweeper interface {
	ClearStale(ctx context.Context) ([]uuid.UUID, error)
}

type Janitor struct {
	cron    string
	sweeper Sweeper
	logger  *zap.Logger
	metrics *observ.Metrics
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// New validates cron and returns a janitor for it.
func New(cron string, sweeper Sweeper, logger *zap.Logger, metrics *observ.Metrics) (*Janitor, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid janitor cron expression %q", cron)
	}
	return &Janitor{
		cron:    cron,
		sweeper: sweeper,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Run sweeps on every tick of the schedule until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("janitor started", zap.String("cron", j.cron))
	defer j.logger.Info("janitor stopped")

	for {
		next, err := j.Next(j.now())
		if err != nil {
			j.logger.Error("janitor next tick failed", zap.String("cron", j.cron), zap.Error(err))
			if !sleep(ctx, retryAfter) {
				return
			}
			continue
		}
		if !sleep(ctx, next.Sub(j.now())) {
			return
		}
		j.RunOnce(ctx)
	}
}

// Next returns the first tick strictly after t.
func (j *Janitor) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(j.cron, t, false)
}

// RunOnce sweeps now. A sweep already in progress makes it a no-op.
func (j *Janitor) RunOnce(ctx context.Context) int {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return 0
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	start := time.Now()
	cleared, err := j.sweeper.ClearStale(ctx)
	if err != nil {
		j.metrics.BestEffortFailed("janitor_presence")
		j.logger.Warn("janitor sweep failed", zap.Error(err))
		return 0
	}
	j.logger.Info("janitor sweep done",
		zap.Int("cleared", len(cleared)),
		zap.Duration("took", time.Since(start)),
	)
	return len(cleared)
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
