package usecase

import (
	"context"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"go.uber.org/zap"
)

// LeaseReaper stops models whose lease ran out so idle capacity is not left
// running.
type LeaseReaper struct {
	leases   port.LeaseStore
	models   port.ModelService
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewLeaseReaper(leases port.LeaseStore, models port.ModelService, interval time.Duration, logger *zap.Logger) *LeaseReaper {
	return &LeaseReaper{leases: leases, models: models, interval: interval, logger: logger, now: time.Now}
}

// Run reaps on every tick until ctx is done.
func (r *LeaseReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("lease reaper started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("lease reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				r.logger.Error("lease reap failed", zap.Error(err))
			}
		}
	}
}

// ReapOnce removes expired leases and stops their models. Stop failures are
// logged; the lease is gone either way.
func (r *LeaseReaper) ReapOnce(ctx context.Context) (int, error) {
	expired, err := r.leases.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}

	stopped := 0
	for _, model := range expired {
		if err := r.models.StopModel(ctx, model); err != nil {
			r.logger.Warn("failed to stop expired model", zap.String("model", model), zap.Error(err))
			continue
		}
		stopped++
	}
	if len(expired) > 0 {
		r.logger.Info("expired model leases reaped", zap.Int("expired", len(expired)), zap.Int("stopped", stopped))
	}
	return stopped, nil
}
