// reset_pruner.go implements the ResetPruner background job, which
// periodically deletes password reset requests that can never be redeemed
// again (already used, or past their expiry). Redemption checks expiry on
// their own, so the pruner is pure housekeeping: it keeps the
// password_reset_requests table from growing without bound, nothing more.
// The job is a no-op when maintenance.reset_prune_enabled is false, so it is
// always safe to start regardless of deployment environment.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/apigateway/apigateway/internal/config"
	"github.com/apigateway/apigateway/internal/db/repositories"
)

// ResetPruner periodically removes dead password reset requests.
type ResetPruner struct {
	resetRepo *repositories.ResetRepository
	cfg       *config.MaintenanceConfig
	interval  time.Duration
	stopChan  chan struct{}
}

// NewResetPruner creates a new ResetPruner. The interval comes from
// maintenance.reset_prune_interval (default 1h).
func NewResetPruner(resetRepo *repositories.ResetRepository, cfg *config.MaintenanceConfig) *ResetPruner {
	interval := cfg.ResetPruneInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &ResetPruner{
		resetRepo: resetRepo,
		cfg:       cfg,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background pruning loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (p *ResetPruner) Start(ctx context.Context) {
	if !p.cfg.ResetPruneEnabled {
		slog.Info("reset pruner disabled (maintenance.reset_prune_enabled=false)")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("reset pruner started", "interval", p.interval)

	p.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			p.runSweep(ctx)
		case <-p.stopChan:
			slog.Info("reset pruner stopped")
			return
		case <-ctx.Done():
			slog.Info("reset pruner context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (p *ResetPruner) Stop() {
	close(p.stopChan)
}

// runSweep deletes unredeemable requests. A failed sweep is logged and
// retried on the next tick; it never stops the loop.
func (p *ResetPruner) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pruned, err := p.resetRepo.PruneExpired(sweepCtx, time.Now())
	if err != nil {
		slog.Error("reset pruner sweep failed", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("reset pruner removed dead requests", "count", pruned)
	}
}
