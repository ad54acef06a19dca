package background

import (
	"context"
	"log/slog"
	"time"
)

// Sweepable is any store that can reclaim idle per-identity state.
type Sweepable interface {
	Cleanup() int
}

// CleanupManager periodically reclaims idle limiter and guard state so
// one-off identities do not accumulate forever
type CleanupManager struct {
	targets  map[string]Sweepable
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager over named targets
func NewCleanupManager(
	targets map[string]Sweepable,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		targets:  targets,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup()

	for {
		select {
		case <-ticker.C:
			cm.runCleanup()
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps every target and logs what was reclaimed
func (cm *CleanupManager) runCleanup() {
	total := 0
	for name, target := range cm.targets {
		removed := target.Cleanup()
		total += removed
		if removed > 0 {
			cm.logger.Debug("idle state reclaimed",
				slog.String("target", name),
				slog.Int("removed", removed))
		}
	}

	if total > 0 {
		cm.logger.Info("cleanup sweep completed", slog.Int("total_removed", total))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
