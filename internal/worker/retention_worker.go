package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/retention"
)

// TriggerScheduled marks sweeps started by the worker.
const TriggerScheduled = "scheduled"

// Sweeper runs one retention sweep.
type Sweeper interface {
	Sweep(ctx context.Context, trigger string) (*retention.Report, error)
}

// RetentionWorker runs the attachment retention sweep on a fixed interval.
// Concurrent runs across replicas are excluded by the sweeper's lock.
type RetentionWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger

	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewRetentionWorker creates the worker.
func NewRetentionWorker(sweeper Sweeper, interval time.Duration, logger *zap.Logger) *RetentionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionWorker{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		doneCh:   make(chan struct{}),
	}
}

// Start launches the loop in the background. The first sweep runs
// immediately.
func (w *RetentionWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("retention worker starting", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

// Stop cancels any sweep in progress and waits for the loop to exit. A
// cancelled sweep leaves remaining candidates for the next run.
func (w *RetentionWorker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("retention worker stopping")
		if w.cancel != nil {
			w.cancel()
			<-w.doneCh
		}
		w.logger.Info("retention worker stopped")
	})
}

func (w *RetentionWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *RetentionWorker) runOnce(ctx context.Context) {
	report, err := w.sweeper.Sweep(ctx, TriggerScheduled)
	switch {
	case errors.Is(err, retention.ErrSweepInProgress):
		w.logger.Debug("retention sweep already running elsewhere")
	case err != nil:
		w.logger.Error("retention sweep failed, will retry next interval", zap.Error(err))
	case report.FailedCount > 0:
		w.logger.Warn("retention sweep left failed items",
			zap.Int("failed", report.FailedCount),
			zap.Int("deleted", report.DeletedCount))
	}
}
