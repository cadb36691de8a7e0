package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/retention"
)

// SweepLocker serializes sweeps across triggers and replicas. held is
// cancelled when the lease is lost before release.
type SweepLocker interface {
	TryLock(ctx context.Context) (held context.Context, release func(), ok bool, err error)
}

// Sweeper is the engine entry point.
type Sweeper interface {
	RunSweep(ctx context.Context, now time.Time, window time.Duration) (*retention.Report, error)
}

// RetentionService runs attachment retention sweeps for the scheduler and the
// manual admin trigger.
type RetentionService struct {
	engine     Sweeper
	locker     SweepLocker
	window     time.Duration
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// RetentionDependencies bundles collaborators.
type RetentionDependencies struct {
	Engine     Sweeper
	Locker     SweepLocker
	Window     time.Duration
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewRetentionService constructs the service.
func NewRetentionService(deps RetentionDependencies) *RetentionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RetentionService{
		engine:     deps.Engine,
		locker:     deps.Locker,
		window:     deps.Window,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
	}
}

// Window returns the configured retention window.
func (s *RetentionService) Window() time.Duration {
	return s.window
}

// Sweep runs one sweep unless another is in flight, in which case it returns
// retention.ErrSweepInProgress without touching anything. Losing the lock
// lease mid-sweep stops new items from starting.
func (s *RetentionService) Sweep(ctx context.Context, trigger string) (*retention.Report, error) {
	if s.locker != nil {
		held, release, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			s.logger.Error("retention lock unavailable", zap.String("trigger", trigger), zap.Error(err))
			return nil, err
		}
		if !ok {
			s.logger.Info("retention sweep skipped, already running", zap.String("trigger", trigger))
			return nil, retention.ErrSweepInProgress
		}
		defer release()
		ctx = held
	}

	started := s.now()
	s.logger.Info("retention sweep starting",
		zap.String("trigger", trigger),
		zap.Duration("window", s.window))

	report, err := s.engine.RunSweep(ctx, started, s.window)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.String("trigger", trigger), zap.Error(err))
		s.metrics.RecordSweep(0, 0, true)
		return nil, err
	}
	s.metrics.RecordSweep(report.DeletedCount, report.FailedCount, false)

	s.logger.Info("retention sweep finished",
		zap.String("trigger", trigger),
		zap.Time("cutoff", report.Cutoff),
		zap.Int("deleted", report.DeletedCount),
		zap.Int("failed", report.FailedCount),
		zap.Int("reconciled_tickets", len(report.ReconciledTickets)),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("elapsed", s.now().Sub(started)))

	if report.DeletedCount > 0 || report.FailedCount > 0 {
		failed := make([]string, 0, len(report.FailedItems))
		for _, item := range report.FailedItems {
			failed = append(failed, item.AttachmentID)
		}
		publish(ctx, s.dispatcher, s.now, events.Event{
			Type:  events.EventAttachmentsPurged,
			Actor: events.SystemActor(),
			Payload: events.AttachmentsPurgedPayload{
				Trigger:      trigger,
				DeletedCount: report.DeletedCount,
				FailedCount:  report.FailedCount,
				FailedItems:  failed,
				TicketIDs:    report.ReconciledTickets,
			},
		})
	}
	return report, nil
}
