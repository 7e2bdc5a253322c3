package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/livepulse/backend/internal/metrics"
	"github.com/livepulse/backend/pkg/queue"
)

// DepthReader reports job queue lengths. queue.Queue implements it.
type DepthReader interface {
	Depth(ctx context.Context) (pending, dead int64, err error)
}

// Purger deletes audit entries older than a cutoff. audit.Repository implements it.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs the worker's periodic housekeeping: queue depth sampling and audit retention.
type Scheduler struct {
	cron      *cron.Cron
	depth     DepthReader
	purger    Purger
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewScheduler creates a scheduler. A nil purger or retention <= 0 disables retention.
func NewScheduler(depth DepthReader, purger Purger, retention time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		depth:     depth,
		purger:    purger,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every 30s", s.sampleDepth); err != nil {
		return err
	}
	if s.purger != nil && s.retention > 0 {
		// Daily at 04:00 UTC.
		if _, err := s.cron.AddFunc("0 4 * * *", s.purge); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("worker scheduler started", zap.Duration("audit_retention", s.retention))
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sampleDepth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pending, dead, err := s.depth.Depth(ctx)
	if err != nil {
		s.logger.Warn("sample queue depth", zap.Error(err))
		return
	}
	metrics.QueueDepth.WithLabelValues(queue.QueueAudit).Set(float64(pending))
	metrics.QueueDepth.WithLabelValues(queue.QueueDLQ).Set(float64(dead))
}

func (s *Scheduler) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.purger.PurgeBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.logger.Error("purge audit entries", zap.Error(err))
		return
	}
	metrics.AuditPurged.Add(float64(n))
	s.logger.Info("audit entries purged", zap.Int64("count", n))
}
