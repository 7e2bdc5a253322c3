package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/livepulse/backend/internal/metrics"
	"github.com/livepulse/backend/pkg/queue"
)

// AuditWriter stores one audit payload. audit.Repository implements it.
type AuditWriter interface {
	Insert(ctx context.Context, jobID string, p queue.AuditPayload) error
}

// JobSource is the job queue the processor drains. queue.Queue implements it.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// AuditProcessor drains moderation audit jobs into the audit trail.
type AuditProcessor struct {
	store   AuditWriter
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewAuditProcessor creates an audit processor. backoff <= 0 uses queue.RetryBackoff.
func NewAuditProcessor(store AuditWriter, q JobSource, backoff time.Duration, logger *zap.Logger) *AuditProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = queue.RetryBackoff
	}
	return &AuditProcessor{store: store, queue: q, backoff: backoff, logger: logger}
}

// Process executes one audit job.
func (p *AuditProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeModerationAudit {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AuditPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.store.Insert(ctx, job.ID, payload); err != nil {
		metrics.AuditJobs.WithLabelValues("failed").Inc()
		return fmt.Errorf("store audit entry: %w", err)
	}
	metrics.AuditJobs.WithLabelValues("stored").Inc()
	p.logger.Debug("audit entry stored",
		zap.String("job_id", job.ID),
		zap.String("action", payload.Action),
		zap.String("question_id", payload.QuestionID.String()),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *AuditProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("audit worker stopping")
			return
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *AuditProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
