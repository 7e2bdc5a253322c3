package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepulse/backend/pkg/queue"
)

// Entry is one recorded moderation operation.
type Entry struct {
	ID         int64      `json:"id"`
	QuestionID *uuid.UUID `json:"question_id,omitempty"`
	SessionID  uuid.UUID  `json:"session_id"`
	Action     string     `json:"action"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Status     string     `json:"status,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Repository persists the moderation audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records the payload of job jobID. Re-inserting the same job is a no-op, so retried
// jobs are not duplicated.
func (r *Repository) Insert(ctx context.Context, jobID string, p queue.AuditPayload) error {
	const q = `INSERT INTO question_audit (job_id, question_id, session_id, action, actor_id, status, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING`
	var questionID *uuid.UUID
	if p.QuestionID != uuid.Nil {
		questionID = &p.QuestionID
	}
	if _, err := r.pool.Exec(ctx, q, jobID, questionID, p.SessionID, p.Action, p.ActorID, p.Status, p.Detail, p.At); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByQuestion returns a question's history, oldest first.
func (r *Repository) ListByQuestion(ctx context.Context, questionID uuid.UUID, limit int) ([]Entry, error) {
	const q = `SELECT id, question_id, session_id, action, actor_id, status, detail, occurred_at
		FROM question_audit WHERE question_id = $1 ORDER BY occurred_at, id LIMIT $2`
	rows, err := r.pool.Query(ctx, q, questionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.QuestionID, &e.SessionID, &e.Action, &e.ActorID, &e.Status, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// PurgeBefore deletes entries that occurred before cutoff and returns how many were removed.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM question_audit WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
