package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/questions"
)

// Repository reads sessions and their presenter directory. Session CRUD belongs to the
// session service; only broadcast settings are written here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ questions.SessionDirectory = (*Repository)(nil)

// BroadcastSettings returns the session's stored screen settings.
func (r *Repository) BroadcastSettings(ctx context.Context, sessionID uuid.UUID) (json.RawMessage, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT broadcast_settings FROM sessions WHERE id = $1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, questions.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// UpdateBroadcastSettings replaces the session's screen settings.
func (r *Repository) UpdateBroadcastSettings(ctx context.Context, sessionID uuid.UUID, settings json.RawMessage) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET broadcast_settings = $2::jsonb, updated_at = NOW() WHERE id = $1`, sessionID, string(settings))
	if err != nil {
		return fmt.Errorf("update broadcast settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return questions.ErrNotFound
	}
	return nil
}

// GetPresenter returns one directory entry of the session.
func (r *Repository) GetPresenter(ctx context.Context, sessionID, presenterID uuid.UUID) (*models.Presenter, error) {
	const q = `SELECT id, session_id, kind, name, title, confirmed FROM presenters WHERE id = $1 AND session_id = $2`
	var p models.Presenter
	var kind string
	err := r.pool.QueryRow(ctx, q, presenterID, sessionID).Scan(&p.ID, &p.SessionID, &kind, &p.Name, &p.Title, &p.Confirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, questions.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Kind = models.PresenterType(kind)
	return &p, nil
}

// ListPresenters returns the session's confirmed presenters.
func (r *Repository) ListPresenters(ctx context.Context, sessionID uuid.UUID) ([]models.Presenter, error) {
	const q = `SELECT id, session_id, kind, name, title, confirmed FROM presenters
		WHERE session_id = $1 AND confirmed ORDER BY name`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Presenter
	for rows.Next() {
		var p models.Presenter
		var kind string
		if err := rows.Scan(&p.ID, &p.SessionID, &kind, &p.Name, &p.Title, &p.Confirmed); err != nil {
			return nil, err
		}
		p.Kind = models.PresenterType(kind)
		list = append(list, p)
	}
	return list, rows.Err()
}
