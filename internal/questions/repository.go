package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livepulse/backend/internal/models"
)

const questionColumns = `id, session_id, content, author_name, is_anonymous, status,
	is_pinned, is_highlighted, is_broadcasting, is_displayed,
	presenter_id, presenter_type, presenter_name, presenter_title,
	display_order, likes_count, answer, reject_reason,
	moderated_by, moderated_at, answered_by, answered_at,
	version, created_at, updated_at`

// Repository handles question persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Create inserts a new question at the end of its session's order.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions (id, session_id, content, author_name, is_anonymous, status,
			presenter_id, presenter_type, presenter_name, presenter_title, moderated_by, moderated_at, display_order)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			(SELECT COALESCE(MAX(display_order) + 1, 0) FROM questions WHERE session_id = $1))
		RETURNING id, display_order, version, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		q.SessionID, q.Content, q.AuthorName, q.IsAnonymous, string(q.Status),
		q.PresenterID, presenterTypeArg(q.PresenterType), q.PresenterName, q.PresenterTitle,
		q.ModeratedBy, q.ModeratedAt,
	).Scan(&q.ID, &q.DisplayOrder, &q.Version, &q.CreatedAt, &q.UpdatedAt)
	return insertError(err)
}

const foreignKeyViolation = "23503"

// insertError reports a missing session (foreign key violation) as ErrNotFound.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrNotFound
	}
	return err
}

// GetByID returns a question by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

// ListBySession returns a session's questions in console order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID, statuses []models.QuestionStatus) ([]models.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions
		WHERE session_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY display_order ASC, is_pinned DESC, is_highlighted DESC, created_at DESC`
	rows, err := r.pool.Query(ctx, query, sessionID, statusArgs(statuses))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Update applies a patch to one row when cond holds.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*models.Question, error) {
	sets, args := patchClauses(patch)
	if len(sets) == 0 {
		return nil, &ValidationError{Field: "patch", Reason: "no columns to update"}
	}
	sets = append(sets, "version = version + 1", "updated_at = NOW()")
	where, args := conditionClause(id, cond, args)
	query := `UPDATE questions SET ` + strings.Join(sets, ", ") + ` WHERE ` + where + ` RETURNING ` + questionColumns
	q, err := scanQuestion(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMiss(ctx, id, cond)
	}
	return q, err
}

// IncrementLikes adds one like when cond holds.
func (r *Repository) IncrementLikes(ctx context.Context, id uuid.UUID, cond Condition) (*models.Question, error) {
	where, args := conditionClause(id, cond, nil)
	query := `UPDATE questions SET likes_count = likes_count + 1, version = version + 1, updated_at = NOW()
		WHERE ` + where + ` RETURNING ` + questionColumns
	q, err := scanQuestion(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMiss(ctx, id, cond)
	}
	return q, err
}

// ClearHighlights unsets is_highlighted on every question of the session except keep.
func (r *Repository) ClearHighlights(ctx context.Context, sessionID, keep uuid.UUID) ([]models.Question, error) {
	query := `UPDATE questions SET is_highlighted = FALSE, version = version + 1, updated_at = NOW()
		WHERE session_id = $1 AND id <> $2 AND is_highlighted
		RETURNING ` + questionColumns
	rows, err := r.pool.Query(ctx, query, sessionID, keep)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ToggleBroadcast runs the stop-or-replace toggle in one transaction. A transaction-scoped
// advisory lock on the session serializes concurrent toggles of the same session; the partial
// unique index on (session_id) WHERE is_broadcasting backs the invariant.
func (r *Repository) ToggleBroadcast(ctx context.Context, id uuid.UUID) ([]models.Question, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sessionID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT session_id FROM questions WHERE id = $1`, id).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, sessionID); err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}

	var (
		status       string
		broadcasting bool
	)
	err = tx.QueryRow(ctx, `SELECT status, is_broadcasting FROM questions WHERE id = $1 FOR UPDATE`, id).Scan(&status, &broadcasting)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	const setFlag = `UPDATE questions SET is_broadcasting = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 RETURNING ` + questionColumns

	if broadcasting {
		q, err := scanQuestion(tx.QueryRow(ctx, setFlag, id, false))
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return []models.Question{*q}, nil
	}

	if !CanApply(ActionToggleBroadcast, models.QuestionStatus(status)) {
		return nil, &StateError{From: models.QuestionStatus(status)}
	}
	rows, err := tx.Query(ctx, `UPDATE questions SET is_broadcasting = FALSE, version = version + 1, updated_at = NOW()
		WHERE session_id = $1 AND id <> $2 AND is_broadcasting
		RETURNING `+questionColumns, sessionID, id)
	if err != nil {
		return nil, err
	}
	stopped, err := collect(rows)
	if err != nil {
		return nil, err
	}
	started, err := scanQuestion(tx.QueryRow(ctx, setFlag, id, true))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return append([]models.Question{*started}, stopped...), nil
}

// Reorder renumbers display_order from the id list in a single statement inside a transaction.
// Session rows missing from the list are renumbered after the listed ones, keeping their
// console order, so display_order stays unique per session.
func (r *Repository) Reorder(ctx context.Context, sessionID uuid.UUID, orderedIDs []uuid.UUID) ([]models.Question, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, sessionID); err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	var owned int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE session_id = $1 AND id = ANY($2::uuid[])`,
		sessionID, orderedIDs).Scan(&owned); err != nil {
		return nil, err
	}
	if owned != len(orderedIDs) {
		return nil, ForeignIDsError(len(orderedIDs) - owned)
	}

	rows, err := tx.Query(ctx, `WITH target AS (
			SELECT o.id, o.ord - 1 AS pos FROM unnest($2::uuid[]) WITH ORDINALITY AS o(id, ord)
			UNION ALL
			SELECT id, $3 + ROW_NUMBER() OVER (ORDER BY display_order, is_pinned DESC, is_highlighted DESC, created_at DESC) - 1
			FROM questions WHERE session_id = $1 AND NOT (id = ANY($2::uuid[]))
		)
		UPDATE questions AS q
		SET display_order = t.pos, version = q.version + 1, updated_at = NOW()
		FROM target AS t
		WHERE q.id = t.id AND q.session_id = $1 AND (q.display_order <> t.pos OR q.id = ANY($2::uuid[]))
		RETURNING `+prefixed("q", questionColumns), sessionID, orderedIDs, len(orderedIDs))
	if err != nil {
		return nil, err
	}
	list, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	models.SortForConsole(list)
	return list, nil
}

// Delete removes a question and returns its last state.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	q, err := scanQuestion(r.pool.QueryRow(ctx, `DELETE FROM questions WHERE id = $1 RETURNING `+questionColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

// explainMiss turns a conditional write that matched no row into the right domain error.
func (r *Repository) explainMiss(ctx context.Context, id uuid.UUID, cond Condition) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cond.ExpectedVersion != nil && *cond.ExpectedVersion != current.Version {
		return ErrVersionConflict
	}
	return &StateError{From: current.Status}
}

func patchClauses(p Patch) ([]string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.IsPinned != nil {
		add("is_pinned", *p.IsPinned)
	}
	if p.IsHighlighted != nil {
		add("is_highlighted", *p.IsHighlighted)
	}
	if p.IsDisplayed != nil {
		add("is_displayed", *p.IsDisplayed)
	}
	if p.IsBroadcasting != nil {
		add("is_broadcasting", *p.IsBroadcasting)
	}
	if p.Answer != nil {
		add("answer", *p.Answer)
	}
	if p.AnsweredBy != nil {
		add("answered_by", *p.AnsweredBy)
	}
	if p.AnsweredAt != nil {
		add("answered_at", *p.AnsweredAt)
	}
	if p.SetRejectReason {
		add("reject_reason", p.RejectReason)
	}
	if p.ModeratedBy != nil {
		add("moderated_by", *p.ModeratedBy)
	}
	if p.ModeratedAt != nil {
		add("moderated_at", *p.ModeratedAt)
	}
	if p.SetPresenter {
		var pp PresenterPatch
		var kind *string
		if p.Presenter != nil {
			pp = *p.Presenter
			k := string(pp.Type)
			kind = &k
		}
		add("presenter_id", pp.ID)
		add("presenter_type", kind)
		add("presenter_name", pp.Name)
		add("presenter_title", pp.Title)
	}
	return sets, args
}

func conditionClause(id uuid.UUID, cond Condition, args []interface{}) (string, []interface{}) {
	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if len(cond.Statuses) > 0 {
		args = append(args, statusArgs(cond.Statuses))
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if cond.ExpectedVersion != nil {
		args = append(args, *cond.ExpectedVersion)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}
	return where, args
}

func statusArgs(statuses []models.QuestionStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func presenterTypeArg(t *models.PresenterType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func collect(rows pgx.Rows) ([]models.Question, error) {
	defer rows.Close()
	list := make([]models.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *q)
	}
	return list, rows.Err()
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var (
		q             models.Question
		status        string
		presenterType *string
	)
	err := row.Scan(
		&q.ID, &q.SessionID, &q.Content, &q.AuthorName, &q.IsAnonymous, &status,
		&q.IsPinned, &q.IsHighlighted, &q.IsBroadcasting, &q.IsDisplayed,
		&q.PresenterID, &presenterType, &q.PresenterName, &q.PresenterTitle,
		&q.DisplayOrder, &q.LikesCount, &q.Answer, &q.RejectReason,
		&q.ModeratedBy, &q.ModeratedAt, &q.AnsweredBy, &q.AnsweredAt,
		&q.Version, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.Status = models.QuestionStatus(status)
	if presenterType != nil {
		t := models.PresenterType(*presenterType)
		q.PresenterType = &t
	}
	return &q, nil
}
