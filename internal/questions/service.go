package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepulse/backend/internal/metrics"
	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/realtime"
	"github.com/livepulse/backend/pkg/queue"
)

const (
	maxContentLength = 2000
	maxNameLength    = 120
)

// Publisher receives committed changes for fanout to subscribers.
type Publisher interface {
	Publish(ev realtime.ChangeEvent)
}

// AuditSink records successful moderation operations. queue.Queue implements it.
type AuditSink interface {
	EnqueueAudit(ctx context.Context, payload queue.AuditPayload) error
}

// Service is the moderation API. Every mutation waits for the store acknowledgment and then
// hands the post-write rows to the publisher; it does not wait for delivery.
type Service struct {
	store     Store
	directory SessionDirectory
	publisher Publisher
	audit     AuditSink
	logger    *zap.Logger
	now       func() time.Time
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithAudit enables the audit trail.
func WithAudit(sink AuditSink) ServiceOption {
	return func(s *Service) { s.audit = sink }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the moderation service.
func NewService(store Store, directory SessionDirectory, publisher Publisher, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     store,
		directory: directory,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MutationOption tunes a single moderation call.
type MutationOption func(*mutation)

type mutation struct {
	expectedVersion *int
}

// WithExpectedVersion makes the write fail with ErrVersionConflict unless the stored row
// still has version v. Without it writes are last-writer-wins.
func WithExpectedVersion(v int) MutationOption {
	return func(m *mutation) { m.expectedVersion = &v }
}

func (s *Service) condition(action Action, opts []MutationOption) Condition {
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}
	return Condition{Statuses: statusGuard(action), ExpectedVersion: m.expectedVersion}
}

// SubmitInput is an audience question.
type SubmitInput struct {
	Content     string
	AuthorName  *string
	IsAnonymous bool
}

// ManualInput is a moderator-entered question attributed to a manual presenter record.
type ManualInput struct {
	Content string
	Name    string
	Title   string
}

// ScreenState is what the broadcast screen renders.
type ScreenState struct {
	Settings json.RawMessage  `json:"broadcast_settings"`
	Question *models.Question `json:"question"`
}

// Submit stores an audience question as pending at the end of the session order.
func (s *Service) Submit(ctx context.Context, sessionID uuid.UUID, in SubmitInput) (*models.Question, error) {
	content, err := cleanText("content", in.Content, maxContentLength)
	if err != nil {
		return nil, s.fail(ActionSubmit, err)
	}
	q := &models.Question{
		SessionID:   sessionID,
		Content:     content,
		IsAnonymous: in.IsAnonymous,
		Status:      models.StatusPending,
	}
	if !in.IsAnonymous && in.AuthorName != nil {
		name := strings.TrimSpace(*in.AuthorName)
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, s.fail(ActionSubmit, &ValidationError{Field: "author_name", Reason: "too long"})
		}
		if name != "" {
			q.AuthorName = &name
		}
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, s.fail(ActionSubmit, persistence("create question", err))
	}
	s.committed(ctx, ActionSubmit, nil, realtime.KindInsert, "", q)
	return q, nil
}

// AddManual stores a moderator-entered question, already approved, with a manual presenter.
func (s *Service) AddManual(ctx context.Context, actor, sessionID uuid.UUID, in ManualInput) (*models.Question, error) {
	name, err := cleanText("name", in.Name, maxNameLength)
	if err != nil {
		return nil, s.fail(ActionAddManual, err)
	}
	content := strings.TrimSpace(in.Content)
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, s.fail(ActionAddManual, &ValidationError{Field: "content", Reason: "too long"})
	}
	title := strings.TrimSpace(in.Title)
	now := s.now().UTC()
	kind := models.PresenterManual
	q := &models.Question{
		SessionID:     sessionID,
		Content:       content,
		Status:        models.StatusApproved,
		PresenterType: &kind,
		PresenterName: &name,
		ModeratedBy:   &actor,
		ModeratedAt:   &now,
	}
	if title != "" {
		q.PresenterTitle = &title
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, s.fail(ActionAddManual, persistence("create manual question", err))
	}
	s.committed(ctx, ActionAddManual, &actor, realtime.KindInsert, name, q)
	return q, nil
}

// Get returns one question.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	q, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get question", err)
	}
	return q, nil
}

// List returns the moderator console list, optionally filtered by status.
func (s *Service) List(ctx context.Context, sessionID uuid.UUID, statuses ...models.QuestionStatus) ([]models.Question, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", st)}
		}
	}
	list, err := s.store.ListBySession(ctx, sessionID, statuses)
	if err != nil {
		return nil, persistence("list questions", err)
	}
	return list, nil
}

// ListPublic returns the audience list: visible statuses only, moderation metadata removed.
func (s *Service) ListPublic(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	list, err := s.store.ListBySession(ctx, sessionID, onScreenStatuses)
	if err != nil {
		return nil, persistence("list public questions", err)
	}
	out := make([]models.Question, 0, len(list))
	for i := range list {
		out = append(out, *realtime.PublicRow(&list[i]))
	}
	return out, nil
}

// ScreenState returns the session's broadcast settings and the broadcasting question, if any.
func (s *Service) ScreenState(ctx context.Context, sessionID uuid.UUID) (*ScreenState, error) {
	settings, err := s.directory.BroadcastSettings(ctx, sessionID)
	if err != nil {
		return nil, persistence("broadcast settings", err)
	}
	list, err := s.store.ListBySession(ctx, sessionID, onScreenStatuses)
	if err != nil {
		return nil, persistence("list questions", err)
	}
	state := &ScreenState{Settings: settings}
	for i := range list {
		if list[i].IsBroadcasting {
			state.Question = realtime.PublicRow(&list[i])
			break
		}
	}
	return state, nil
}

// Snapshot implements realtime.Snapshotter: the full state a view needs after (re)connecting.
func (s *Service) Snapshot(ctx context.Context, sessionID uuid.UUID, view realtime.View) (interface{}, error) {
	switch view {
	case realtime.ViewModerator:
		list, err := s.List(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"questions": list}, nil
	case realtime.ViewAudience:
		list, err := s.ListPublic(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"questions": list}, nil
	case realtime.ViewScreen:
		return s.ScreenState(ctx, sessionID)
	}
	return nil, fmt.Errorf("unknown view %q", view)
}

// Approve moves a pending question to approved.
func (s *Service) Approve(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	now := s.now().UTC()
	return s.mutate(ctx, ActionApprove, actor, id, "", Patch{
		Status:      statusPtr(models.StatusApproved),
		ModeratedBy: &actor,
		ModeratedAt: &now,
	}, opts)
}

// Reject moves a pending question to rejected. A nil or blank reason is stored as null.
func (s *Service) Reject(ctx context.Context, actor, id uuid.UUID, reason *string, opts ...MutationOption) (*models.Question, error) {
	var stored *string
	if reason != nil {
		if r := strings.TrimSpace(*reason); r != "" {
			stored = &r
		}
	}
	now := s.now().UTC()
	detail := ""
	if stored != nil {
		detail = *stored
	}
	return s.mutate(ctx, ActionReject, actor, id, detail, Patch{
		Status:          statusPtr(models.StatusRejected),
		SetRejectReason: true,
		RejectReason:    stored,
		ModeratedBy:     &actor,
		ModeratedAt:     &now,
	}, opts)
}

// Answer records (or overwrites) the answer of an approved or answered question.
func (s *Service) Answer(ctx context.Context, actor, id uuid.UUID, text string, opts ...MutationOption) (*models.Question, error) {
	answer, err := cleanText("answer", text, maxContentLength)
	if err != nil {
		return nil, s.fail(ActionAnswer, err)
	}
	now := s.now().UTC()
	return s.mutate(ctx, ActionAnswer, actor, id, "", Patch{
		Status:     statusPtr(models.StatusAnswered),
		Answer:     &answer,
		AnsweredBy: &actor,
		AnsweredAt: &now,
	}, opts)
}

// Hide takes an approved or answered question off every audience surface, including the screen.
func (s *Service) Hide(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	return s.mutate(ctx, ActionHide, actor, id, "", Patch{
		Status:         statusPtr(models.StatusHidden),
		IsBroadcasting: boolPtr(false),
		IsDisplayed:    boolPtr(false),
	}, opts)
}

// Unhide returns a hidden question to approved. A previous answered status is not restored.
func (s *Service) Unhide(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	return s.mutate(ctx, ActionUnhide, actor, id, "", Patch{Status: statusPtr(models.StatusApproved)}, opts)
}

// Pin marks a question pinned.
func (s *Service) Pin(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	return s.mutate(ctx, ActionPin, actor, id, "", Patch{IsPinned: boolPtr(true)}, opts)
}

// Unpin clears the pinned flag.
func (s *Service) Unpin(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	return s.mutate(ctx, ActionUnpin, actor, id, "", Patch{IsPinned: boolPtr(false)}, opts)
}

// Highlight clears the highlight of every other question in the session and then sets it on id.
// The two writes are not atomic; concurrent calls can briefly leave zero or two highlighted rows.
func (s *Service) Highlight(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(ActionHighlight, persistence("get question", err))
	}
	cleared, err := s.store.ClearHighlights(ctx, current.SessionID, id)
	if err != nil {
		return nil, s.fail(ActionHighlight, persistence("clear highlights", err))
	}
	for i := range cleared {
		s.publish(realtime.KindUpdate, &cleared[i])
	}
	return s.mutate(ctx, ActionHighlight, actor, id, "", Patch{IsHighlighted: boolPtr(true)}, opts)
}

// Unhighlight clears the highlight of one question.
func (s *Service) Unhighlight(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	return s.mutate(ctx, ActionUnhighlight, actor, id, "", Patch{IsHighlighted: boolPtr(false)}, opts)
}

// ToggleBroadcast stops id if it is on the public screen, otherwise replaces whatever is on the
// screen with id. The store performs the clear and the set as one atomic operation; every
// changed row is returned and fanned out, the toggled question first.
func (s *Service) ToggleBroadcast(ctx context.Context, actor, id uuid.UUID) ([]models.Question, error) {
	changed, err := s.store.ToggleBroadcast(ctx, id)
	if err != nil {
		return nil, s.fail(ActionToggleBroadcast, s.withOp(ActionToggleBroadcast, persistence("toggle broadcast", err)))
	}
	for i := range changed {
		q := &changed[i]
		detail := "stop"
		if q.IsBroadcasting {
			detail = "start"
		}
		if q.ID == id {
			s.committed(ctx, ActionToggleBroadcast, &actor, realtime.KindUpdate, detail, q)
			continue
		}
		s.publish(realtime.KindUpdate, q)
	}
	return changed, nil
}

// ToggleDisplay flips is_displayed. Any number of questions may be displayed at once.
func (s *Service) ToggleDisplay(ctx context.Context, actor, id uuid.UUID, opts ...MutationOption) (*models.Question, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(ActionToggleDisplay, persistence("get question", err))
	}
	if err := checkState(ActionToggleDisplay, current); err != nil {
		return nil, s.fail(ActionToggleDisplay, err)
	}
	return s.mutate(ctx, ActionToggleDisplay, actor, id, "", Patch{IsDisplayed: boolPtr(!current.IsDisplayed)}, opts)
}

// AssignPresenter attaches ref to the question; nil clears the assignment. Member and partner
// refs must name a confirmed presenter of the same kind in the session's directory.
func (s *Service) AssignPresenter(ctx context.Context, actor, id uuid.UUID, ref PresenterRef, opts ...MutationOption) (*models.Question, error) {
	patch := Patch{SetPresenter: true}
	detail := "cleared"
	if ref != nil {
		pp, err := s.resolvePresenter(ctx, id, ref)
		if err != nil {
			return nil, s.fail(ActionAssignPresenter, err)
		}
		patch.Presenter = pp
		detail = string(pp.Type)
	}
	return s.mutate(ctx, ActionAssignPresenter, actor, id, detail, patch, opts)
}

func (s *Service) resolvePresenter(ctx context.Context, questionID uuid.UUID, ref PresenterRef) (*PresenterPatch, error) {
	if manual, ok := ref.(ManualPresenter); ok {
		name, err := cleanText("presenter_name", manual.Name, maxNameLength)
		if err != nil {
			return nil, err
		}
		pp := &PresenterPatch{Type: models.PresenterManual, Name: &name}
		if title := strings.TrimSpace(manual.Title); title != "" {
			pp.Title = &title
		}
		return pp, nil
	}
	presenterID, _ := directoryID(ref)
	q, err := s.store.GetByID(ctx, questionID)
	if err != nil {
		return nil, persistence("get question", err)
	}
	p, err := s.directory.GetPresenter(ctx, q.SessionID, presenterID)
	if errors.Is(err, ErrNotFound) {
		return nil, &ValidationError{Field: "presenter_id", Reason: "not in the session's presenter directory"}
	}
	if err != nil {
		return nil, persistence("get presenter", err)
	}
	if !p.Confirmed {
		return nil, &ValidationError{Field: "presenter_id", Reason: "presenter has not confirmed"}
	}
	if p.Kind != ref.presenterType() {
		return nil, &ValidationError{Field: "presenter_type", Reason: fmt.Sprintf("presenter is a %s, not a %s", p.Kind, ref.presenterType())}
	}
	name, title := p.Name, p.Title
	pp := &PresenterPatch{ID: &p.ID, Type: p.Kind, Name: &name}
	if title != "" {
		pp.Title = &title
	}
	return pp, nil
}

// Reorder renumbers the session so display_order equals each id's index in orderedIDs.
// The ids must all belong to the session and appear once; the write is atomic.
func (s *Service) Reorder(ctx context.Context, actor, sessionID uuid.UUID, orderedIDs []uuid.UUID) ([]models.Question, error) {
	if err := validateOrder(orderedIDs); err != nil {
		return nil, s.fail(ActionReorder, err)
	}
	rows, err := s.store.Reorder(ctx, sessionID, orderedIDs)
	if err != nil {
		return nil, s.fail(ActionReorder, persistence("reorder questions", err))
	}
	metrics.ModerationActions.WithLabelValues(string(ActionReorder), "ok").Inc()
	for i := range rows {
		s.publish(realtime.KindUpdate, &rows[i])
	}
	s.record(ctx, ActionReorder, &actor, sessionID, uuid.Nil, "", fmt.Sprintf("%d questions", len(rows)))
	return rows, nil
}

// Like adds one like to a visible question.
func (s *Service) Like(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	q, err := s.store.IncrementLikes(ctx, id, Condition{Statuses: statusGuard(ActionLike)})
	if err != nil {
		return nil, s.fail(ActionLike, s.withOp(ActionLike, persistence("like question", err)))
	}
	metrics.ModerationActions.WithLabelValues(string(ActionLike), "ok").Inc()
	s.publish(realtime.KindUpdate, q)
	return q, nil
}

// Delete hard-deletes a question in any status and emits a delete event.
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) error {
	q, err := s.store.Delete(ctx, id)
	if err != nil {
		return s.fail(ActionDelete, persistence("delete question", err))
	}
	s.committed(ctx, ActionDelete, &actor, realtime.KindDelete, "", q)
	return nil
}

func (s *Service) mutate(ctx context.Context, action Action, actor, id uuid.UUID, detail string, patch Patch, opts []MutationOption) (*models.Question, error) {
	q, err := s.store.Update(ctx, id, s.condition(action, opts), patch)
	if err != nil {
		return nil, s.fail(action, s.withOp(action, persistence(string(action)+" question", err)))
	}
	s.committed(ctx, action, &actor, realtime.KindUpdate, detail, q)
	return q, nil
}

// withOp names the action on state errors produced by the store.
func (s *Service) withOp(action Action, err error) error {
	var se *StateError
	if errors.As(err, &se) && se.Op == "" {
		se.Op = string(action)
	}
	return err
}

func (s *Service) committed(ctx context.Context, action Action, actor *uuid.UUID, kind realtime.EventKind, detail string, q *models.Question) {
	metrics.ModerationActions.WithLabelValues(string(action), "ok").Inc()
	s.publish(kind, q)
	s.record(ctx, action, actor, q.SessionID, q.ID, q.Status, detail)
}

func (s *Service) publish(kind realtime.EventKind, q *models.Question) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(realtime.ChangeEvent{Kind: kind, SessionID: q.SessionID, Row: q.Clone()})
}

func (s *Service) record(ctx context.Context, action Action, actor *uuid.UUID, sessionID, questionID uuid.UUID, status models.QuestionStatus, detail string) {
	if s.audit == nil {
		return
	}
	err := s.audit.EnqueueAudit(ctx, queue.AuditPayload{
		QuestionID: questionID,
		SessionID:  sessionID,
		Action:     string(action),
		ActorID:    actor,
		Status:     string(status),
		Detail:     detail,
		At:         s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit enqueue failed", zap.Error(err), zap.String("action", string(action)), zap.String("question_id", questionID.String()))
	}
}

func (s *Service) fail(action Action, err error) error {
	outcome := Outcome(err)
	metrics.ModerationActions.WithLabelValues(string(action), outcome).Inc()
	if outcome == "error" {
		s.logger.Error("moderation action failed", zap.String("action", string(action)), zap.Error(err))
	} else {
		s.logger.Debug("moderation action rejected", zap.String("action", string(action)), zap.String("outcome", outcome), zap.Error(err))
	}
	return err
}

// Outcome classifies an error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidState):
		return "state"
	case errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}

func cleanText(field, v string, max int) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", &ValidationError{Field: field, Reason: "must not be blank"}
	}
	if utf8.RuneCountInString(v) > max {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("longer than %d characters", max)}
	}
	return v, nil
}
