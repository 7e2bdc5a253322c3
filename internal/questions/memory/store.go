// Package memory is an in-process implementation of the question store and session
// directory, used by tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livepulse/backend/internal/models"
	"github.com/livepulse/backend/internal/questions"
)

// Store keeps questions in a map guarded by one mutex, so each method is atomic.
type Store struct {
	mu        sync.RWMutex
	questions map[uuid.UUID]*models.Question
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{questions: make(map[uuid.UUID]*models.Question), now: time.Now}
}

// SetClock overrides the creation/update timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Create(ctx context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := 0
	for _, existing := range s.questions {
		if existing.SessionID == q.SessionID && existing.DisplayOrder >= next {
			next = existing.DisplayOrder + 1
		}
	}
	now := s.now().UTC()
	q.ID = uuid.New()
	q.DisplayOrder = next
	q.Version = 1
	q.CreatedAt = now
	q.UpdatedAt = now
	s.questions[q.ID] = q.Clone()
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, questions.ErrNotFound
	}
	return q.Clone(), nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID uuid.UUID, statuses []models.QuestionStatus) ([]models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cond := questions.Condition{Statuses: statuses}
	list := make([]models.Question, 0)
	for _, q := range s.questions {
		if q.SessionID == sessionID && cond.Allows(q.Status) {
			list = append(list, *q.Clone())
		}
	}
	models.SortForConsole(list)
	return list, nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, cond questions.Condition, patch questions.Patch) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.guard(id, cond)
	if err != nil {
		return nil, err
	}
	patch.Apply(q)
	s.touch(q)
	return q.Clone(), nil
}

func (s *Store) IncrementLikes(ctx context.Context, id uuid.UUID, cond questions.Condition) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.guard(id, cond)
	if err != nil {
		return nil, err
	}
	q.LikesCount++
	s.touch(q)
	return q.Clone(), nil
}

func (s *Store) ClearHighlights(ctx context.Context, sessionID, keep uuid.UUID) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []models.Question
	for _, q := range s.questions {
		if q.SessionID == sessionID && q.ID != keep && q.IsHighlighted {
			q.IsHighlighted = false
			s.touch(q)
			changed = append(changed, *q.Clone())
		}
	}
	return changed, nil
}

func (s *Store) ToggleBroadcast(ctx context.Context, id uuid.UUID) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.questions[id]
	if !ok {
		return nil, questions.ErrNotFound
	}
	if target.IsBroadcasting {
		target.IsBroadcasting = false
		s.touch(target)
		return []models.Question{*target.Clone()}, nil
	}
	if !questions.CanApply(questions.ActionToggleBroadcast, target.Status) {
		return nil, &questions.StateError{From: target.Status}
	}
	target.IsBroadcasting = true
	s.touch(target)
	changed := []models.Question{*target.Clone()}
	for _, q := range s.questions {
		if q.SessionID == target.SessionID && q.ID != id && q.IsBroadcasting {
			q.IsBroadcasting = false
			s.touch(q)
			changed = append(changed, *q.Clone())
		}
	}
	return changed, nil
}

func (s *Store) Reorder(ctx context.Context, sessionID uuid.UUID, orderedIDs []uuid.UUID) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	foreign := 0
	for _, id := range orderedIDs {
		if q, ok := s.questions[id]; !ok || q.SessionID != sessionID {
			foreign++
		}
	}
	if foreign > 0 {
		return nil, questions.ForeignIDsError(foreign)
	}
	listed := make(map[uuid.UUID]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		listed[id] = struct{}{}
	}
	var rest []models.Question
	for _, q := range s.questions {
		if _, ok := listed[q.ID]; !ok && q.SessionID == sessionID {
			rest = append(rest, *q)
		}
	}
	// unlisted rows follow the listed ones in their current console order
	models.SortForConsole(rest)
	ids := append([]uuid.UUID(nil), orderedIDs...)
	for _, q := range rest {
		ids = append(ids, q.ID)
	}

	changed := make([]models.Question, 0, len(ids))
	for i, id := range ids {
		q := s.questions[id]
		if q.DisplayOrder == i && i >= len(orderedIDs) {
			continue
		}
		q.DisplayOrder = i
		s.touch(q)
		changed = append(changed, *q.Clone())
	}
	return changed, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, questions.ErrNotFound
	}
	delete(s.questions, id)
	return q.Clone(), nil
}

// guard returns the live row when cond holds. Caller holds the write lock.
func (s *Store) guard(id uuid.UUID, cond questions.Condition) (*models.Question, error) {
	q, ok := s.questions[id]
	if !ok {
		return nil, questions.ErrNotFound
	}
	if cond.ExpectedVersion != nil && *cond.ExpectedVersion != q.Version {
		return nil, questions.ErrVersionConflict
	}
	if !cond.Allows(q.Status) {
		return nil, &questions.StateError{From: q.Status}
	}
	return q, nil
}

func (s *Store) touch(q *models.Question) {
	q.Version++
	q.UpdatedAt = s.now().UTC()
}

// Directory is an in-memory session and presenter directory.
type Directory struct {
	mu         sync.RWMutex
	settings   map[uuid.UUID]json.RawMessage
	presenters map[uuid.UUID]models.Presenter
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		settings:   make(map[uuid.UUID]json.RawMessage),
		presenters: make(map[uuid.UUID]models.Presenter),
	}
}

// AddSession makes a session known with empty settings.
func (d *Directory) AddSession(sessionID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.settings[sessionID]; !ok {
		d.settings[sessionID] = json.RawMessage(`{}`)
	}
}

// SetBroadcastSettings stores opaque settings for a session.
func (d *Directory) SetBroadcastSettings(sessionID uuid.UUID, raw json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings[sessionID] = append(json.RawMessage(nil), raw...)
}

// AddPresenter registers a presenter, assigning an ID when empty.
func (d *Directory) AddPresenter(p models.Presenter) models.Presenter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, ok := d.settings[p.SessionID]; !ok {
		d.settings[p.SessionID] = json.RawMessage(`{}`)
	}
	d.presenters[p.ID] = p
	return p
}

// UpdateBroadcastSettings stores settings for a known session. Sessions become known through
// SetBroadcastSettings or AddPresenter.
func (d *Directory) UpdateBroadcastSettings(ctx context.Context, sessionID uuid.UUID, raw json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.settings[sessionID]; !ok {
		return questions.ErrNotFound
	}
	d.settings[sessionID] = append(json.RawMessage(nil), raw...)
	return nil
}

func (d *Directory) BroadcastSettings(ctx context.Context, sessionID uuid.UUID) (json.RawMessage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, ok := d.settings[sessionID]
	if !ok {
		return json.RawMessage(`{}`), nil
	}
	return append(json.RawMessage(nil), raw...), nil
}

func (d *Directory) GetPresenter(ctx context.Context, sessionID, presenterID uuid.UUID) (*models.Presenter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.presenters[presenterID]
	if !ok || p.SessionID != sessionID {
		return nil, questions.ErrNotFound
	}
	return &p, nil
}

// ListPresenters returns the session's confirmed directory entries.
func (d *Directory) ListPresenters(ctx context.Context, sessionID uuid.UUID) ([]models.Presenter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []models.Presenter
	for _, p := range d.presenters {
		if p.SessionID == sessionID && p.Confirmed {
			out = append(out, p)
		}
	}
	return out, nil
}
