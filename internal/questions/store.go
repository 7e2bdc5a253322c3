package questions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/livepulse/backend/internal/models"
)

// Store is the question persistence contract. Repository (PostgreSQL) and memory.Store implement it.
//
// Every method that writes returns the post-write rows so the caller can fan them out as
// full-row snapshots.
type Store interface {
	// Create inserts q, assigning ID, CreatedAt, Version and DisplayOrder (session max + 1).
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	// ListBySession returns the session's questions in console order, optionally filtered by status.
	ListBySession(ctx context.Context, sessionID uuid.UUID, statuses []models.QuestionStatus) ([]models.Question, error)
	// Update applies patch to one row when cond holds. When it does not, the error is
	// ErrNotFound, ErrVersionConflict or a *StateError carrying the current status.
	Update(ctx context.Context, id uuid.UUID, cond Condition, patch Patch) (*models.Question, error)
	// IncrementLikes adds one like when cond holds.
	IncrementLikes(ctx context.Context, id uuid.UUID, cond Condition) (*models.Question, error)
	// ClearHighlights unsets is_highlighted on every question of the session except keep.
	ClearHighlights(ctx context.Context, sessionID, keep uuid.UUID) ([]models.Question, error)
	// ToggleBroadcast atomically stops id if it is broadcasting, otherwise stops whichever
	// other question of the session is broadcasting and starts id. Starting requires an
	// approved or answered question.
	ToggleBroadcast(ctx context.Context, id uuid.UUID) ([]models.Question, error)
	// Reorder sets display_order to the slice index of every id, in one atomic write.
	Reorder(ctx context.Context, sessionID uuid.UUID, orderedIDs []uuid.UUID) ([]models.Question, error)
	// Delete hard-deletes the row and returns its last state.
	Delete(ctx context.Context, id uuid.UUID) (*models.Question, error)
}

// SessionDirectory is the read side of the external session and presenter records.
type SessionDirectory interface {
	BroadcastSettings(ctx context.Context, sessionID uuid.UUID) (json.RawMessage, error)
	GetPresenter(ctx context.Context, sessionID, presenterID uuid.UUID) (*models.Presenter, error)
}

// Condition guards a single-row write. Zero value means unconditional.
type Condition struct {
	Statuses        []models.QuestionStatus // row status must be one of these
	ExpectedVersion *int                    // row version must equal this
}

// Allows reports whether status satisfies the status part of the condition.
func (c Condition) Allows(status models.QuestionStatus) bool {
	if len(c.Statuses) == 0 {
		return true
	}
	for _, s := range c.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// PresenterPatch is the stored form of a presenter assignment.
type PresenterPatch struct {
	ID    *uuid.UUID
	Type  models.PresenterType
	Name  *string
	Title *string
}

// Patch lists the columns a write changes. Nil pointers leave a column untouched; nullable
// columns that may be reset carry an explicit Set flag.
type Patch struct {
	Status         *models.QuestionStatus
	IsPinned       *bool
	IsHighlighted  *bool
	IsDisplayed    *bool
	IsBroadcasting *bool

	Answer     *string
	AnsweredBy *uuid.UUID
	AnsweredAt *time.Time

	SetRejectReason bool
	RejectReason    *string

	ModeratedBy *uuid.UUID
	ModeratedAt *time.Time

	SetPresenter bool
	Presenter    *PresenterPatch // nil with SetPresenter clears the assignment
}

// Apply writes the patch into q. Stores use it so both adapters share one definition of
// what each field means.
func (p Patch) Apply(q *models.Question) {
	if p.Status != nil {
		q.Status = *p.Status
	}
	if p.IsPinned != nil {
		q.IsPinned = *p.IsPinned
	}
	if p.IsHighlighted != nil {
		q.IsHighlighted = *p.IsHighlighted
	}
	if p.IsDisplayed != nil {
		q.IsDisplayed = *p.IsDisplayed
	}
	if p.IsBroadcasting != nil {
		q.IsBroadcasting = *p.IsBroadcasting
	}
	if p.Answer != nil {
		v := *p.Answer
		q.Answer = &v
	}
	if p.AnsweredBy != nil {
		v := *p.AnsweredBy
		q.AnsweredBy = &v
	}
	if p.AnsweredAt != nil {
		v := *p.AnsweredAt
		q.AnsweredAt = &v
	}
	if p.SetRejectReason {
		q.RejectReason = nil
		if p.RejectReason != nil {
			v := *p.RejectReason
			q.RejectReason = &v
		}
	}
	if p.ModeratedBy != nil {
		v := *p.ModeratedBy
		q.ModeratedBy = &v
	}
	if p.ModeratedAt != nil {
		v := *p.ModeratedAt
		q.ModeratedAt = &v
	}
	if p.SetPresenter {
		q.PresenterID, q.PresenterType, q.PresenterName, q.PresenterTitle = nil, nil, nil, nil
		if pp := p.Presenter; pp != nil {
			t := pp.Type
			q.PresenterType = &t
			if pp.ID != nil {
				id := *pp.ID
				q.PresenterID = &id
			}
			if pp.Name != nil {
				v := *pp.Name
				q.PresenterName = &v
			}
			if pp.Title != nil {
				v := *pp.Title
				q.PresenterTitle = &v
			}
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func statusPtr(s models.QuestionStatus) *models.QuestionStatus { return &s }
