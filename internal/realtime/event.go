package realtime

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/livepulse/backend/internal/models"
)

// EventKind is the change type of a ChangeEvent.
type EventKind string

const (
	KindInsert EventKind = "insert"
	KindUpdate EventKind = "update"
	KindDelete EventKind = "delete"
)

// Wire event names.
const (
	EventQuestionChange    = "question_change"
	EventBroadcastSettings = "broadcast_settings"
	EventResync            = "resync"
)

// ChangeEvent carries the full post-write row. Applying it is an idempotent full-row
// replace (or removal for KindDelete).
type ChangeEvent struct {
	Kind      EventKind        `json:"kind"`
	SessionID uuid.UUID        `json:"session_id"`
	Row       *models.Question `json:"row"`
}

// View is a subscriber class.
type View string

const (
	ViewModerator View = "moderator"
	ViewAudience  View = "audience"
	ViewScreen    View = "screen"
)

// ParseView validates a view name; empty defaults to audience.
func ParseView(s string) (View, error) {
	switch View(s) {
	case "":
		return ViewAudience, nil
	case ViewModerator, ViewAudience, ViewScreen:
		return View(s), nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// Valid reports whether v names a known subscriber class.
func (v View) Valid() bool {
	return v == ViewModerator || v == ViewAudience || v == ViewScreen
}

// Privileged reports whether the view may see every status.
func (v View) Privileged() bool { return v == ViewModerator }

// Project maps a change event onto what subscribers of view v should apply.
// Rows a view must not show are turned into deletes so a client that still holds them
// drops them; inserts of such rows are not delivered at all.
func (v View) Project(ev ChangeEvent) (ChangeEvent, bool) {
	if ev.Row == nil {
		return ev, false
	}
	switch v {
	case ViewModerator:
		return ev, true
	case ViewAudience:
		if ev.Kind != KindDelete && ev.Row.Status.Visible() {
			return ChangeEvent{Kind: ev.Kind, SessionID: ev.SessionID, Row: PublicRow(ev.Row)}, true
		}
	case ViewScreen:
		if ev.Kind != KindDelete && ev.Row.IsBroadcasting {
			return ChangeEvent{Kind: KindUpdate, SessionID: ev.SessionID, Row: PublicRow(ev.Row)}, true
		}
	default:
		return ev, false
	}
	if ev.Kind == KindInsert {
		return ev, false
	}
	return ChangeEvent{Kind: KindDelete, SessionID: ev.SessionID, Row: tombstone(ev.Row)}, true
}

// PublicRow strips moderation metadata and the author of anonymous questions.
func PublicRow(q *models.Question) *models.Question {
	out := q.Clone()
	out.ModeratedBy = nil
	out.ModeratedAt = nil
	out.RejectReason = nil
	if out.IsAnonymous {
		out.AuthorName = nil
	}
	return out
}

func tombstone(q *models.Question) *models.Question {
	return &models.Question{ID: q.ID, SessionID: q.SessionID}
}
