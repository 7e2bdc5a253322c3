package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the moderation status of a question.
type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusApproved QuestionStatus = "approved"
	StatusRejected QuestionStatus = "rejected"
	StatusAnswered QuestionStatus = "answered"
	StatusHidden   QuestionStatus = "hidden"
)

// Valid reports whether s is a known status.
func (s QuestionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusAnswered, StatusHidden:
		return true
	}
	return false
}

// Visible reports whether questions in this status are shown to the audience.
func (s QuestionStatus) Visible() bool {
	return s == StatusApproved || s == StatusAnswered
}

// PresenterType tags which directory a question's presenter came from.
type PresenterType string

const (
	PresenterMember  PresenterType = "member"
	PresenterPartner PresenterType = "partner"
	PresenterManual  PresenterType = "manual"
)

// Question is an audience (or moderator-entered) question in a live session.
type Question struct {
	ID             uuid.UUID      `json:"id"`
	SessionID      uuid.UUID      `json:"session_id"`
	Content        string         `json:"content"`
	AuthorName     *string        `json:"author_name"`
	IsAnonymous    bool           `json:"is_anonymous"`
	Status         QuestionStatus `json:"status"`
	IsPinned       bool           `json:"is_pinned"`
	IsHighlighted  bool           `json:"is_highlighted"`
	IsBroadcasting bool           `json:"is_broadcasting"`
	IsDisplayed    bool           `json:"is_displayed"`
	PresenterID    *uuid.UUID     `json:"presenter_id"`
	PresenterType  *PresenterType `json:"presenter_type"`
	PresenterName  *string        `json:"presenter_name,omitempty"`
	PresenterTitle *string        `json:"presenter_title,omitempty"`
	DisplayOrder   int            `json:"display_order"`
	LikesCount     int            `json:"likes_count"`
	Answer         *string        `json:"answer"`
	RejectReason   *string        `json:"reject_reason"`
	ModeratedBy    *uuid.UUID     `json:"moderated_by"`
	ModeratedAt    *time.Time     `json:"moderated_at"`
	AnsweredBy     *uuid.UUID     `json:"answered_by"`
	AnsweredAt     *time.Time     `json:"answered_at"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so snapshots handed to subscribers never alias store state.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	c := *q
	c.AuthorName = cloneString(q.AuthorName)
	c.PresenterName = cloneString(q.PresenterName)
	c.PresenterTitle = cloneString(q.PresenterTitle)
	c.Answer = cloneString(q.Answer)
	c.RejectReason = cloneString(q.RejectReason)
	if q.PresenterID != nil {
		id := *q.PresenterID
		c.PresenterID = &id
	}
	if q.PresenterType != nil {
		t := *q.PresenterType
		c.PresenterType = &t
	}
	if q.ModeratedBy != nil {
		id := *q.ModeratedBy
		c.ModeratedBy = &id
	}
	if q.AnsweredBy != nil {
		id := *q.AnsweredBy
		c.AnsweredBy = &id
	}
	if q.ModeratedAt != nil {
		t := *q.ModeratedAt
		c.ModeratedAt = &t
	}
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		c.AnsweredAt = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
