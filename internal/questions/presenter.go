package questions

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/livepulse/backend/internal/models"
)

// PresenterRef is the presenter a question is assigned to. It is a closed set:
// MemberPresenter, PartnerPresenter and ManualPresenter.
type PresenterRef interface {
	presenterType() models.PresenterType
}

// MemberPresenter is a confirmed team member from the presenter directory.
type MemberPresenter struct{ ID uuid.UUID }

// PartnerPresenter is a confirmed invited partner from the presenter directory.
type PartnerPresenter struct{ ID uuid.UUID }

// ManualPresenter is typed in by the moderator and has no directory entry.
type ManualPresenter struct {
	Name  string
	Title string
}

func (MemberPresenter) presenterType() models.PresenterType  { return models.PresenterMember }
func (PartnerPresenter) presenterType() models.PresenterType { return models.PresenterPartner }
func (ManualPresenter) presenterType() models.PresenterType  { return models.PresenterManual }

// ParsePresenterRef builds a ref from its wire form: kind plus either id or name/title.
func ParsePresenterRef(kind string, id *uuid.UUID, name, title string) (PresenterRef, error) {
	switch models.PresenterType(strings.ToLower(strings.TrimSpace(kind))) {
	case models.PresenterMember:
		if id == nil {
			return nil, &ValidationError{Field: "presenter_id", Reason: "required for member presenters"}
		}
		return MemberPresenter{ID: *id}, nil
	case models.PresenterPartner:
		if id == nil {
			return nil, &ValidationError{Field: "presenter_id", Reason: "required for partner presenters"}
		}
		return PartnerPresenter{ID: *id}, nil
	case models.PresenterManual:
		return ManualPresenter{Name: name, Title: title}, nil
	}
	return nil, &ValidationError{Field: "presenter_type", Reason: fmt.Sprintf("unknown kind %q", kind)}
}

func directoryID(ref PresenterRef) (uuid.UUID, bool) {
	switch r := ref.(type) {
	case MemberPresenter:
		return r.ID, true
	case PartnerPresenter:
		return r.ID, true
	case ManualPresenter:
		return uuid.Nil, false
	default:
		panic(fmt.Sprintf("questions: unhandled presenter ref %T", ref))
	}
}
