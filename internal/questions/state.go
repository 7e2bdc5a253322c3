package questions

import "github.com/livepulse/backend/internal/models"

// Action names a moderation operation. They double as audit and metric labels.
type Action string

const (
	ActionSubmit          Action = "submit"
	ActionAddManual       Action = "add_manual"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionAnswer          Action = "answer"
	ActionHide            Action = "hide"
	ActionUnhide          Action = "unhide"
	ActionPin             Action = "pin"
	ActionUnpin           Action = "unpin"
	ActionHighlight       Action = "highlight"
	ActionUnhighlight     Action = "unhighlight"
	ActionToggleBroadcast Action = "toggle_broadcast"
	ActionToggleDisplay   Action = "toggle_display"
	ActionAssignPresenter Action = "assign_presenter"
	ActionReorder         Action = "reorder"
	ActionLike            Action = "like"
	ActionDelete          Action = "delete"
)

type transition struct {
	from []models.QuestionStatus
	to   models.QuestionStatus
}

// transitions is the moderation state machine. Actions absent from the table do not change status.
var transitions = map[Action]transition{
	ActionApprove: {from: []models.QuestionStatus{models.StatusPending}, to: models.StatusApproved},
	ActionReject:  {from: []models.QuestionStatus{models.StatusPending}, to: models.StatusRejected},
	ActionAnswer:  {from: []models.QuestionStatus{models.StatusApproved, models.StatusAnswered}, to: models.StatusAnswered},
	ActionHide:    {from: []models.QuestionStatus{models.StatusApproved, models.StatusAnswered}, to: models.StatusHidden},
	// unhide never restores a prior answered state
	ActionUnhide: {from: []models.QuestionStatus{models.StatusHidden}, to: models.StatusApproved},
}

// onScreenStatuses gates the flags that put a question in front of the audience.
var onScreenStatuses = []models.QuestionStatus{models.StatusApproved, models.StatusAnswered}

// statusGuard returns the statuses action may be applied from; nil means any.
func statusGuard(action Action) []models.QuestionStatus {
	if t, ok := transitions[action]; ok {
		return t.from
	}
	switch action {
	case ActionToggleBroadcast, ActionToggleDisplay, ActionLike:
		return onScreenStatuses
	}
	return nil
}

// CanApply reports whether action is legal for a question currently in status from.
func CanApply(action Action, from models.QuestionStatus) bool {
	return Condition{Statuses: statusGuard(action)}.Allows(from)
}

// Target returns the status action moves a question to, and false for flag-only actions.
func Target(action Action) (models.QuestionStatus, bool) {
	t, ok := transitions[action]
	return t.to, ok
}

func checkState(action Action, q *models.Question) error {
	if !CanApply(action, q.Status) {
		return &StateError{Op: string(action), From: q.Status}
	}
	return nil
}
