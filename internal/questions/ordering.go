package questions

import (
	"fmt"

	"github.com/google/uuid"
)

// validateOrder checks a reorder request before any write: non-empty, no nil ids, no duplicates.
func validateOrder(ids []uuid.UUID) error {
	if len(ids) == 0 {
		return &ValidationError{Field: "ordered_ids", Reason: "must not be empty"}
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for i, id := range ids {
		if id == uuid.Nil {
			return &ValidationError{Field: "ordered_ids", Reason: fmt.Sprintf("entry %d is not a question id", i)}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "ordered_ids", Reason: fmt.Sprintf("question %s listed twice", id)}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ForeignIDsError is returned by stores when a reorder names questions outside the session.
func ForeignIDsError(n int) error {
	return &ValidationError{Field: "ordered_ids", Reason: fmt.Sprintf("%d ids do not belong to the session", n)}
}
