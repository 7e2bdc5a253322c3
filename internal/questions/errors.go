package questions

import (
	"errors"
	"fmt"

	"github.com/livepulse/backend/internal/models"
)

var (
	// ErrNotFound is returned when the question (or session) does not exist.
	ErrNotFound = errors.New("question not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState is matched by every *StateError.
	ErrInvalidState = errors.New("invalid question state")
	// ErrVersionConflict is returned when an expected version no longer matches the stored row.
	ErrVersionConflict = errors.New("question was modified by another moderator")
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError reports bad input rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// StateError reports an operation attempted from a status that does not allow it.
type StateError struct {
	Op   string
	From models.QuestionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s a question in status %q", e.Op, e.From)
}

// Is makes errors.Is(err, ErrInvalidState) true.
func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// PersistenceError wraps a store or network failure. The row is left as it was last read;
// callers refetch to resynchronize.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) true.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// persistence wraps store errors that are not already domain errors.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StateError
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict),
		errors.As(err, &se), errors.As(err, &ve), errors.Is(err, ErrPersistence):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
