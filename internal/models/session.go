package models

import (
	"github.com/google/uuid"
)

// Presenter is an entry of the session's presenter directory.
type Presenter struct {
	ID        uuid.UUID     `json:"id"`
	SessionID uuid.UUID     `json:"session_id"`
	Kind      PresenterType `json:"kind"`
	Name      string        `json:"name"`
	Title     string        `json:"title"`
	Confirmed bool          `json:"confirmed"`
}
