package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/livepulse/backend/internal/models"
)

// Replica is a subscriber-side copy of a session's questions. Every event is applied as a
// full-row replace, so replicas converge regardless of cross-row delivery order.
type Replica struct {
	mu       sync.RWMutex
	rows     map[uuid.UUID]models.Question
	settings json.RawMessage
}

// NewReplica creates an empty replica.
func NewReplica() *Replica {
	return &Replica{rows: make(map[uuid.UUID]models.Question)}
}

// Reset replaces the whole replica with an authoritative list.
func (r *Replica) Reset(rows []models.Question) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = make(map[uuid.UUID]models.Question, len(rows))
	for _, q := range rows {
		r.rows[q.ID] = *q.Clone()
	}
}

// Apply applies one change event.
func (r *Replica) Apply(ev ChangeEvent) {
	if ev.Row == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Kind == KindDelete {
		delete(r.rows, ev.Row.ID)
		return
	}
	r.rows[ev.Row.ID] = *ev.Row.Clone()
}

// SetSettings stores the latest broadcast settings.
func (r *Replica) SetSettings(raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = append(json.RawMessage(nil), raw...)
}

// Settings returns the latest broadcast settings, if any were received.
func (r *Replica) Settings() json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(json.RawMessage(nil), r.settings...)
}

// Get returns one row.
func (r *Replica) Get(id uuid.UUID) (models.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.rows[id]
	return q, ok
}

// Rows returns the replica in console order.
func (r *Replica) Rows() []models.Question {
	r.mu.RLock()
	list := make([]models.Question, 0, len(r.rows))
	for _, q := range r.rows {
		list = append(list, *q.Clone())
	}
	r.mu.RUnlock()
	models.SortForConsole(list)
	return list
}

// Broadcasting returns the row currently marked is_broadcasting, or nil.
func (r *Replica) Broadcasting() *models.Question {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.rows {
		if q.IsBroadcasting {
			return q.Clone()
		}
	}
	return nil
}

// Len returns the number of rows held.
func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
