package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepulse/backend/internal/models"
)

func TestReplicaAppliesFullRowReplace(t *testing.T) {
	r := NewReplica()
	a := models.Question{ID: uuid.New(), Status: models.StatusPending, DisplayOrder: 1}
	b := models.Question{ID: uuid.New(), Status: models.StatusApproved, DisplayOrder: 0}
	r.Reset([]models.Question{a, b})
	require.Equal(t, 2, r.Len())

	updated := a
	updated.Status = models.StatusApproved
	updated.IsBroadcasting = true
	r.Apply(ChangeEvent{Kind: KindUpdate, Row: &updated})
	r.Apply(ChangeEvent{Kind: KindUpdate, Row: &updated})

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusApproved, got.Status)
	require.NotNil(t, r.Broadcasting())
	assert.Equal(t, a.ID, r.Broadcasting().ID)

	rows := r.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, b.ID, rows[0].ID)

	r.Apply(ChangeEvent{Kind: KindDelete, Row: &models.Question{ID: a.ID}})
	_, ok = r.Get(a.ID)
	assert.False(t, ok)
	assert.Nil(t, r.Broadcasting())

	r.Apply(ChangeEvent{Kind: KindDelete, Row: &models.Question{ID: uuid.New()}})
	assert.Equal(t, 1, r.Len())
}

func TestReplicaInsertAndSettings(t *testing.T) {
	r := NewReplica()
	q := models.Question{ID: uuid.New(), Content: "new"}
	r.Apply(ChangeEvent{Kind: KindInsert, Row: &q})
	q.Content = "changed after apply"

	got, ok := r.Get(q.ID)
	require.True(t, ok)
	assert.Equal(t, "new", got.Content)

	assert.Empty(t, r.Settings())
	r.SetSettings(json.RawMessage(`{"theme":"dark"}`))
	assert.JSONEq(t, `{"theme":"dark"}`, string(r.Settings()))
}

func TestDecodeSnapshot(t *testing.T) {
	id := uuid.New()
	rows, settings, err := decodeSnapshot([]byte(`{"questions":[{"id":"` + id.String() + `"}]}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	assert.Nil(t, settings)

	rows, settings, err = decodeSnapshot([]byte(`{"broadcast_settings":{"logo":true},"question":{"id":"` + id.String() + `"}}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"logo":true}`, string(settings))

	rows, _, err = decodeSnapshot([]byte(`{"broadcast_settings":{},"question":null}`))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
