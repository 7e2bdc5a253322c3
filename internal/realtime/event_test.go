package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livepulse/backend/internal/models"
)

func row(status models.QuestionStatus) *models.Question {
	moderator := uuid.New()
	name := "Ada"
	return &models.Question{
		ID:          uuid.New(),
		SessionID:   uuid.New(),
		Content:     "question",
		Status:      status,
		AuthorName:  &name,
		IsAnonymous: true,
		ModeratedBy: &moderator,
	}
}

func TestParseView(t *testing.T) {
	v, err := ParseView("")
	require.NoError(t, err)
	assert.Equal(t, ViewAudience, v)

	v, err = ParseView("screen")
	require.NoError(t, err)
	assert.Equal(t, ViewScreen, v)

	_, err = ParseView("admin")
	assert.Error(t, err)
	assert.False(t, View("admin").Valid())
}

func TestModeratorSeesEverything(t *testing.T) {
	ev := ChangeEvent{Kind: KindInsert, Row: row(models.StatusPending)}
	got, ok := ViewModerator.Project(ev)
	require.True(t, ok)
	assert.Equal(t, ev, got)
}

func TestAudienceProjection(t *testing.T) {
	pending := row(models.StatusPending)
	_, ok := ViewAudience.Project(ChangeEvent{Kind: KindInsert, SessionID: pending.SessionID, Row: pending})
	assert.False(t, ok, "pending inserts are not delivered")

	approved := row(models.StatusApproved)
	got, ok := ViewAudience.Project(ChangeEvent{Kind: KindUpdate, SessionID: approved.SessionID, Row: approved})
	require.True(t, ok)
	assert.Equal(t, KindUpdate, got.Kind)
	assert.Nil(t, got.Row.ModeratedBy)
	assert.Nil(t, got.Row.AuthorName)
	assert.NotNil(t, approved.ModeratedBy, "source row is not modified")

	hidden := row(models.StatusHidden)
	got, ok = ViewAudience.Project(ChangeEvent{Kind: KindUpdate, SessionID: hidden.SessionID, Row: hidden})
	require.True(t, ok)
	assert.Equal(t, KindDelete, got.Kind)
	assert.Equal(t, hidden.ID, got.Row.ID)
	assert.Empty(t, got.Row.Content)
}

func TestScreenProjection(t *testing.T) {
	q := row(models.StatusApproved)
	_, ok := ViewScreen.Project(ChangeEvent{Kind: KindInsert, Row: q})
	assert.False(t, ok)

	q.IsBroadcasting = true
	got, ok := ViewScreen.Project(ChangeEvent{Kind: KindUpdate, Row: q})
	require.True(t, ok)
	assert.Equal(t, KindUpdate, got.Kind)
	assert.True(t, got.Row.IsBroadcasting)

	got, ok = ViewScreen.Project(ChangeEvent{Kind: KindDelete, Row: q})
	require.True(t, ok)
	assert.Equal(t, KindDelete, got.Kind)

	q.IsBroadcasting = false
	got, ok = ViewScreen.Project(ChangeEvent{Kind: KindUpdate, Row: q})
	require.True(t, ok)
	assert.Equal(t, KindDelete, got.Kind)
}

func TestProjectWithoutRow(t *testing.T) {
	_, ok := ViewModerator.Project(ChangeEvent{Kind: KindUpdate})
	assert.False(t, ok)
}
