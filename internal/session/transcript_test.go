package session_test

import (
	"testing"

	"github.com/MegaGrindStone/llama-chat/internal/models"
	"github.com/MegaGrindStone/llama-chat/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendUser(t *testing.T) {
	tr := session.NewTranscript()

	first := tr.AppendUser("hi", nil)
	before := tr.Turns()

	images := []string{"data:image/png;base64,AAAA"}
	second := tr.AppendUser("look", images)
	images[0] = "mutated"

	turns := tr.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, before[0], turns[0], "appending must not touch existing turns")
	assert.Equal(t, first.ID, turns[0].ID)
	assert.Equal(t, second.ID, turns[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, turns[1].IsUser())
	assert.True(t, turns[1].Closed)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, turns[1].Images)
}

func TestTranscriptStreamingReply(t *testing.T) {
	tr := session.NewTranscript()
	tr.AppendUser("hi", nil)

	turn, err := tr.BeginOrExtendAssistant("He")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, turn.Role)
	assert.Equal(t, "He", turn.Text)
	assert.False(t, turn.Closed)
	assert.Equal(t, 2, tr.Len())

	extended, err := tr.BeginOrExtendAssistant("Hello")
	require.NoError(t, err)
	assert.Equal(t, turn.ID, extended.ID)
	assert.Equal(t, "Hello", extended.Text)
	assert.Equal(t, 2, tr.Len(), "extending must not append")

	again, err := tr.BeginOrExtendAssistant("Hello")
	require.NoError(t, err)
	assert.Equal(t, extended, again, "applying the same cumulative text twice is idempotent")

	final, err := tr.FinalizeAssistant("Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", final.Text)
	assert.True(t, final.Closed)
	assert.False(t, final.Interrupted)

	_, err = tr.BeginOrExtendAssistant("Hello!")
	require.ErrorIs(t, err, session.ErrNoOpenTurn, "a finalized turn accepts no fragment")
	_, err = tr.FinalizeAssistant("Hello!")
	require.ErrorIs(t, err, session.ErrNoOpenTurn)

	tr.AppendUser("again", nil)
	next, err := tr.BeginOrExtendAssistant("Sure")
	require.NoError(t, err)
	assert.NotEqual(t, final.ID, next.ID)
	assert.Equal(t, 4, tr.Len())
}

func TestTranscriptFinalizeOverridesFragments(t *testing.T) {
	tr := session.NewTranscript()
	tr.AppendUser("hi", nil)

	for _, c := range []string{"a", "ab", "abX"} {
		_, err := tr.BeginOrExtendAssistant(c)
		require.NoError(t, err)
	}

	final, err := tr.FinalizeAssistant("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", final.Text)
	assert.Equal(t, "abc", tr.Turns()[1].Text)
}

func TestTranscriptFinalizeEmptyReply(t *testing.T) {
	tr := session.NewTranscript()
	tr.AppendUser("hi", nil)

	final, err := tr.FinalizeAssistant("")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, final.Role)
	assert.Empty(t, final.Text)
	assert.True(t, final.Closed)
	assert.Equal(t, 2, tr.Len())
}

func TestTranscriptEmpty(t *testing.T) {
	tr := session.NewTranscript()

	_, err := tr.BeginOrExtendAssistant("x")
	require.ErrorIs(t, err, session.ErrNoOpenTurn)
	_, err = tr.FinalizeAssistant("x")
	require.ErrorIs(t, err, session.ErrNoOpenTurn)
	_, ok := tr.Interrupt()
	assert.False(t, ok)
	assert.Empty(t, tr.History())
}

func TestTranscriptInterrupt(t *testing.T) {
	tr := session.NewTranscript()
	tr.AppendUser("hi", nil)

	_, ok := tr.Interrupt()
	assert.False(t, ok, "nothing to interrupt before the first fragment")

	_, err := tr.BeginOrExtendAssistant("par")
	require.NoError(t, err)

	turn, ok := tr.Interrupt()
	require.True(t, ok)
	assert.Equal(t, "par", turn.Text)
	assert.True(t, turn.Closed)
	assert.True(t, turn.Interrupted)

	_, err = tr.BeginOrExtendAssistant("partial")
	require.ErrorIs(t, err, session.ErrNoOpenTurn)
}

func TestTranscriptHistory(t *testing.T) {
	tr := session.NewTranscript()
	tr.AppendUser("look", []string{"data:image/png;base64,AAAA"})
	_, err := tr.FinalizeAssistant("a cat")
	require.NoError(t, err)

	assert.Equal(t, []models.OutgoingMessage{
		{Role: models.RoleUser, Content: "look", Images: []string{"AAAA"}},
		{Role: models.RoleAssistant, Content: "a cat"},
	}, tr.History())
}
