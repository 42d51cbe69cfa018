package session_test

import (
	"testing"

	"github.com/MegaGrindStone/llama-chat/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerSingleLiveToken(t *testing.T) {
	var c session.Controller

	_, ok := c.Live()
	assert.False(t, ok)

	first := c.Start()
	live, ok := c.Live()
	require.True(t, ok)
	assert.Equal(t, first.ID, live.ID)
	require.NoError(t, first.Context().Err())

	second := c.Start()
	require.Error(t, first.Context().Err(), "starting a new token cancels the previous one")
	assert.False(t, c.IsLive(first))
	assert.True(t, c.IsLive(second))

	assert.False(t, c.Cancel(first), "cancelling a superseded token is a no-op")
	require.NoError(t, second.Context().Err())

	assert.True(t, c.Cancel(second))
	require.Error(t, second.Context().Err())
	assert.False(t, c.Cancel(second), "cancelling twice is a no-op")

	_, ok = c.Live()
	assert.False(t, ok)
}

func TestControllerDone(t *testing.T) {
	var c session.Controller

	tok := c.Start()
	assert.True(t, c.Done(tok))
	assert.False(t, c.IsLive(tok))
	assert.False(t, c.Cancel(tok), "cancelling a completed token is a no-op")
	assert.False(t, c.Done(tok))
}
