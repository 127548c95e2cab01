package channelrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCreatesChannelAndLeaveRestoresState(t *testing.T) {
	r := New(200)

	ch, created := r.EnsureChannel("#general", false)
	require.True(t, created)
	r.Join(ch, "c1")
	assert.True(t, r.IsMember(ch, "c1"))
	assert.Len(t, r.Replay(ch), 0)

	r.Append(ch, "MSG", map[string]any{"content": "hi"})
	assert.Len(t, r.Replay(ch), 1)

	r.Leave(ch, "c1")
	assert.False(t, r.IsMember(ch, "c1"))
	// buffer is untouched by membership changes
	assert.Len(t, r.Replay(ch), 1)
}

func TestOpsChannelIsVerifiedOnly(t *testing.T) {
	r := New(200)
	ch, _ := r.EnsureChannel("#ops", false)
	assert.True(t, ch.VerifiedOnly)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("#general"))
	assert.True(t, ValidName("#a-b_c9"))
	assert.False(t, ValidName("general"))
	assert.False(t, ValidName("#has space"))
}

func TestReplayBufferBounded(t *testing.T) {
	r := New(3)
	ch, _ := r.EnsureChannel("#small", false)
	for i := 0; i < 5; i++ {
		r.Append(ch, "MSG", map[string]any{"i": i})
	}
	buf := r.Replay(ch)
	require.Len(t, buf, 3)
	assert.Equal(t, 2, buf[0].Payload["i"])
	assert.Equal(t, 4, buf[2].Payload["i"])
}

func TestCreateExplicitRejectsDuplicate(t *testing.T) {
	r := New(200)
	require.NoError(t, r.CreateExplicit("#new", true))
	err := r.CreateExplicit("#new", true)
	assert.Error(t, err)
}
