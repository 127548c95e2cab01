package registry

import (
	"testing"
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndRemoveConnection(t *testing.T) {
	r := New()
	defer r.Stop()

	r.AddConnection(&core.Connection{ID: "c1", ConnectedAt: time.Now(), Alive: true})
	c, ok := r.Connection("c1")
	require.True(t, ok)
	assert.True(t, c.Alive)

	r.RemoveConnection("c1")
	_, ok = r.Connection("c1")
	assert.False(t, ok)
}

func TestAgentLifecycleAndDisplace(t *testing.T) {
	r := New()
	defer r.Stop()

	r.AddConnection(&core.Connection{ID: "c1"})
	r.AddAgent(&core.Agent{ID: "a1", ConnID: "c1", PubKeyPEM: "PEM-A"})

	found, ok := r.AgentByPubkey("PEM-A")
	require.True(t, ok)
	assert.Equal(t, "a1", found.ID)

	r.AddConnection(&core.Connection{ID: "c2"})
	displacedConn, ok := r.Displace("PEM-A")
	require.True(t, ok)
	assert.Equal(t, "c1", displacedConn)

	_, ok = r.Agent("a1")
	assert.False(t, ok)
}

func TestNickClaimAndCollision(t *testing.T) {
	r := New()
	defer r.Stop()

	r.AddAgent(&core.Agent{ID: "a1", ConnID: "c1"})
	r.AddAgent(&core.Agent{ID: "a2", ConnID: "c2"})

	require.NoError(t, r.SetNick("a1", "alice"))
	id, ok := r.AgentByNick("alice")
	require.True(t, ok)
	assert.Equal(t, "a1", id)

	err := r.SetNick("a2", "alice")
	assert.Error(t, err)
}

func TestFirstSeenRecordsOnce(t *testing.T) {
	r := New()
	defer r.Stop()

	now := time.Now()
	t1, isNew := r.FirstSeen("PEM-X", now)
	assert.True(t, isNew)

	later := now.Add(time.Hour)
	t2, isNew2 := r.FirstSeen("PEM-X", later)
	assert.False(t, isNew2)
	assert.Equal(t, t1, t2)
}

func TestChallengeExpiry(t *testing.T) {
	r := New()
	defer r.Stop()

	r.AddChallenge(&core.PendingChallenge{
		ConnID:      "c1",
		ChallengeID: "ch1",
		ExpiresAt:   time.Now().Add(-time.Second),
	})
	r.expirePending()
	_, ok := r.Challenge("ch1")
	assert.False(t, ok)
}
