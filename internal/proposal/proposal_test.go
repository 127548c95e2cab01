package proposal

import (
	"testing"
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idGen() func() string {
	n := 0
	return func() string { n++; return "prop_test" }
}

func TestHappyPathLifecycle(t *testing.T) {
	e := New(time.Minute, idGen())
	now := time.Now()

	p := e.Create("alice", "bob", "do the thing", "10", "ELO", "", "", 10, now.Add(time.Hour), "sig1", now)
	assert.Equal(t, core.ProposalPending, p.Status)

	accepted, err := e.Accept(p.ID, "bob", "", 10, "sig2", now)
	require.NoError(t, err)
	assert.Equal(t, core.ProposalAccepted, accepted.Status)

	completed, err := e.Complete(p.ID, "bob", "tx:0x1", "sig3", now)
	require.NoError(t, err)
	assert.Equal(t, core.ProposalCompleted, completed.Status)
}

func TestOnlyPartyMayTransition(t *testing.T) {
	e := New(time.Minute, idGen())
	now := time.Now()
	p := e.Create("alice", "bob", "task", "", "", "", "", 0, time.Time{}, "sig1", now)

	_, err := e.Accept(p.ID, "mallory", "", 0, "sig", now)
	assert.ErrorIs(t, err, ErrNotParty)
}

func TestRepeatedAcceptIsIdempotentOnlyWithSameSig(t *testing.T) {
	e := New(time.Minute, idGen())
	now := time.Now()
	p := e.Create("alice", "bob", "task", "", "", "", "", 0, time.Time{}, "sig1", now)

	_, err := e.Accept(p.ID, "bob", "", 0, "sigA", now)
	require.NoError(t, err)

	// Same signature: no-op.
	_, err = e.Accept(p.ID, "bob", "", 0, "sigA", now)
	assert.NoError(t, err)

	// Different signature while already accepted: invalid transition.
	_, err = e.Accept(p.ID, "bob", "", 0, "sigB", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpiryFlipsLazily(t *testing.T) {
	e := New(time.Minute, idGen())
	now := time.Now()
	p := e.Create("alice", "bob", "task", "", "", "", "", 0, now.Add(-time.Second), "sig1", now)

	_, err := e.Accept(p.ID, "bob", "", 0, "sig", now)
	assert.ErrorIs(t, err, ErrExpired)

	got, _ := e.Get(p.ID)
	assert.Equal(t, core.ProposalExpired, got.Status)
}

func TestCompleteThenDisputeWithinWindow(t *testing.T) {
	e := New(time.Minute, idGen())
	now := time.Now()
	p := e.Create("alice", "bob", "task", "", "", "", "", 0, time.Time{}, "sig1", now)
	_, err := e.Accept(p.ID, "bob", "", 0, "sig2", now)
	require.NoError(t, err)
	_, err = e.Complete(p.ID, "bob", "proof", "sig3", now)
	require.NoError(t, err)

	_, err = e.Dispute(p.ID, "alice", "bad work", now.Add(30*time.Minute))
	assert.NoError(t, err)
}

func TestDisputeAfterWindowRejected(t *testing.T) {
	e := New(time.Minute, idGen())
	now := time.Now()
	p := e.Create("alice", "bob", "task", "", "", "", "", 0, time.Time{}, "sig1", now)
	_, _ = e.Accept(p.ID, "bob", "", 0, "sig2", now)
	_, _ = e.Complete(p.ID, "bob", "proof", "sig3", now)

	_, err := e.Dispute(p.ID, "alice", "bad work", now.Add(DisputeWindow+time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
