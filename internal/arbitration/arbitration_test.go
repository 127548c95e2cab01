package arbitration

import (
	"strconv"
	"testing"
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idGen() func() string {
	n := 0
	return func() string {
		n++
		return "d" + strconv.Itoa(n)
	}
}

func poolOf(n int) ArbiterPool {
	return func(exclude []string) ([]EligibleArbiter, map[string]PartyOrg) {
		excluded := map[string]bool{}
		for _, e := range exclude {
			excluded[e] = true
		}
		var out []EligibleArbiter
		for i := 0; i < n; i++ {
			id := "arbiter" + strconv.Itoa(i)
			if excluded[id] {
				continue
			}
			out = append(out, EligibleArbiter{AgentID: id, Rating: 1300, Transactions: 20})
		}
		return out, nil
	}
}

// poolWithOrgs builds a pool where candidates carry the given org (all
// affiliated long before independenceDays would matter) and the two
// excluded parties report partyOrg for independence filtering.
func poolWithOrgs(n int, candidateOrg string, partyOrg string) ArbiterPool {
	return func(exclude []string) ([]EligibleArbiter, map[string]PartyOrg) {
		excluded := map[string]bool{}
		for _, e := range exclude {
			excluded[e] = true
		}
		long := time.Now().Add(-365 * 24 * time.Hour)
		var out []EligibleArbiter
		for i := 0; i < n; i++ {
			id := "arbiter" + strconv.Itoa(i)
			if excluded[id] {
				continue
			}
			out = append(out, EligibleArbiter{AgentID: id, Rating: 1300, Transactions: 20, Org: candidateOrg, OrgSince: long})
		}
		parties := map[string]PartyOrg{}
		for _, e := range exclude {
			parties[e] = PartyOrg{Org: partyOrg, OrgSince: long}
		}
		return out, parties
	}
}

func TestSeededShuffleIsDeterministic(t *testing.T) {
	items1 := []string{"a", "b", "c", "d", "e"}
	items2 := []string{"a", "b", "c", "d", "e"}
	seed := ComputeSeed("p1", "nonce1", "servernonce1")

	out1 := SeededShuffle(seed, items1)
	out2 := SeededShuffle(seed, items2)
	assert.Equal(t, out1, out2)
}

func TestRevealMismatchMovesToFallback(t *testing.T) {
	e := New(idGen(), poolOf(5))
	nonce, _ := identity.GenerateNonce()
	commitment := identity.Commitment(nonce)
	d := e.OpenIntent("p1", "alice", "bob", "no delivery", commitment, "serverseed", time.Now())
	assert.Equal(t, core.PhaseRevealPending, d.Phase)

	err := e.Reveal(d.ID, "wrong-nonce", time.Now(), identity.VerifyCommitment)
	require.ErrorIs(t, err, ErrReveal)

	got, _ := e.Get(d.ID)
	assert.Equal(t, core.PhaseFallback, got.Phase)
}

func TestFullHappyPathToVerdict(t *testing.T) {
	e := New(idGen(), poolOf(6))
	nonce, _ := identity.GenerateNonce()
	commitment := identity.Commitment(nonce)
	now := time.Now()

	d := e.OpenIntent("p1", "alice", "bob", "no delivery", commitment, "serverseed", now)

	require.NoError(t, e.Reveal(d.ID, nonce, now, identity.VerifyCommitment))

	panel, err := e.SelectPanel(d.ID, 30, now)
	require.NoError(t, err)
	require.Len(t, panel, PanelSize)

	for _, a := range panel {
		require.NoError(t, e.ArbiterRespond(d.ID, a, true, now))
	}

	got, _ := e.Get(d.ID)
	require.Equal(t, core.PhaseEvidence, got.Phase)

	require.NoError(t, e.SubmitEvidence(d.ID, "alice", "they never delivered", []string{"log1"}, "sig-a"))
	require.NoError(t, e.SubmitEvidence(d.ID, "bob", "i delivered on time", []string{"log2"}, "sig-b"))

	require.NoError(t, e.CloseEvidence(d.ID, now))

	require.NoError(t, e.CastVote(d.ID, panel[0], string(core.VerdictDisputant), "evidence supports disputant", "sig1"))
	require.NoError(t, e.CastVote(d.ID, panel[1], string(core.VerdictDisputant), "agree", "sig2"))
	require.NoError(t, e.CastVote(d.ID, panel[2], string(core.VerdictRespondent), "disagree", "sig3"))

	verdict, err := e.Resolve(d.ID, now)
	require.NoError(t, err)
	assert.Equal(t, core.VerdictDisputant, verdict)
}

func TestSelectPanel_ExcludesArbitersSharingPartyOrgLineage(t *testing.T) {
	e := New(idGen(), poolWithOrgs(6, "acme-collective", "acme-collective"))
	nonce, _ := identity.GenerateNonce()
	commitment := identity.Commitment(nonce)
	now := time.Now()

	d := e.OpenIntent("p1", "alice", "bob", "no delivery", commitment, "serverseed", now)
	require.NoError(t, e.Reveal(d.ID, nonce, now, identity.VerifyCommitment))

	_, err := e.SelectPanel(d.ID, 30, now)
	require.ErrorIs(t, err, ErrInsufficientPool)

	got, _ := e.Get(d.ID)
	assert.Equal(t, core.PhaseFallback, got.Phase)
}

func TestSelectPanel_AllowsIndependentOrgsAfterWindowExpires(t *testing.T) {
	e := New(idGen(), poolWithOrgs(6, "acme-collective", "acme-collective"))
	nonce, _ := identity.GenerateNonce()
	commitment := identity.Commitment(nonce)
	now := time.Now()

	d := e.OpenIntent("p1", "alice", "bob", "no delivery", commitment, "serverseed", now)
	require.NoError(t, e.Reveal(d.ID, nonce, now, identity.VerifyCommitment))

	panel, err := e.SelectPanel(d.ID, 0, now)
	require.NoError(t, err)
	require.Len(t, panel, PanelSize)
}

func TestInsufficientPoolFallsBack(t *testing.T) {
	e := New(idGen(), poolOf(1))
	nonce, _ := identity.GenerateNonce()
	commitment := identity.Commitment(nonce)
	now := time.Now()

	d := e.OpenIntent("p1", "alice", "bob", "reason", commitment, "serverseed", now)
	require.NoError(t, e.Reveal(d.ID, nonce, now, identity.VerifyCommitment))

	_, err := e.SelectPanel(d.ID, 30, now)
	require.ErrorIs(t, err, ErrInsufficientPool)

	got, _ := e.Get(d.ID)
	assert.Equal(t, "fallback", string(got.Phase))
}
