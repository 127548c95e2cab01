package reputation

import (
	"os"
	"testing"
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyVerdictIsZeroSumAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	deltas := s.ApplyVerdict("p1", "alice", "bob", 1.0)
	require.NotNil(t, deltas)
	assert.InDelta(t, -deltas["alice"], deltas["bob"], 1e-9)
	assert.Greater(t, s.Rating("alice"), 1200.0)
	assert.Less(t, s.Rating("bob"), 1200.0)

	// Repeat call for the same proposal id is a no-op.
	again := s.ApplyVerdict("p1", "alice", "bob", 1.0)
	assert.Nil(t, again)
}

func TestSearchSkillsRanking(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	s.RegisterSkills("a1", []core.Skill{{Capability: "translation", Rate: "10"}}, "sig", time.Now())
	s.RegisterSkills("a2", []core.Skill{{Capability: "translation", Rate: "20"}}, "sig", time.Now())
	s.RegisterSkills("a3", []core.Skill{{Capability: "translation-review"}}, "sig", time.Now())

	results := s.SearchSkills("translation")
	require.Len(t, results, 3)
	// exact matches first
	assert.Equal(t, "translation", results[0].Capability)
	assert.Equal(t, "translation", results[1].Capability)
	// higher rate first among exact matches
	assert.Equal(t, "a2", results[0].AgentID)
}

func TestAppendReceiptWritesFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	err := s.AppendReceipt("a1", core.Receipt{ProposalID: "p1", StoredAt: time.Now()})
	require.NoError(t, err)

	_, err = os.Stat(dir + "/receipts/a1.jsonl")
	assert.NoError(t, err)
}
