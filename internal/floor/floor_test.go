package floor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFloorContentionScenario(t *testing.T) {
	m := New(DefaultTTL)
	now := time.Now()

	// C claims first with started_at=1000.
	res := m.Claim("#general", "M", "C", 1000, now)
	assert.Equal(t, OutcomeGranted, res.Outcome)

	// D arrives second but with an earlier started_at=900: displaces C.
	res = m.Claim("#general", "M", "D", 900, now)
	assert.Equal(t, OutcomeDisplaced, res.Outcome)
	assert.Equal(t, "C", res.PriorHolder)
	assert.EqualValues(t, 1000, res.PriorStarted)

	claim, ok := m.Get("#general", "M")
	assert.True(t, ok)
	assert.Equal(t, "D", claim.Holder)

	// A third, later claim is denied.
	res = m.Claim("#general", "M", "E", 1500, now)
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.Equal(t, "D", res.PriorHolder)
}

func TestFloorReleaseByAgent(t *testing.T) {
	m := New(DefaultTTL)
	now := time.Now()
	m.Claim("#general", "M1", "C", 1, now)
	m.Claim("#general", "M2", "C", 2, now)

	m.ReleaseByAgent("C")
	_, ok := m.Get("#general", "M1")
	assert.False(t, ok)
	_, ok = m.Get("#general", "M2")
	assert.False(t, ok)
}

func TestFloorSweepExpires(t *testing.T) {
	m := New(10 * time.Millisecond)
	now := time.Now()
	m.Claim("#general", "M1", "C", 1, now)

	m.Sweep(now.Add(time.Second))
	_, ok := m.Get("#general", "M1")
	assert.False(t, ok)
}
