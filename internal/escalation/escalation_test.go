package escalation

import (
	"testing"
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/stretchr/testify/assert"
)

func testParams() Params {
	return Params{
		WarnAfter:         3,
		ThrottleAfter:     6,
		TimeoutAfter:      10,
		KickAfterTimeouts: 3,
		Window:            time.Minute,
		ThrottleDuration:  5 * time.Second,
		TimeoutDuration:   time.Minute,
		Cooldown:          5 * time.Minute,
		TimeoutMemory:     time.Hour,
	}
}

func TestEscalationLadderClimbs(t *testing.T) {
	e := New(testParams())
	now := time.Now()

	var level core.EscalationLevel
	for i := 0; i < 6; i++ {
		level = e.Violation("key1", now)
	}
	assert.Equal(t, core.LevelThrottled, level)
}

func TestEscalationDecayOverCooldown(t *testing.T) {
	params := testParams()
	e := New(params)
	now := time.Now()

	for i := 0; i < 6; i++ {
		e.Violation("key1", now)
	}
	level := e.Level("key1", now.Add(params.Cooldown+time.Second))
	assert.Equal(t, core.LevelWarned, level)

	level = e.Level("key1", now.Add(2*params.Cooldown+time.Second))
	assert.Equal(t, core.LevelNone, level)
}

func TestTimeoutCountSurvivesCooldownButNotTimeoutMemory(t *testing.T) {
	params := testParams()
	e := New(params)
	now := time.Now()

	for i := 0; i < 10; i++ {
		e.Violation("key1", now)
	}
	snap, ok := e.Snapshot("key1")
	assert.True(t, ok)
	assert.Equal(t, 1, snap.TimeoutCount)

	e.Level("key1", now.Add(params.Cooldown+time.Second))
	snap, _ = e.Snapshot("key1")
	assert.Equal(t, 1, snap.TimeoutCount, "timeout count should survive a mere cooldown decay")

	e.Level("key1", now.Add(params.TimeoutMemory+time.Second))
	snap, _ = e.Snapshot("key1")
	assert.Equal(t, 0, snap.TimeoutCount, "timeout count should clear after timeout_memory elapses")
}
