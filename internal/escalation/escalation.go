// Package escalation implements the progressive moderation ladder with
// time-based decay (spec.md §4.8). It is grounded on the teacher's
// internal/federation/state_machine.go transition-table-plus-mutex idiom,
// adapted from one state machine per session to a per-key ladder map.
package escalation

import (
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
)

// Params holds the escalation ladder's tunable thresholds.
type Params struct {
	WarnAfter         int
	ThrottleAfter     int
	TimeoutAfter      int
	KickAfterTimeouts int
	Window            time.Duration
	ThrottleDuration  time.Duration
	TimeoutDuration   time.Duration
	Cooldown          time.Duration
	TimeoutMemory     time.Duration
}

// Engine owns every key's EscalationState.
type Engine struct {
	mu     sync.Mutex
	params Params
	states map[string]*core.EscalationState
}

// New constructs an Engine with the given parameters.
func New(params Params) *Engine {
	return &Engine{params: params, states: make(map[string]*core.EscalationState)}
}

func (e *Engine) stateFor(key string) *core.EscalationState {
	s, ok := e.states[key]
	if !ok {
		s = &core.EscalationState{Key: key, Level: core.LevelNone}
		e.states[key] = s
	}
	return s
}

// decay applies the cooldown-based level decay described in spec.md §4.8:
// on every read, elapsed = now - last_violation_at; drop floor(elapsed /
// cooldown) levels, resetting violations/warnings whenever the level
// changes; timeout_count only clears once elapsed >= timeout_memory.
func (e *Engine) decay(s *core.EscalationState, now time.Time) {
	if s.LastViolationAt.IsZero() {
		return
	}
	elapsed := now.Sub(s.LastViolationAt)
	if elapsed >= e.params.TimeoutMemory {
		s.TimeoutCount = 0
	}
	if e.params.Cooldown <= 0 {
		return
	}
	drops := int(elapsed / e.params.Cooldown)
	if drops <= 0 {
		return
	}
	newLevel := int(s.Level) - drops
	if newLevel < int(core.LevelNone) {
		newLevel = int(core.LevelNone)
	}
	if core.EscalationLevel(newLevel) != s.Level {
		s.Level = core.EscalationLevel(newLevel)
		s.ViolationsInWin = 0
		s.WarningsSent = 0
		s.WindowStart = now
	}
}

// Violation returns the new level for key after decay is applied and this
// violation is counted.
func (e *Engine) Violation(key string, now time.Time) core.EscalationLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(key)
	e.decay(s, now)

	if s.WindowStart.IsZero() || now.Sub(s.WindowStart) > e.params.Window {
		s.WindowStart = now
		s.ViolationsInWin = 0
	}
	s.ViolationsInWin++
	s.LastViolationAt = now

	switch {
	case s.ViolationsInWin >= e.params.TimeoutAfter:
		if s.Level < core.LevelTimedOut {
			s.Level = core.LevelTimedOut
		}
		s.TimeoutUntil = now.Add(e.params.TimeoutDuration)
		s.TimeoutCount++
		if s.TimeoutCount >= e.params.KickAfterTimeouts {
			s.Level = core.LevelKicked
		}
	case s.ViolationsInWin >= e.params.ThrottleAfter:
		if s.Level < core.LevelThrottled {
			s.Level = core.LevelThrottled
		}
		s.ThrottleUntil = now.Add(e.params.ThrottleDuration)
	case s.ViolationsInWin >= e.params.WarnAfter:
		if s.Level < core.LevelWarned {
			s.Level = core.LevelWarned
		}
		s.WarningsSent++
	}
	return s.Level
}

// Level returns the current level for key, applying decay first.
func (e *Engine) Level(key string, now time.Time) core.EscalationLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[key]
	if !ok {
		return core.LevelNone
	}
	e.decay(s, now)
	return s.Level
}

// IsThrottled reports whether key is currently within a throttle or timeout
// window.
func (e *Engine) IsThrottled(key string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[key]
	if !ok {
		return false
	}
	e.decay(s, now)
	return now.Before(s.ThrottleUntil) || now.Before(s.TimeoutUntil)
}

// Reset clears a key's state entirely; used for ephemeral keys starting
// fresh and for the admin force-decay-reset override.
func (e *Engine) Reset(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, key)
}

// Snapshot returns a copy of a key's state for inspection/testing.
func (e *Engine) Snapshot(key string) (core.EscalationState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[key]
	if !ok {
		return core.EscalationState{}, false
	}
	return *s, true
}
