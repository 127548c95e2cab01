// Package floor implements per-channel reply-floor arbitration keyed by
// originating message id (spec.md §4.7). Claims are synchronous
// request/response, so unlike the teacher's escrow channel-release gating
// in internal/escrow/controller.go this needs only a mutex-guarded map, not
// a non-blocking channel-send pattern.
package floor

import (
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
)

// DefaultTTL is the maximum lifetime of an unresolved floor claim.
const DefaultTTL = 60 * time.Second

// Outcome describes the result of a ClaimResult for the caller to relay.
type Outcome int

const (
	OutcomeGranted Outcome = iota
	OutcomeDisplaced
	OutcomeDenied
)

// ClaimResult is returned by Claim.
type ClaimResult struct {
	Outcome      Outcome
	PriorHolder  string
	PriorStarted int64
}

func key(channel, msgID string) string { return channel + "\x00" + msgID }

// Manager owns every channel's floor claims.
type Manager struct {
	mu     sync.Mutex
	claims map[string]*core.FloorClaim
	ttl    time.Duration
}

// New constructs a Manager with the given claim TTL.
func New(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{claims: make(map[string]*core.FloorClaim), ttl: ttl}
}

// Claim attempts to grant, displace, or deny a RESPONDING_TO request per
// spec.md §4.7.
func (m *Manager) Claim(channel, msgID, holder string, startedAt int64, now time.Time) ClaimResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(channel, msgID)
	existing, ok := m.claims[k]
	if ok && now.After(existing.ExpiresAt) {
		ok = false
	}

	if !ok {
		m.claims[k] = &core.FloorClaim{
			Channel: channel, MsgID: msgID, Holder: holder,
			StartedAt: startedAt, ExpiresAt: now.Add(m.ttl),
		}
		return ClaimResult{Outcome: OutcomeGranted}
	}

	if startedAt < existing.StartedAt {
		prior := ClaimResult{Outcome: OutcomeDisplaced, PriorHolder: existing.Holder, PriorStarted: existing.StartedAt}
		m.claims[k] = &core.FloorClaim{
			Channel: channel, MsgID: msgID, Holder: holder,
			StartedAt: startedAt, ExpiresAt: now.Add(m.ttl),
		}
		return prior
	}

	return ClaimResult{Outcome: OutcomeDenied, PriorHolder: existing.Holder, PriorStarted: existing.StartedAt}
}

// ReleaseByAgent removes every claim held by agentID, for disconnect and
// channel-leave cleanup.
func (m *Manager) ReleaseByAgent(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.claims {
		if c.Holder == agentID {
			delete(m.claims, k)
		}
	}
}

// Sweep removes expired claims; intended for a periodic background tick
// (spec.md §5's "floor-TTL sweep ≤ 5 s").
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, c := range m.claims {
		if now.After(c.ExpiresAt) {
			delete(m.claims, k)
		}
	}
}

// Get returns the current claim for (channel, msgID), if any.
func (m *Manager) Get(channel, msgID string) (core.FloorClaim, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key(channel, msgID)]
	if !ok {
		return core.FloorClaim{}, false
	}
	return *c, true
}
