// Package registry is the single-writer store mapping connections to agents
// to pubkeys, plus the pending challenge/captcha/verification indices and
// the nick index. It is grounded directly on the teacher's
// internal/protocol/session.go SessionManager: a mutex-guarded map with a
// secondary index, CRUD methods, and a ticker-driven cleanup loop.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
)

// Registry owns Connection, Agent, and pending-handshake bookkeeping.
type Registry struct {
	mu sync.RWMutex

	connections map[string]*core.Connection
	agents      map[string]*core.Agent // by agent id
	byPubkey    map[string]string      // pubkey PEM -> agent id
	byConn      map[string]string      // connection id -> agent id
	byNick      map[string]string      // nick -> agent id

	challenges    map[string]*core.PendingChallenge // challenge id -> pending
	connChallenge map[string]string                 // connection id -> challenge id
	captchas      map[string]*core.PendingCaptcha    // connection id -> pending
	verifications map[string]*core.PendingVerification // requester:target -> pending

	firstSeen map[string]time.Time // pubkey -> first-seen time

	stopCh chan struct{}
}

// New constructs an empty Registry and starts its background cleanup loop.
func New() *Registry {
	r := &Registry{
		connections:   make(map[string]*core.Connection),
		agents:        make(map[string]*core.Agent),
		byPubkey:      make(map[string]string),
		byConn:        make(map[string]string),
		byNick:        make(map[string]string),
		challenges:    make(map[string]*core.PendingChallenge),
		connChallenge: make(map[string]string),
		captchas:      make(map[string]*core.PendingCaptcha),
		verifications: make(map[string]*core.PendingVerification),
		firstSeen:     make(map[string]time.Time),
		stopCh:        make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Stop halts the background cleanup loop.
func (r *Registry) Stop() {
	close(r.stopCh)
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.expirePending()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) expirePending() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.challenges {
		if now.After(ch.ExpiresAt) {
			delete(r.challenges, id)
			delete(r.connChallenge, ch.ConnID)
		}
	}
	for connID, cap := range r.captchas {
		if now.After(cap.ExpiresAt) {
			delete(r.captchas, connID)
		}
	}
	for key, v := range r.verifications {
		if now.After(v.ExpiresAt) {
			delete(r.verifications, key)
		}
	}
}

// AddConnection registers a newly-accepted Connection.
func (r *Registry) AddConnection(c *core.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[c.ID] = c
}

// Connection returns a Connection by id.
func (r *Registry) Connection(id string) (*core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// RemoveConnection tears down a connection's bookkeeping. It does not touch
// channel membership or engine-owned state; callers are expected to release
// those first through their owning engines.
func (r *Registry) RemoveConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, connID)
	if agentID, ok := r.byConn[connID]; ok {
		delete(r.byConn, connID)
		if agent, ok := r.agents[agentID]; ok {
			delete(r.byPubkey, agent.PubKeyPEM)
			if agent.Nick != "" {
				delete(r.byNick, agent.Nick)
			}
			delete(r.agents, agentID)
		}
	}
	if chID, ok := r.connChallenge[connID]; ok {
		delete(r.challenges, chID)
		delete(r.connChallenge, connID)
	}
	delete(r.captchas, connID)
}

// AddAgent registers a newly-identified Agent, binding it to a Connection.
// If a live Agent already holds the same pubkey, the caller must displace it
// first; AddAgent does not check for collisions itself.
func (r *Registry) AddAgent(a *core.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
	r.byConn[a.ConnID] = a.ID
	if a.PubKeyPEM != "" {
		r.byPubkey[a.PubKeyPEM] = a.ID
	}
}

// Agent returns an Agent by id.
func (r *Registry) Agent(id string) (*core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// AgentByConn returns the Agent bound to a connection, if any.
func (r *Registry) AgentByConn(connID string) (*core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	a, ok := r.agents[id]
	return a, ok
}

// AgentByPubkey finds the agent id currently bound to a pubkey, and whether
// its connection is still live (used for displacement).
func (r *Registry) AgentByPubkey(pubkeyPEM string) (*core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPubkey[pubkeyPEM]
	if !ok {
		return nil, false
	}
	a, ok := r.agents[id]
	return a, ok
}

// AgentByNick resolves a `@nick` reference to an agent id.
func (r *Registry) AgentByNick(nick string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNick[nick]
	return id, ok
}

// SetNick sets an agent's nick, last-write-wins, collisions broken by
// first-claimed (a nick already held by another agent is refused).
func (r *Registry) SetNick(agentID, nick string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byNick[nick]; ok && existing != agentID {
		return fmt.Errorf("registry: nick %q already claimed", nick)
	}
	a, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("registry: unknown agent %q", agentID)
	}
	if a.Nick != "" {
		delete(r.byNick, a.Nick)
	}
	a.Nick = nick
	r.byNick[nick] = agentID
	return nil
}

// FirstSeen returns the recorded first-seen time for a pubkey, recording now
// if this is the first sighting. The returned bool is true when this call
// recorded a brand new first-seen entry.
func (r *Registry) FirstSeen(pubkeyPEM string, now time.Time) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.firstSeen[pubkeyPEM]; ok {
		return t, false
	}
	r.firstSeen[pubkeyPEM] = now
	return now, true
}

// SeedFirstSeen loads a persisted first-seen map at startup (does not
// overwrite any already-loaded entries).
func (r *Registry) SeedFirstSeen(entries map[string]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range entries {
		if _, exists := r.firstSeen[k]; !exists {
			r.firstSeen[k] = v
		}
	}
}

// SnapshotFirstSeen returns a copy of the first-seen map for persistence.
func (r *Registry) SnapshotFirstSeen() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Time, len(r.firstSeen))
	for k, v := range r.firstSeen {
		out[k] = v
	}
	return out
}

// AddChallenge registers a pending challenge for a connection, replacing any
// prior challenge on that connection.
func (r *Registry) AddChallenge(ch *core.PendingChallenge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldID, ok := r.connChallenge[ch.ConnID]; ok {
		delete(r.challenges, oldID)
	}
	r.challenges[ch.ChallengeID] = ch
	r.connChallenge[ch.ConnID] = ch.ChallengeID
}

// Challenge returns a pending challenge by id.
func (r *Registry) Challenge(challengeID string) (*core.PendingChallenge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.challenges[challengeID]
	return ch, ok
}

// RemoveChallenge clears a pending challenge.
func (r *Registry) RemoveChallenge(challengeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.challenges[challengeID]; ok {
		delete(r.connChallenge, ch.ConnID)
	}
	delete(r.challenges, challengeID)
}

// AddCaptcha registers a pending captcha for a connection (at most one).
func (r *Registry) AddCaptcha(c *core.PendingCaptcha) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captchas[c.ConnID] = c
}

// Captcha returns the pending captcha for a connection.
func (r *Registry) Captcha(connID string) (*core.PendingCaptcha, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.captchas[connID]
	return c, ok
}

// RemoveCaptcha clears a connection's pending captcha.
func (r *Registry) RemoveCaptcha(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.captchas, connID)
}

func verificationKey(requesterID, targetID string) string {
	return requesterID + ":" + targetID
}

// AddVerification registers a pending inter-agent verification.
func (r *Registry) AddVerification(v *core.PendingVerification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications[verificationKey(v.RequesterID, v.TargetID)] = v
}

// Verification returns a pending inter-agent verification.
func (r *Registry) Verification(requesterID, targetID string) (*core.PendingVerification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifications[verificationKey(requesterID, targetID)]
	return v, ok
}

// RemoveVerification clears a pending inter-agent verification.
func (r *Registry) RemoveVerification(requesterID, targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.verifications, verificationKey(requesterID, targetID))
}

// Stats summarizes registry occupancy for the health endpoint.
type Stats struct {
	ConnectedAgents int
	WithIdentity    int
}

// Stats reports current counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	withIdentity := 0
	for _, a := range r.agents {
		if a.Verified {
			withIdentity++
		}
	}
	return Stats{ConnectedAgents: len(r.connections), WithIdentity: withIdentity}
}

// MarkAlive and MarkChecking support the heartbeat sweep: each tick flips
// every connection's alive flag false then pings; a pong flips it back true.
func (r *Registry) MarkAllChecking() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.connections))
	for id, c := range r.connections {
		c.Alive = false
		ids = append(ids, id)
	}
	return ids
}

// MarkAlive sets a connection's alive flag true (called on pong receipt).
func (r *Registry) MarkAlive(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.connections[connID]; ok {
		c.Alive = true
	}
}

// DeadConnections returns connection ids still marked not-alive, for the
// heartbeat sweep to terminate.
func (r *Registry) DeadConnections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var dead []string
	for id, c := range r.connections {
		if !c.Alive {
			dead = append(dead, id)
		}
	}
	return dead
}

// AllAgents returns a snapshot slice of all currently-registered agents.
func (r *Registry) AllAgents() []*core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Displace forcibly removes the live session bound to a pubkey, returning
// the connection id that was displaced (if any) so the caller can close it
// and notify it with SESSION_DISPLACED.
func (r *Registry) Displace(pubkeyPEM string) (connID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.byPubkey[pubkeyPEM]
	if !ok {
		return "", false
	}
	agent, ok := r.agents[agentID]
	if !ok {
		return "", false
	}
	connID = agent.ConnID
	delete(r.connections, connID)
	delete(r.byConn, connID)
	delete(r.byPubkey, pubkeyPEM)
	if agent.Nick != "" {
		delete(r.byNick, agent.Nick)
	}
	delete(r.agents, agentID)
	slog.Info("registry: displaced prior session", "agent_id", agentID, "conn_id", connID)
	return connID, true
}
