// Package server wires every AgentChat engine together and drives the
// per-connection message dispatch loop. Grounded on the teacher's
// cmd/api/main.go sequential component-construction-then-wiring style and
// cmd/socket-gateway/main.go's status-logged startup sequence.
package server

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentchat/server/internal/admission"
	"github.com/agentchat/server/internal/arbitration"
	"github.com/agentchat/server/internal/callback"
	"github.com/agentchat/server/internal/channelrouter"
	"github.com/agentchat/server/internal/config"
	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/escalation"
	"github.com/agentchat/server/internal/escrow"
	"github.com/agentchat/server/internal/floor"
	"github.com/agentchat/server/internal/metrics"
	"github.com/agentchat/server/internal/moderation"
	"github.com/agentchat/server/internal/proposal"
	"github.com/agentchat/server/internal/redact"
	"github.com/agentchat/server/internal/registry"
	"github.com/agentchat/server/internal/reputation"
	"github.com/agentchat/server/internal/snapshot"
	"github.com/agentchat/server/internal/transport"
	"github.com/agentchat/server/internal/wire"
)

// Server holds every engine and the live connection set. It implements
// transport.Handler.
type Server struct {
	cfg *config.Config

	registry    *registry.Registry
	admission   *admission.Gate
	escalation  *escalation.Engine
	moderation  *moderation.Pipeline
	floor       *floor.Manager
	callbacks   *callback.Queue
	channels    *channelrouter.Router
	proposals   *proposal.Engine
	arbitration *arbitration.Engine
	reputation  *reputation.Store
	escrowBus   *escrow.Bus
	redactor    *redact.Redactor

	preAuthLimit  *transport.SlidingWindowLimiter
	postAuthLimit *transport.SlidingWindowLimiter

	mu    sync.RWMutex
	conns map[string]*transport.Conn

	stopCh chan struct{}
}

// New constructs a Server with every engine wired from cfg, loading any
// persisted first-seen state.
func New(cfg *config.Config) *Server {
	reg := registry.New()

	var firstSeen map[string]time.Time
	_ = snapshot.ReadJSON(cfg.DataDir+"/first_seen.json", &firstSeen)
	reg.SeedFirstSeen(firstSeen)

	gate := admission.New(admission.Config{
		Enabled: cfg.Admission.AllowlistEnabled, Strict: cfg.Admission.AllowlistStrict,
		AdminPubkey: cfg.Admission.AdminKey, LurkDisabled: cfg.Admission.LurkDisabled,
		DataDir: cfg.DataDir,
	})

	esc := escalation.New(escalation.Params{
		WarnAfter: cfg.Escalation.WarnAfter, ThrottleAfter: cfg.Escalation.ThrottleAfter,
		TimeoutAfter: cfg.Escalation.TimeoutAfter, KickAfterTimeouts: cfg.Escalation.KickAfterTimeouts,
		Window:           time.Duration(cfg.Escalation.WindowSec) * time.Second,
		ThrottleDuration: time.Duration(cfg.Escalation.ThrottleSec) * time.Second,
		TimeoutDuration:  time.Duration(cfg.Escalation.TimeoutSec) * time.Second,
		Cooldown:         time.Duration(cfg.Escalation.CooldownSec) * time.Second,
		TimeoutMemory:    time.Duration(cfg.Escalation.TimeoutMemorySec) * time.Second,
	})

	mod := moderation.New()

	s := &Server{
		cfg:         cfg,
		registry:    reg,
		admission:   gate,
		escalation:  esc,
		moderation:  mod,
		floor:       floor.New(floor.DefaultTTL),
		callbacks:   callback.New(callback.Limits{
			MaxDuration: time.Duration(cfg.Callback.MaxDurationSec) * time.Second,
			MaxPayload:  cfg.Callback.MaxPayload,
			MaxPerAgent: cfg.Callback.MaxPerAgent,
		}, func() string { return uuid.NewString() }),
		channels: channelrouter.New(cfg.Channel.ReplayBufferSize),
		proposals: proposal.New(time.Duration(cfg.Proposal.MinProposalAgeSec)*time.Second, func() string { return uuid.NewString() }),
		reputation: reputation.New(cfg.DataDir),
		escrowBus:  escrow.New(),
		redactor:   redact.New(cfg.Redactor.MinEnvValueLength, cfg.Redactor.LabelPatterns),

		preAuthLimit:  transport.NewSlidingWindowLimiter(10, 10*time.Second),
		postAuthLimit: transport.NewSlidingWindowLimiter(60, 10*time.Second),

		conns:  make(map[string]*transport.Conn),
		stopCh: make(chan struct{}),
	}
	s.arbitration = arbitration.New(func() string { return uuid.NewString() }, s.eligibleArbiters)

	mod.Register(moderation.NewLinkDetector())
	mod.Register(&moderation.EscalationAdapter{Engine: esc})

	s.escrowBus.On(escrow.EventSettlementVerdict, s.onSettlementVerdict)

	go s.backgroundLoop()
	return s
}

// eligibleArbiters resolves the arbiter candidate pool for a dispute,
// excluding the two named parties, from every currently-known agent's
// reputation record, plus the two parties' own org affiliations so the
// engine can enforce arbiter_independence_days.
func (s *Server) eligibleArbiters(excludeParties []string) ([]arbitration.EligibleArbiter, map[string]arbitration.PartyOrg) {
	excluded := map[string]bool{}
	for _, p := range excludeParties {
		excluded[p] = true
	}
	var out []arbitration.EligibleArbiter
	for _, a := range s.registry.AllAgents() {
		if excluded[a.ID] || !a.Verified {
			continue
		}
		out = append(out, arbitration.EligibleArbiter{
			AgentID: a.ID, Rating: s.reputation.Rating(a.ID), Transactions: s.reputation.Games(a.ID),
			Org: a.Org, OrgSince: a.FirstSeen,
		})
	}
	parties := make(map[string]arbitration.PartyOrg, len(excludeParties))
	for _, p := range excludeParties {
		if a, ok := s.registry.Agent(p); ok {
			parties[p] = arbitration.PartyOrg{Org: a.Org, OrgSince: a.FirstSeen}
		}
	}
	return out, parties
}

func (s *Server) onSettlementVerdict(event escrow.EventName, payload escrow.Payload) error {
	slog.Info("server: settlement verdict applied", "proposal_id", payload.ProposalID, "rating_changes", payload.RatingChanges)
	return nil
}

// Stop halts background loops.
func (s *Server) Stop() {
	close(s.stopCh)
	s.registry.Stop()
	_ = snapshot.WriteJSON(s.cfg.DataDir+"/first_seen.json", s.registry.SnapshotFirstSeen(), false)
}

// backgroundLoop drives the floor-TTL sweep, callback queue polling, the
// application-level heartbeat, and dispute evidence/deliberation timeout
// sweeping, each on its own ticker per spec.md §5.
func (s *Server) backgroundLoop() {
	floorTicker := time.NewTicker(5 * time.Second)
	defer floorTicker.Stop()
	cbTicker := time.NewTicker(time.Duration(s.cfg.Callback.PollMs) * time.Millisecond)
	defer cbTicker.Stop()
	heartbeatTicker := time.NewTicker(time.Duration(s.cfg.Server.HeartbeatMs) * time.Millisecond)
	defer heartbeatTicker.Stop()
	disputeTicker := time.NewTicker(5 * time.Second)
	defer disputeTicker.Stop()

	for {
		select {
		case <-floorTicker.C:
			s.floor.Sweep(time.Now())
		case <-cbTicker.C:
			s.fireDueCallbacks()
		case <-heartbeatTicker.C:
			s.sendHeartbeat()
		case <-disputeTicker.C:
			s.sweepDisputeTimeouts()
		case <-s.stopCh:
			return
		}
	}
}

// sweepDisputeTimeouts closes evidence windows and resolves disputes whose
// deliberation vote window has elapsed, per spec.md §4.5 phase 6: "evidence
// window closes (by caller or timeout)" and "on timeout (non-voters marked
// forfeited), aggregate verdict".
func (s *Server) sweepDisputeTimeouts() {
	now := time.Now()
	for _, id := range s.arbitration.DueForEvidenceClose(now) {
		if err := s.arbitration.CloseEvidence(id, now); err != nil {
			slog.Error("server: evidence timeout close failed", "dispute_id", id, "error", err)
			continue
		}
		metrics.DisputesEvidenceTimedOut.Inc()
	}
	for _, id := range s.arbitration.DueForDeliberationTimeout(now) {
		s.arbitration.ForfeitNonVoters(id)
		s.resolveDispute(id)
	}
}

func (s *Server) fireDueCallbacks() {
	due := s.callbacks.PopDue(time.Now())
	for _, ce := range due {
		s.deliverCallback(ce)
	}
}

// deliverCallback sends a scheduled callback's payload as a MSG frame,
// tagged with the originating callback's id so the recipient can correlate
// it with the @@cb:Ns@@ marker that scheduled it.
func (s *Server) deliverCallback(ce *core.CallbackEntry) {
	out := wire.MsgMsg{
		Type: wire.TypeMsg, To: ce.Target, Content: ce.Payload, From: ce.FromAgent,
		MsgID: uuid.NewString(), CBID: ce.ID, CBOrigin: ce.FromAgent,
	}
	if strings.HasPrefix(ce.Target, "#") {
		if ch, ok := s.channels.Get(ce.Target); ok {
			s.broadcastChannel(ce.Target, out, "")
			s.channels.Append(ch, wire.TypeMsg, map[string]any{
				"to": ce.Target, "content": ce.Payload, "from": ce.FromAgent, "msg_id": out.MsgID, "cb_id": ce.ID,
			})
		}
		metrics.CallbacksFired.Inc()
		return
	}
	if target, ok := s.registry.Agent(ce.Target); ok {
		s.sendTo(target.ConnID, out)
	}
	metrics.CallbacksFired.Inc()
}

// broadcastChannel sends v to every connection currently joined to channel,
// skipping exceptConnID (pass "" to exclude no one).
func (s *Server) broadcastChannel(channel string, v any, exceptConnID string) {
	ch, ok := s.channels.Get(channel)
	if !ok {
		return
	}
	for _, connID := range s.channels.Members(ch) {
		if connID == exceptConnID {
			continue
		}
		s.sendTo(connID, v)
	}
}

func (s *Server) sendHeartbeat() {
	for _, connID := range s.registry.MarkAllChecking() {
		s.sendTo(connID, wire.PingMsg{Type: wire.TypePing})
	}
	time.AfterFunc(2*time.Second, func() {
		for _, connID := range s.registry.DeadConnections() {
			s.closeConn(connID)
		}
	})
}

// OnConnect registers a new Connection record; the agent identifies itself
// afterward via IDENTIFY.
func (s *Server) OnConnect(c *transport.Conn) {
	s.mu.Lock()
	s.conns[c.ID] = c
	s.mu.Unlock()

	s.registry.AddConnection(&core.Connection{
		ID: c.ID, ConnectedAt: time.Now(), RealIP: c.RealIP, UserAgent: c.UserAgent, Alive: true,
	})
}

// OnDisconnect releases every piece of per-connection/per-agent state.
func (s *Server) OnDisconnect(c *transport.Conn) {
	agent, hadAgent := s.registry.AgentByConn(c.ID)

	s.mu.Lock()
	delete(s.conns, c.ID)
	s.mu.Unlock()

	if hadAgent {
		for ch := range agent.Channels {
			if chObj, ok := s.channels.Get(ch); ok {
				s.channels.Leave(chObj, c.ID)
				s.broadcastChannel(ch, wire.AgentLeftMsg{Type: wire.TypeAgentLeft, Channel: ch, Agent: agent.ID}, "")
				s.channels.Prune(ch)
			}
		}
		s.floor.ReleaseByAgent(agent.ID)
		s.callbacks.RemoveByAgent(agent.ID)
		s.moderation.OnDisconnect(agent.ID)
	}

	s.registry.RemoveConnection(c.ID)
}

func (s *Server) closeConn(connID string) {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if ok {
		c.Close()
	}
}

// sendTo marshals v and writes it to connID, if still live.
func (s *Server) sendTo(connID string, v any) {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	data, err := wire.Encode(v)
	if err != nil {
		slog.Error("server: encode failed", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		slog.Debug("server: send failed", "conn_id", connID, "error", err)
	}
}

func (s *Server) sendError(connID string, pe *wire.ProtocolError) {
	s.sendTo(connID, wire.NewErrorFrame(pe))
}

// Serve runs the transport listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	l := transport.NewListener(s.cfg.Addr(), s, func() string { return uuid.NewString() }, s.cfg.Server.MaxConnPerIP)
	return l.Serve(ctx)
}
