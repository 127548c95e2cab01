package server

import (
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/escrow"
	"github.com/agentchat/server/internal/identity"
	"github.com/agentchat/server/internal/metrics"
	"github.com/agentchat/server/internal/transport"
	"github.com/agentchat/server/internal/wire"
)

func (s *Server) handleDisputeIntent(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.DisputeIntentMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	p, ok := s.proposals.Get(msg.ProposalID)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrProposalNotFound, "no such proposal"))
		return
	}
	if agent.ID != p.From && agent.ID != p.To {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrNotProposalParty, "not a party to this proposal"))
		return
	}
	respondent := p.To
	if agent.ID == p.To {
		respondent = p.From
	}

	serverNonce, err := identity.GenerateNonce()
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "could not generate server nonce"))
		return
	}
	d := s.arbitration.OpenIntent(msg.ProposalID, agent.ID, respondent, msg.Reason, msg.Commitment, serverNonce, time.Now())
	s.proposals.LinkDispute(msg.ProposalID, d.ID)
	metrics.DisputesOpened.Inc()

	s.sendTo(c.ID, wire.DisputeIntentAckMsg{Type: wire.TypeDisputeIntentAck, DisputeID: d.ID, ServerNonce: serverNonce})
	if other, ok := s.registry.Agent(respondent); ok {
		s.sendTo(other.ConnID, wire.DisputeIntentAckMsg{Type: wire.TypeDisputeIntentAck, DisputeID: d.ID, ServerNonce: serverNonce})
	}
}

func (s *Server) handleDisputeReveal(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.DisputeRevealMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	d, ok := s.arbitration.Get(msg.DisputeID)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "no such dispute"))
		return
	}

	if err := s.arbitration.Reveal(msg.DisputeID, msg.Nonce, time.Now(), identity.VerifyCommitment); err != nil {
		s.notifyDisputeParties(d, wire.DisputeFallbackMsg{Type: wire.TypeDisputeFallback, DisputeID: d.ID, Reason: err.Error()})
		metrics.DisputesFallback.Inc()
		return
	}

	s.notifyDisputeParties(d, wire.DisputeRevealedMsg{Type: wire.TypeDisputeRevealed, DisputeID: d.ID, Seed: d.Seed})

	panel, err := s.arbitration.SelectPanel(d.ID, s.cfg.Arbitrate.IndependenceDays, time.Now())
	if err != nil {
		s.notifyDisputeParties(d, wire.DisputeFallbackMsg{Type: wire.TypeDisputeFallback, DisputeID: d.ID, Reason: err.Error()})
		metrics.DisputesFallback.Inc()
		return
	}

	s.notifyDisputeParties(d, wire.PanelFormedMsg{Type: wire.TypePanelFormed, DisputeID: d.ID, Arbiters: panel})
	for _, arbiterID := range panel {
		if a, ok := s.registry.Agent(arbiterID); ok {
			s.sendTo(a.ConnID, wire.ArbiterAssignedMsg{Type: wire.TypeArbiterAssigned, DisputeID: d.ID})
		}
	}
}

func (s *Server) handleArbiterAccept(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.ArbiterAcceptMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	d, ok := s.arbitration.Get(msg.DisputeID)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "no such dispute"))
		return
	}
	if err := s.arbitration.ArbiterRespond(msg.DisputeID, agent.ID, true, time.Now()); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, err.Error()))
		return
	}
	if d.Phase == core.PhaseEvidence {
		s.notifyDisputeParties(d, wire.CaseReadyMsg{Type: wire.TypeCaseReady, DisputeID: d.ID})
		s.notifyArbiters(d, wire.CaseReadyMsg{Type: wire.TypeCaseReady, DisputeID: d.ID})
	}
}

func (s *Server) handleArbiterDecline(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.ArbiterDeclineMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	d, ok := s.arbitration.Get(msg.DisputeID)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "no such dispute"))
		return
	}
	if err := s.arbitration.ArbiterRespond(msg.DisputeID, agent.ID, false, time.Now()); err != nil {
		s.notifyDisputeParties(d, wire.DisputeFallbackMsg{Type: wire.TypeDisputeFallback, DisputeID: d.ID, Reason: err.Error()})
		metrics.DisputesFallback.Inc()
		return
	}
	if d.Phase == core.PhaseArbiterResponse {
		last := d.Arbiters[len(d.Arbiters)-1]
		if a, ok := s.registry.Agent(last.AgentID); ok {
			s.sendTo(a.ConnID, wire.ArbiterAssignedMsg{Type: wire.TypeArbiterAssigned, DisputeID: d.ID})
		}
	}
}

func (s *Server) handleEvidence(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.EvidenceMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	items := make([]string, 0, len(msg.Items))
	for _, it := range msg.Items {
		items = append(items, it.Summary)
	}
	if err := s.arbitration.SubmitEvidence(msg.DisputeID, agent.ID, msg.Statement, items, msg.Sig); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, err.Error()))
		return
	}
	s.sendTo(c.ID, wire.EvidenceReceivedMsg{Type: wire.TypeEvidenceReceived, DisputeID: msg.DisputeID})
}

func (s *Server) handleArbiterVote(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.ArbiterVoteMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if err := s.arbitration.CastVote(msg.DisputeID, agent.ID, msg.Verdict, msg.Reasoning, msg.Sig); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, err.Error()))
		return
	}
	if s.arbitration.AllVoted(msg.DisputeID) {
		s.resolveDispute(msg.DisputeID)
	}
}

// resolveDispute tallies arbiter votes, applies the resulting rating change,
// and notifies every party and arbiter of the outcome.
func (s *Server) resolveDispute(disputeID string) {
	d, ok := s.arbitration.Get(disputeID)
	if !ok {
		return
	}
	verdict, err := s.arbitration.Resolve(disputeID, time.Now())
	if err != nil {
		s.notifyDisputeParties(d, wire.DisputeFallbackMsg{Type: wire.TypeDisputeFallback, DisputeID: d.ID, Reason: err.Error()})
		metrics.DisputesFallback.Inc()
		return
	}

	scoreDisputant := 0.5
	switch verdict {
	case core.VerdictDisputant:
		scoreDisputant = 1.0
	case core.VerdictRespondent:
		scoreDisputant = 0.0
	}
	changes := s.reputation.ApplyVerdict(d.ProposalID, d.Disputant, d.Respondent, scoreDisputant)
	if changes != nil {
		d.RatingChanges = changes
	}

	out := wire.VerdictMsg{Type: wire.TypeVerdict, DisputeID: d.ID, Verdict: string(verdict), RatingChanges: d.RatingChanges}
	s.notifyDisputeParties(d, out)
	s.notifyArbiters(d, out)
	s.escrowBus.Emit(escrow.EventSettlementVerdict, escrow.Payload{
		ProposalID: d.ProposalID, Parties: []string{d.Disputant, d.Respondent}, RatingChanges: d.RatingChanges,
	})
}

func (s *Server) notifyDisputeParties(d *core.Dispute, v any) {
	if a, ok := s.registry.Agent(d.Disputant); ok {
		s.sendTo(a.ConnID, v)
	}
	if a, ok := s.registry.Agent(d.Respondent); ok {
		s.sendTo(a.ConnID, v)
	}
}

func (s *Server) notifyArbiters(d *core.Dispute, v any) {
	for _, slot := range d.Arbiters {
		if a, ok := s.registry.Agent(slot.AgentID); ok {
			s.sendTo(a.ConnID, v)
		}
	}
}
