package server

import (
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/escrow"
	"github.com/agentchat/server/internal/identity"
	"github.com/agentchat/server/internal/metrics"
	"github.com/agentchat/server/internal/proposal"
	"github.com/agentchat/server/internal/transport"
	"github.com/agentchat/server/internal/wire"
)

func (s *Server) handleProposal(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.ProposalMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if s.stillLurking(agent) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrLurking, "still in the lurk window, cannot propose work yet"))
		return
	}
	if msg.Sig == "" {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrSignatureRequired, "a signature is required"))
		return
	}
	target, ok := s.registry.Agent(msg.To)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrAgentNotFound, "no such agent"))
		return
	}
	if time.Since(agent.FirstSeen) < s.proposals.MinAge() {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInsufficientReputation, "account too new to propose work"))
		return
	}

	signingString := proposal.SigningString("PROPOSAL", agent.ID, msg.To, msg.Task, msg.Amount, msg.Currency, msg.PaymentCode, msg.Terms)
	if err := identity.VerifySigningString(signingString, msg.Sig, agent.PubKeyPEM); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidProposal, "signature did not verify"))
		return
	}

	expires := time.Now().Add(time.Hour)
	if msg.Expires > 0 {
		expires = time.UnixMilli(msg.Expires)
	}
	p := s.proposals.Create(agent.ID, msg.To, msg.Task, msg.Amount, msg.Currency, msg.PaymentCode, msg.Terms, msg.EloStake, expires, msg.Sig, time.Now())
	metrics.ProposalsCreated.Inc()

	out := proposalWire(p)
	s.sendTo(c.ID, out)
	s.sendTo(target.ConnID, out)
}

func proposalWire(p *core.Proposal) wire.ProposalMsg {
	return wire.ProposalMsg{
		Type: wire.TypeProposal, ProposalID: p.ID, From: p.From, To: p.To, Task: p.Task,
		Amount: p.Amount, Currency: p.Currency, PaymentCode: p.PaymentCode, Terms: p.Terms,
		EloStake: p.EloStake, Expires: p.Expires.UnixMilli(), Sig: p.ProposerSig, Status: string(p.Status),
	}
}

func proposalErrorCode(err error) string {
	switch err {
	case proposal.ErrNotParty:
		return wire.ErrNotProposalParty
	case proposal.ErrExpired:
		return wire.ErrProposalExpired
	default:
		return wire.ErrInvalidProposal
	}
}

func (s *Server) otherParty(p *core.Proposal, selfID string) (*core.Agent, bool) {
	other := p.From
	if selfID == p.From {
		other = p.To
	}
	return s.registry.Agent(other)
}

func (s *Server) handleAccept(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.AcceptMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if _, ok := s.proposals.Get(msg.ProposalID); !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrProposalNotFound, "no such proposal"))
		return
	}
	signingString := proposal.SigningString("ACCEPT", msg.ProposalID, agent.ID, msg.PaymentCode)
	if err := identity.VerifySigningString(signingString, msg.Sig, agent.PubKeyPEM); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidProposal, "signature did not verify"))
		return
	}
	updated, err := s.proposals.Accept(msg.ProposalID, agent.ID, msg.PaymentCode, msg.EloStake, msg.Sig, time.Now())
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(proposalErrorCode(err), err.Error()))
		return
	}

	out := wire.AcceptMsg{
		Type: wire.TypeAccept, ProposalID: updated.ID, PaymentCode: updated.PaymentCode,
		EloStake: updated.AcceptorStake, Sig: updated.AcceptorSig, Status: string(updated.Status),
	}
	s.sendTo(c.ID, out)
	if other, ok := s.otherParty(updated, agent.ID); ok {
		s.sendTo(other.ConnID, out)
	}
}

func (s *Server) handleReject(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.RejectMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if _, ok := s.proposals.Get(msg.ProposalID); !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrProposalNotFound, "no such proposal"))
		return
	}
	signingString := proposal.SigningString("REJECT", msg.ProposalID, agent.ID, msg.Reason)
	if err := identity.VerifySigningString(signingString, msg.Sig, agent.PubKeyPEM); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidProposal, "signature did not verify"))
		return
	}
	updated, err := s.proposals.Reject(msg.ProposalID, agent.ID, msg.Reason, msg.Sig, time.Now())
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(proposalErrorCode(err), err.Error()))
		return
	}

	out := wire.RejectMsg{Type: wire.TypeReject, ProposalID: updated.ID, Reason: updated.DisputeReason, Sig: msg.Sig, Status: string(updated.Status)}
	s.sendTo(c.ID, out)
	if other, ok := s.otherParty(updated, agent.ID); ok {
		s.sendTo(other.ConnID, out)
	}
}

func (s *Server) handleComplete(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.CompleteMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if _, ok := s.proposals.Get(msg.ProposalID); !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrProposalNotFound, "no such proposal"))
		return
	}
	signingString := proposal.SigningString("COMPLETE", msg.ProposalID, agent.ID, msg.Proof)
	if err := identity.VerifySigningString(signingString, msg.Sig, agent.PubKeyPEM); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidProposal, "signature did not verify"))
		return
	}
	updated, err := s.proposals.Complete(msg.ProposalID, agent.ID, msg.Proof, msg.Sig, time.Now())
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(proposalErrorCode(err), err.Error()))
		return
	}

	out := wire.CompleteMsg{Type: wire.TypeComplete, ProposalID: updated.ID, Proof: updated.CompletionProof, Sig: msg.Sig, Status: string(updated.Status)}
	s.sendTo(c.ID, out)
	if other, ok := s.otherParty(updated, agent.ID); ok {
		s.sendTo(other.ConnID, out)
	}

	changes := s.reputation.ApplyReceipt(updated.ID, updated.From, updated.To)
	if changes == nil {
		return
	}
	_ = s.reputation.AppendReceipt(updated.From, core.Receipt{ProposalID: updated.ID, Proposal: *updated, StoredAt: time.Now()})
	_ = s.reputation.AppendReceipt(updated.To, core.Receipt{ProposalID: updated.ID, Proposal: *updated, StoredAt: time.Now()})
	s.escrowBus.Emit(escrow.EventSettlementComplete, escrow.Payload{
		ProposalID: updated.ID, Parties: []string{updated.From, updated.To}, Reason: "completed", RatingChanges: changes,
	})
	s.sendTo(c.ID, wire.SettlementCompleteMsg{Type: wire.TypeSettlementComplete, ProposalID: updated.ID})
	if other, ok := s.otherParty(updated, agent.ID); ok {
		s.sendTo(other.ConnID, wire.SettlementCompleteMsg{Type: wire.TypeSettlementComplete, ProposalID: updated.ID})
	}
}

func (s *Server) handleDispute(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.DisputeMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if _, ok := s.proposals.Get(msg.ProposalID); !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrProposalNotFound, "no such proposal"))
		return
	}
	updated, err := s.proposals.Dispute(msg.ProposalID, agent.ID, msg.Reason, time.Now())
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(proposalErrorCode(err), err.Error()))
		return
	}

	s.escrowBus.Emit(escrow.EventSettlementDispute, escrow.Payload{
		ProposalID: updated.ID, Parties: []string{updated.From, updated.To}, Reason: updated.DisputeReason,
	})

	out := wire.DisputeMsg{Type: wire.TypeDispute, ProposalID: updated.ID, Reason: updated.DisputeReason, Sig: msg.Sig, Status: string(updated.Status)}
	s.sendTo(c.ID, out)
	if other, ok := s.otherParty(updated, agent.ID); ok {
		s.sendTo(other.ConnID, out)
	}
}
