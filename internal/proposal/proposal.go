// Package proposal implements the Proposal Engine (spec.md §4.4): signed
// work-agreement lifecycle, anti-sybil age gating, and the monotone status
// transitions. It generalizes the teacher's internal/escrow/controller.go
// EscrowTransaction/LayerStatus terminal-state handling to spec.md's
// proposal state machine, and borrows the validated-transition-table idiom
// from internal/federation/state_machine.go for the monotone status
// invariant.
package proposal

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
)

// validTransitions enumerates every allowed status transition, matching the
// teacher's HandshakeStateMachine.validTransitions table pattern.
var validTransitions = map[core.ProposalStatus][]core.ProposalStatus{
	core.ProposalPending:   {core.ProposalAccepted, core.ProposalRejected, core.ProposalExpired},
	core.ProposalAccepted:  {core.ProposalCompleted, core.ProposalDisputed, core.ProposalExpired},
	core.ProposalCompleted: {core.ProposalDisputed},
}

func canTransition(from, to core.ProposalStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DisputeWindow bounds how long after completion a COMPLETE can still be
// disputed — the Open Question decision recorded in DESIGN.md, set equal to
// the arbitration evidence period.
var DisputeWindow = time.Hour

// SigningString builds the canonical pipe-delimited signing content for
// each proposal-lifecycle operation, per spec.md §4.4.
func SigningString(kind string, fields ...string) string {
	s := kind
	for _, f := range fields {
		s += "|" + f
	}
	return s
}

// Engine owns every Proposal; single-writer per id via its internal mutex.
type Engine struct {
	mu         sync.Mutex
	byID       map[string]*core.Proposal
	minAge     time.Duration
	nextID     func() string
}

// New constructs an empty Engine.
func New(minAge time.Duration, nextID func() string) *Engine {
	return &Engine{byID: make(map[string]*core.Proposal), minAge: minAge, nextID: nextID}
}

// MinAge reports the configured anti-sybil minimum proposal age.
func (e *Engine) MinAge() time.Duration { return e.minAge }

// Get returns a proposal by id.
func (e *Engine) Get(id string) (*core.Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	return p, ok
}

// Create opens a new pending Proposal.
func (e *Engine) Create(from, to, task, amount, currency, paymentCode, terms string, eloStake int, expires time.Time, sig string, now time.Time) *core.Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &core.Proposal{
		ID: e.nextID(), From: from, To: to, Task: task, Amount: amount, Currency: currency,
		PaymentCode: paymentCode, Terms: terms, EloStake: eloStake, Expires: expires,
		Status: core.ProposalPending, CreatedAt: now, ProposerSig: sig,
	}
	e.byID[p.ID] = p
	return p
}

// expireIfDue lazily flips a pending proposal whose expiry has passed.
// Caller must hold e.mu.
func expireIfDue(p *core.Proposal, now time.Time) bool {
	if p.Status == core.ProposalPending && !p.Expires.IsZero() && now.After(p.Expires) {
		p.Status = core.ProposalExpired
		return true
	}
	return false
}

// ErrNotParty indicates an operation was attempted by someone other than a
// named party to the proposal.
var ErrNotParty = fmt.Errorf("proposal: not a party to this proposal")

// ErrExpired indicates the proposal just flipped to expired during this
// operation (the check-then-mutate race named in spec.md §9).
var ErrExpired = fmt.Errorf("proposal: expired")

// ErrInvalidTransition indicates the requested transition is not reachable
// from the proposal's current status.
var ErrInvalidTransition = fmt.Errorf("proposal: invalid status transition")

// Accept attempts to move a proposal pending -> accepted.
func (e *Engine) Accept(id, acceptorID, paymentCode string, eloStake int, sig string, now time.Time) (*core.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("proposal: %q not found", id)
	}
	if expireIfDue(p, now) {
		return p, ErrExpired
	}
	if p.To != acceptorID {
		return nil, ErrNotParty
	}
	if p.Status == core.ProposalAccepted && p.AcceptorSig == sig {
		// Idempotent no-op re-accept with identical signature, per spec.md §8.
		return p, nil
	}
	if !canTransition(p.Status, core.ProposalAccepted) {
		return nil, ErrInvalidTransition
	}
	p.Status = core.ProposalAccepted
	p.AcceptedAt = now
	p.AcceptorSig = sig
	p.AcceptorStake = eloStake
	p.ProposerStake = p.EloStake
	if paymentCode != "" {
		p.PaymentCode = paymentCode
	}
	return p, nil
}

// Reject attempts to move a proposal pending -> rejected.
func (e *Engine) Reject(id, rejectorID, reason, sig string, now time.Time) (*core.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("proposal: %q not found", id)
	}
	if expireIfDue(p, now) {
		return p, ErrExpired
	}
	if p.To != rejectorID && p.From != rejectorID {
		return nil, ErrNotParty
	}
	if !canTransition(p.Status, core.ProposalRejected) {
		return nil, ErrInvalidTransition
	}
	p.Status = core.ProposalRejected
	p.DisputeReason = reason
	return p, nil
}

// Complete attempts to move a proposal accepted -> completed.
func (e *Engine) Complete(id, completerID, proof, sig string, now time.Time) (*core.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("proposal: %q not found", id)
	}
	if expireIfDue(p, now) {
		return p, ErrExpired
	}
	if p.To != completerID && p.From != completerID {
		return nil, ErrNotParty
	}
	if p.Status != core.ProposalAccepted && p.Status != core.ProposalPending {
		return nil, ErrInvalidTransition
	}
	p.Status = core.ProposalCompleted
	p.CompletedAt = now
	p.CompletionProof = proof
	return p, nil
}

// Dispute attempts to move a proposal accepted|completed -> disputed.
func (e *Engine) Dispute(id, disputantID, reason string, now time.Time) (*core.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("proposal: %q not found", id)
	}
	if p.To != disputantID && p.From != disputantID {
		return nil, ErrNotParty
	}
	if p.Status == core.ProposalCompleted && now.After(p.CompletedAt.Add(DisputeWindow)) {
		return nil, ErrInvalidTransition
	}
	if !canTransition(p.Status, core.ProposalDisputed) {
		return nil, ErrInvalidTransition
	}
	p.Status = core.ProposalDisputed
	p.DisputeReason = reason
	return p, nil
}

// LinkDispute records the dispute id opened against a proposal.
func (e *Engine) LinkDispute(id, disputeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.byID[id]; ok {
		p.DisputeID = disputeID
	}
}
