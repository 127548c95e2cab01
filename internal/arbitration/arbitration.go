// Package arbitration implements the Arbitration Engine (spec.md §4.5):
// commit-reveal dispute flow, deterministic panel selection, evidence
// intake, voting, and verdict aggregation. The phase machine is grounded
// directly on the teacher's internal/federation/state_machine.go
// (HandshakeStateMachine's validTransitions table and stateHistory), and the
// commit-reveal primitives generalize internal/federation/crypto.go's nonce
// and hash idioms. Per spec.md's design note, the seeded PRNG is the exact
// SHA-256 chain specified — determinism across independent implementations
// is a test requirement, so it is never replaced with a library RNG.
package arbitration

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
)

// Constants, redefined here for precision per spec.md §4.5.
const (
	PanelSize             = 3
	ArbiterMinRating      = 1200.0
	ArbiterMinTransactions = 10
	EvidencePeriod        = time.Hour
	DeliberationPeriod    = time.Hour
	TotalDurationCap      = 4 * time.Hour
	MaxEvidenceItems      = 10
	MaxStatementChars     = 2000
	MaxReasoningChars     = 500
	MaxReplacementRounds  = 2
	RevealTimeout         = 10 * time.Minute
)

var validTransitions = map[core.DisputePhase][]core.DisputePhase{
	core.PhaseIntent:          {core.PhaseRevealPending, core.PhaseFallback},
	core.PhaseRevealPending:   {core.PhasePanelSelection, core.PhaseFallback},
	core.PhasePanelSelection:  {core.PhaseArbiterResponse, core.PhaseFallback},
	core.PhaseArbiterResponse: {core.PhaseEvidence, core.PhaseFallback},
	core.PhaseEvidence:        {core.PhaseDeliberation},
	core.PhaseDeliberation:    {core.PhaseResolved},
}

func canTransition(from, to core.DisputePhase) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EligibleArbiter describes one candidate for the panel-selection pool.
type EligibleArbiter struct {
	AgentID      string
	Rating       float64
	Transactions int
	Org          string
	OrgSince     time.Time
}

// PartyOrg carries a dispute party's own org affiliation, so panel
// selection can exclude candidates sharing org lineage with either side.
type PartyOrg struct {
	Org      string
	OrgSince time.Time
}

// ArbiterPool resolves the eligible-arbiter pool for a dispute, excluding
// the two parties, and reports those two parties' own org affiliations.
// Injected so the engine does not depend on the reputation/registry
// packages directly.
type ArbiterPool func(excludeParties []string) ([]EligibleArbiter, map[string]PartyOrg)

// sharesOrgLineage reports whether candidate is disqualified from
// arbitrating for any of parties: it shares a non-empty org with a party,
// and that org tie is still within the arbiter_independence_days window
// (spec.md §4.5). The window is measured from whichever side's org
// affiliation is more recent, so a freshly-formed shared affiliation stays
// disqualifying the longest.
func sharesOrgLineage(c EligibleArbiter, parties map[string]PartyOrg, independenceDays int, now time.Time) bool {
	if c.Org == "" {
		return false
	}
	window := time.Duration(independenceDays) * 24 * time.Hour
	for _, p := range parties {
		if p.Org == "" || p.Org != c.Org {
			continue
		}
		tieStart := c.OrgSince
		if p.OrgSince.After(tieStart) {
			tieStart = p.OrgSince
		}
		if now.Sub(tieStart) < window {
			return true
		}
	}
	return false
}

// Engine owns every Dispute; single-writer per id via its internal mutex.
type Engine struct {
	mu     sync.Mutex
	byID   map[string]*core.Dispute
	nextID func() string
	pool   ArbiterPool
}

// New constructs an Engine.
func New(nextID func() string, pool ArbiterPool) *Engine {
	return &Engine{byID: make(map[string]*core.Dispute), nextID: nextID, pool: pool}
}

// Get returns a dispute by id.
func (e *Engine) Get(id string) (*core.Dispute, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[id]
	return d, ok
}

// OpenIntent creates a new dispute in the intent phase from a
// DISPUTE_INTENT, generating the server's own nonce contribution.
func (e *Engine) OpenIntent(proposalID, disputant, respondent, reason, commitment string, serverNonce string, now time.Time) *core.Dispute {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := &core.Dispute{
		ID: e.nextID(), ProposalID: proposalID, Disputant: disputant, Respondent: respondent,
		Reason: reason, Phase: core.PhaseIntent, Commitment: commitment, ServerNonce: serverNonce,
		Evidence: make(map[string]core.PartyEvidence), RatingChanges: make(map[string]float64),
		CreatedAt: now, RevealDeadline: now.Add(RevealTimeout),
	}
	d.Phase = core.PhaseRevealPending
	e.byID[d.ID] = d
	return d
}

// ErrReveal indicates a commit-reveal failure.
var ErrReveal = fmt.Errorf("arbitration: reveal does not match commitment")

// ErrRevealTimeout indicates the reveal arrived after the deadline.
var ErrRevealTimeout = fmt.Errorf("arbitration: reveal timeout exceeded")

// Reveal verifies SHA-256(nonce) == commitment and computes the seed, moving
// the dispute into panel_selection. Failure moves it to fallback.
func (e *Engine) Reveal(disputeID, nonce string, now time.Time, verifyCommitment func(nonce, commitment string) bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return fmt.Errorf("arbitration: dispute %q not found", disputeID)
	}
	if now.After(d.RevealDeadline) {
		d.Phase = core.PhaseFallback
		return ErrRevealTimeout
	}
	if !verifyCommitment(nonce, d.Commitment) {
		d.Phase = core.PhaseFallback
		return ErrReveal
	}
	d.Nonce = nonce
	d.Seed = ComputeSeed(d.ProposalID, nonce, d.ServerNonce)
	d.Phase = core.PhasePanelSelection
	return nil
}

// ComputeSeed computes SHA-256(proposal_id ∥ nonce ∥ server_nonce) hex.
func ComputeSeed(proposalID, nonce, serverNonce string) string {
	sum := sha256.Sum256([]byte(proposalID + nonce + serverNonce))
	return hex.EncodeToString(sum[:])
}

// SeededShuffle applies the deterministic SHA-256-chained shuffle specified
// in spec.md §4.5: iterate i = n-1..1, seed <- SHA-256(seed), j =
// uint32(seed[0:4]) mod (i+1), swap(i, j). The input slice is shuffled
// in place and also returned for convenience.
func SeededShuffle(seedHex string, items []string) []string {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return items
	}
	for i := len(items) - 1; i >= 1; i-- {
		sum := sha256.Sum256(seed)
		seed = sum[:]
		j := int(binary.BigEndian.Uint32(seed[0:4]) % uint32(i+1))
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// ErrInsufficientPool indicates fewer than PanelSize eligible arbiters.
var ErrInsufficientPool = fmt.Errorf("arbitration: insufficient eligible arbiter pool")

// SelectPanel runs eligibility filtering and the seeded shuffle, moving the
// dispute to arbiter_response on success or fallback if the pool is short.
func (e *Engine) SelectPanel(disputeID string, independenceDays int, now time.Time) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return nil, fmt.Errorf("arbitration: dispute %q not found", disputeID)
	}
	if d.Phase != core.PhasePanelSelection {
		return nil, fmt.Errorf("arbitration: dispute %q not in panel_selection phase", disputeID)
	}

	candidates, parties := e.pool([]string{d.Disputant, d.Respondent})
	var eligible []string
	for _, c := range candidates {
		if c.Rating < ArbiterMinRating || c.Transactions < ArbiterMinTransactions {
			continue
		}
		if sharesOrgLineage(c, parties, independenceDays, now) {
			continue
		}
		eligible = append(eligible, c.AgentID)
	}
	if len(eligible) < PanelSize {
		d.Phase = core.PhaseFallback
		return nil, ErrInsufficientPool
	}

	shuffled := SeededShuffle(d.Seed, eligible)
	panel := shuffled[:PanelSize]

	d.Arbiters = make([]core.ArbiterSlot, 0, PanelSize)
	for _, a := range panel {
		d.Arbiters = append(d.Arbiters, core.ArbiterSlot{AgentID: a, Status: core.ArbiterPending})
	}
	d.Phase = core.PhaseArbiterResponse
	d.IndependenceDays = independenceDays
	return panel, nil
}

// ArbiterRespond records an ARBITER_ACCEPT or ARBITER_DECLINE. On decline it
// attempts replacement from the remaining pool, up to MaxReplacementRounds;
// exceeding that moves the dispute to fallback.
func (e *Engine) ArbiterRespond(disputeID, agentID string, accept bool, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return fmt.Errorf("arbitration: dispute %q not found", disputeID)
	}
	idx := -1
	for i, a := range d.Arbiters {
		if a.AgentID == agentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("arbitration: %q is not on this dispute's panel", agentID)
	}

	if accept {
		d.Arbiters[idx].Status = core.ArbiterAccepted
		d.Arbiters[idx].AcceptedAt = now
		if e.allAccepted(d) {
			d.Phase = core.PhaseEvidence
			d.EvidenceDeadline = now.Add(EvidencePeriod)
		}
		return nil
	}

	d.Arbiters[idx].Status = core.ArbiterDeclined
	if d.ReplacementRounds >= MaxReplacementRounds {
		d.Phase = core.PhaseFallback
		return fmt.Errorf("arbitration: replacement rounds exhausted")
	}
	d.ReplacementRounds++

	candidates, parties := e.pool([]string{d.Disputant, d.Respondent})
	used := map[string]bool{d.Disputant: true, d.Respondent: true}
	for _, a := range d.Arbiters {
		used[a.AgentID] = true
	}
	var eligible []string
	for _, c := range candidates {
		if used[c.AgentID] {
			continue
		}
		if c.Rating < ArbiterMinRating || c.Transactions < ArbiterMinTransactions {
			continue
		}
		if sharesOrgLineage(c, parties, d.IndependenceDays, now) {
			continue
		}
		eligible = append(eligible, c.AgentID)
	}
	if len(eligible) == 0 {
		d.Phase = core.PhaseFallback
		return fmt.Errorf("arbitration: no replacement available")
	}
	replacement := SeededShuffle(d.Seed, eligible)[0]
	d.Arbiters[idx].Status = core.ArbiterReplaced
	d.Arbiters = append(d.Arbiters, core.ArbiterSlot{AgentID: replacement, Status: core.ArbiterPending})
	return nil
}

func (e *Engine) allAccepted(d *core.Dispute) bool {
	accepted := 0
	for _, a := range d.Arbiters {
		switch a.Status {
		case core.ArbiterAccepted:
			accepted++
		case core.ArbiterPending, core.ArbiterDeclined:
			return false
		}
	}
	return accepted >= PanelSize
}

// SubmitEvidence records a party's evidence submission, hashing each item
// before storage.
func (e *Engine) SubmitEvidence(disputeID, agentID, statement string, items []string, sig string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return fmt.Errorf("arbitration: dispute %q not found", disputeID)
	}
	if d.Phase != core.PhaseEvidence {
		return fmt.Errorf("arbitration: dispute %q not accepting evidence", disputeID)
	}
	if len(items) > MaxEvidenceItems {
		items = items[:MaxEvidenceItems]
	}
	if len(statement) > MaxStatementChars {
		statement = statement[:MaxStatementChars]
	}
	hashed := make([]core.EvidenceItem, 0, len(items))
	for _, it := range items {
		sum := sha256.Sum256([]byte(it))
		hashed = append(hashed, core.EvidenceItem{Hash: hex.EncodeToString(sum[:]), Summary: it})
	}
	d.Evidence[agentID] = core.PartyEvidence{AgentID: agentID, Items: hashed, Statement: statement, Sig: sig}
	return nil
}

// CloseEvidence ends the evidence window (by caller or timeout) and opens
// deliberation.
func (e *Engine) CloseEvidence(disputeID string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return fmt.Errorf("arbitration: dispute %q not found", disputeID)
	}
	if !canTransition(d.Phase, core.PhaseDeliberation) {
		return fmt.Errorf("arbitration: cannot close evidence from phase %q", d.Phase)
	}
	d.Phase = core.PhaseDeliberation
	d.DeliberationEnds = now.Add(DeliberationPeriod)
	return nil
}

// DueForEvidenceClose returns the ids of disputes still in the evidence
// phase whose EvidenceDeadline has passed, for timeout-driven CloseEvidence.
func (e *Engine) DueForEvidenceClose(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var due []string
	for id, d := range e.byID {
		if d.Phase == core.PhaseEvidence && now.After(d.EvidenceDeadline) {
			due = append(due, id)
		}
	}
	return due
}

// DueForDeliberationTimeout returns the ids of disputes still in
// deliberation whose DeliberationEnds has passed, for timeout-driven
// ForfeitNonVoters + resolution.
func (e *Engine) DueForDeliberationTimeout(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var due []string
	for id, d := range e.byID {
		if d.Phase == core.PhaseDeliberation && now.After(d.DeliberationEnds) {
			due = append(due, id)
		}
	}
	return due
}

// CastVote records one arbiter's vote.
func (e *Engine) CastVote(disputeID, agentID, verdict, reasoning, sig string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return fmt.Errorf("arbitration: dispute %q not found", disputeID)
	}
	if d.Phase != core.PhaseDeliberation {
		return fmt.Errorf("arbitration: dispute %q not in deliberation", disputeID)
	}
	if len(reasoning) > MaxReasoningChars {
		reasoning = reasoning[:MaxReasoningChars]
	}
	for i, a := range d.Arbiters {
		if a.AgentID == agentID && a.Status == core.ArbiterAccepted {
			d.Arbiters[i].Status = core.ArbiterVoted
			d.Arbiters[i].Vote = verdict
			return nil
		}
	}
	return fmt.Errorf("arbitration: %q is not an accepted arbiter on this dispute", agentID)
}

// AllVoted reports whether every accepted arbiter has voted or forfeited.
func (e *Engine) AllVoted(disputeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return false
	}
	for _, a := range d.Arbiters {
		if a.Status == core.ArbiterAccepted {
			return false
		}
	}
	return true
}

// ForfeitNonVoters marks any still-accepted (non-voted) arbiters as
// forfeited, for deliberation timeout handling.
func (e *Engine) ForfeitNonVoters(disputeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return
	}
	for i, a := range d.Arbiters {
		if a.Status == core.ArbiterAccepted {
			d.Arbiters[i].Status = core.ArbiterForfeited
		}
	}
}

// Resolve aggregates votes into a verdict: >= 2 agreeing votes wins,
// otherwise mutual. Moves the dispute to resolved.
func (e *Engine) Resolve(disputeID string, now time.Time) (core.Verdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[disputeID]
	if !ok {
		return "", fmt.Errorf("arbitration: dispute %q not found", disputeID)
	}
	if !canTransition(d.Phase, core.PhaseResolved) {
		return "", fmt.Errorf("arbitration: cannot resolve from phase %q", d.Phase)
	}

	counts := map[string]int{}
	for _, a := range d.Arbiters {
		if a.Status == core.ArbiterVoted && a.Vote != "" {
			counts[a.Vote]++
		}
	}
	verdict := core.VerdictMutual
	for v, c := range counts {
		if c >= 2 {
			verdict = core.Verdict(v)
			break
		}
	}
	d.Verdict = verdict
	d.Phase = core.PhaseResolved
	d.ResolvedAt = now
	return verdict, nil
}

// Fallback forces a dispute into the terminal fallback phase (surfaced to
// operators via log only; no verdict is produced).
func (e *Engine) Fallback(disputeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.byID[disputeID]; ok {
		d.Phase = core.PhaseFallback
	}
}
