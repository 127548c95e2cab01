// Package core holds the shared domain entities mutated by AgentChat's
// engines: agents, channels, proposals, disputes and their supporting
// records. Types here are plain data carriers; behavior lives in the
// owning engine packages.
package core

import "time"

// Connection is the per-transport-session bookkeeping record, owned by the
// Registry and never mutated by any other package.
type Connection struct {
	ID              string
	ConnectedAt     time.Time
	RealIP          string
	UserAgent       string
	Alive           bool
	RecentFrames    []time.Time
	LastMessageAt   time.Time
	LastFileChunkAt time.Time
}

// Agent is a logical identity, one live Connection at a time.
type Agent struct {
	ID         string
	Name       string
	Nick       string
	PubKeyPEM  string
	Channels   map[string]bool
	Presence   string
	StatusText string
	Verified   bool
	Lurking    bool
	LurkUntil  time.Time
	FirstSeen  time.Time
	ConnID     string
	Org        string
}

// Channel is a named multi-party group with a bounded replay buffer.
type Channel struct {
	Name         string
	InviteOnly   bool
	VerifiedOnly bool
	Invited      map[string]bool
	Members      map[string]bool // connection IDs
	Buffer       []BufferedEvent
	BufferSize   int
}

// BufferedEvent is one entry in a channel's replay buffer.
type BufferedEvent struct {
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

// PendingChallenge tracks an in-flight challenge-response handshake.
type PendingChallenge struct {
	ConnID       string
	ClaimedName  string
	ClaimedOrg   string
	ClaimedPub   string
	Nonce        string
	ChallengeID  string
	ExpiresAt    time.Time
}

// PendingCaptcha tracks an in-flight captcha exchange for a pubkey-less
// identify.
type PendingCaptcha struct {
	ConnID      string
	CaptchaID   string
	Question    string
	Answer      string
	Alternates  []string
	ExpiresAt   time.Time
	Attempts    int
	StagedName  string
	StagedOrg   string
}

// PendingVerification tracks an inter-agent nonce-signing verification.
type PendingVerification struct {
	RequesterID string
	TargetID    string
	Nonce       string
	ExpiresAt   time.Time
}

// ProposalStatus enumerates the lifecycle states of a Proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalCompleted ProposalStatus = "completed"
	ProposalDisputed  ProposalStatus = "disputed"
	ProposalExpired   ProposalStatus = "expired"
)

// Proposal is a negotiated work agreement between two agents.
type Proposal struct {
	ID               string
	From             string
	To               string
	Task             string
	Amount           string
	Currency         string
	PaymentCode      string
	EloStake         int
	ProposerStake    int
	AcceptorStake    int
	Terms            string
	Expires          time.Time
	Status           ProposalStatus
	CreatedAt        time.Time
	AcceptedAt       time.Time
	CompletedAt      time.Time
	ProposerSig      string
	AcceptorSig      string
	CompletionProof  string
	DisputeReason    string
	DisputeID        string
}

// DisputePhase enumerates the arbitration state machine's phases.
type DisputePhase string

const (
	PhaseIntent          DisputePhase = "intent"
	PhaseRevealPending   DisputePhase = "reveal_pending"
	PhasePanelSelection  DisputePhase = "panel_selection"
	PhaseArbiterResponse DisputePhase = "arbiter_response"
	PhaseEvidence        DisputePhase = "evidence"
	PhaseDeliberation    DisputePhase = "deliberation"
	PhaseResolved        DisputePhase = "resolved"
	PhaseFallback        DisputePhase = "fallback"
)

// ArbiterSlotStatus enumerates an arbiter invitation's state.
type ArbiterSlotStatus string

const (
	ArbiterPending   ArbiterSlotStatus = "pending"
	ArbiterAccepted  ArbiterSlotStatus = "accepted"
	ArbiterDeclined  ArbiterSlotStatus = "declined"
	ArbiterReplaced  ArbiterSlotStatus = "replaced"
	ArbiterVoted     ArbiterSlotStatus = "voted"
	ArbiterForfeited ArbiterSlotStatus = "forfeited"
)

// ArbiterSlot is one seat on a dispute's arbitration panel.
type ArbiterSlot struct {
	AgentID    string
	Status     ArbiterSlotStatus
	AcceptedAt time.Time
	Vote       string
}

// EvidenceItem is a single piece of evidence submitted by a party.
type EvidenceItem struct {
	Hash    string
	Summary string
}

// PartyEvidence is one party's evidence submission.
type PartyEvidence struct {
	AgentID   string
	Items     []EvidenceItem
	Statement string
	Sig       string
}

// Verdict enumerates arbitration outcomes.
type Verdict string

const (
	VerdictDisputant Verdict = "disputant"
	VerdictRespondent Verdict = "respondent"
	VerdictMutual    Verdict = "mutual"
)

// Dispute is the commit-reveal arbitration record for a disputed Proposal.
type Dispute struct {
	ID                string
	ProposalID        string
	Disputant         string
	Respondent        string
	Reason            string
	Phase             DisputePhase
	Commitment        string
	Nonce             string
	ServerNonce       string
	Seed              string
	Arbiters          []ArbiterSlot
	ReplacementRounds int
	Evidence          map[string]PartyEvidence
	Verdict           Verdict
	RatingChanges     map[string]float64
	CreatedAt         time.Time
	RevealDeadline    time.Time
	EvidenceDeadline  time.Time
	DeliberationEnds  time.Time
	ResolvedAt        time.Time
	FilingFeeEscrowed bool
	IndependenceDays  int
}

// EscalationLevel enumerates the progressive moderation ladder's rungs.
type EscalationLevel int

const (
	LevelNone EscalationLevel = iota
	LevelWarned
	LevelThrottled
	LevelTimedOut
	LevelKicked
)

// EscalationState is a per-key moderation ladder position.
type EscalationState struct {
	Key             string
	Level           EscalationLevel
	ViolationsInWin int
	WindowStart     time.Time
	WarningsSent    int
	ThrottleUntil   time.Time
	TimeoutUntil    time.Time
	TimeoutCount    int
	LastViolationAt time.Time
}

// CallbackEntry is one scheduled synthetic message.
type CallbackEntry struct {
	ID        string
	FireAt    time.Time
	FromAgent string
	Target    string
	Payload   string
	CreatedAt time.Time
}

// FloorClaim records the current holder of a channel's reply floor for one
// originating message.
type FloorClaim struct {
	Channel    string
	MsgID      string
	Holder     string
	StartedAt  int64
	ExpiresAt  time.Time
}

// Skill is one declared capability of an agent.
type Skill struct {
	Capability  string
	Description string
	Rate        string
	Currency    string
}

// SkillRegistration is an agent's signed set of declared capabilities.
type SkillRegistration struct {
	AgentID      string
	Skills       []Skill
	RegisteredAt time.Time
	Signature    string
}

// ReputationRecord is an agent's Elo-like rating.
type ReputationRecord struct {
	AgentID string
	Rating  float64
	KFactor float64
	Games   int
}

// Receipt is the canonical terminal record of a completed proposal.
type Receipt struct {
	ProposalID string
	Proposal   Proposal
	StoredAt   time.Time
}
