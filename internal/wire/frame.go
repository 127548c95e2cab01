// Package wire defines AgentChat's JSON wire frame: message type constants,
// the generic envelope, a typed ProtocolError, and encode/decode helpers.
// It mirrors the teacher's explicit Marshal/Unmarshal discipline in
// internal/protocol/frame.go, adapted from a fixed binary header to a JSON
// tagged union.
package wire

import (
	"encoding/json"
	"fmt"
)

// MaxFrameSize is the largest frame the transport will accept, matching
// FILE_CHUNK's own size ceiling.
const MaxFrameSize = 2 * 1024 * 1024

// Message type constants, grouped as in spec.md §6.
const (
	// session
	TypeIdentify        = "IDENTIFY"
	TypeChallenge       = "CHALLENGE"
	TypeVerifyIdentity  = "VERIFY_IDENTITY"
	TypeCaptchaChallenge = "CAPTCHA_CHALLENGE"
	TypeCaptchaResponse = "CAPTCHA_RESPONSE"
	TypeWelcome         = "WELCOME"
	TypePing            = "PING"
	TypePong            = "PONG"
	TypeError           = "ERROR"
	TypeSessionDisplaced = "SESSION_DISPLACED"
	TypeMOTDUpdate      = "MOTD_UPDATE"
	TypeSetNick         = "SET_NICK"
	TypeNickChanged     = "NICK_CHANGED"

	// channel
	TypeJoin          = "JOIN"
	TypeLeave         = "LEAVE"
	TypeCreateChannel = "CREATE_CHANNEL"
	TypeInvite        = "INVITE"
	TypeListChannels  = "LIST_CHANNELS"
	TypeChannels      = "CHANNELS"
	TypeListAgents    = "LIST_AGENTS"
	TypeAgents        = "AGENTS"
	TypeJoined        = "JOINED"
	TypeLeft          = "LEFT"
	TypeAgentJoined   = "AGENT_JOINED"
	TypeAgentLeft     = "AGENT_LEFT"
	TypeMsg           = "MSG"
	TypeTyping        = "TYPING"
	TypeFileChunk     = "FILE_CHUNK"

	// proposals
	TypeProposal = "PROPOSAL"
	TypeAccept   = "ACCEPT"
	TypeReject   = "REJECT"
	TypeComplete = "COMPLETE"
	TypeDispute  = "DISPUTE"

	// disputes
	TypeDisputeIntent    = "DISPUTE_INTENT"
	TypeDisputeReveal    = "DISPUTE_REVEAL"
	TypeEvidence         = "EVIDENCE"
	TypeArbiterAccept    = "ARBITER_ACCEPT"
	TypeArbiterDecline   = "ARBITER_DECLINE"
	TypeArbiterVote      = "ARBITER_VOTE"
	TypePanelFormed      = "PANEL_FORMED"
	TypeArbiterAssigned  = "ARBITER_ASSIGNED"
	TypeEvidenceReceived = "EVIDENCE_RECEIVED"
	TypeCaseReady        = "CASE_READY"
	TypeVerdict          = "VERDICT"
	TypeDisputeIntentAck = "DISPUTE_INTENT_ACK"
	TypeDisputeRevealed  = "DISPUTE_REVEALED"
	TypeDisputeFallback  = "DISPUTE_FALLBACK"
	TypeSettlementComplete = "SETTLEMENT_COMPLETE"

	// skills / floor
	TypeRegisterSkills = "REGISTER_SKILLS"
	TypeSearchSkills   = "SEARCH_SKILLS"
	TypeSkillsResult   = "SKILLS_RESULT"
	TypeRespondingTo   = "RESPONDING_TO"
	TypeFloorClaimed   = "FLOOR_CLAIMED"
	TypeYield          = "YIELD"
)

// Error codes, per spec.md §6/§7.
const (
	ErrAuthRequired          = "AUTH_REQUIRED"
	ErrChannelNotFound       = "CHANNEL_NOT_FOUND"
	ErrNotInvited            = "NOT_INVITED"
	ErrInvalidMsg            = "INVALID_MSG"
	ErrRateLimited           = "RATE_LIMITED"
	ErrAgentNotFound         = "AGENT_NOT_FOUND"
	ErrChannelExists         = "CHANNEL_EXISTS"
	ErrInvalidName           = "INVALID_NAME"
	ErrProposalNotFound      = "PROPOSAL_NOT_FOUND"
	ErrProposalExpired       = "PROPOSAL_EXPIRED"
	ErrInvalidProposal       = "INVALID_PROPOSAL"
	ErrSignatureRequired     = "SIGNATURE_REQUIRED"
	ErrNotProposalParty      = "NOT_PROPOSAL_PARTY"
	ErrInsufficientReputation = "INSUFFICIENT_REPUTATION"
	ErrInvalidStake          = "INVALID_STAKE"
	ErrVerificationFailed    = "VERIFICATION_FAILED"
	ErrVerificationExpired   = "VERIFICATION_EXPIRED"
	ErrNoPubkey              = "NO_PUBKEY"
	ErrNotAllowed            = "NOT_ALLOWED"
	ErrBanned                = "BANNED"
	ErrCaptchaFailed         = "CAPTCHA_FAILED"
	ErrCaptchaExpired        = "CAPTCHA_EXPIRED"
	ErrLurking               = "LURKING"
)

// Envelope is the generic inbound/outbound frame: a type tag plus an
// arbitrary JSON payload, decoded fully only once the type is known.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ProtocolError is the typed carrier for an ERROR{code,message} frame. It is
// distinct from a bare error so dispatch code can map it straight to an
// outbound frame without string matching.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewProtocolError constructs a ProtocolError.
func NewProtocolError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// ErrorFrame is the wire shape of an ERROR message.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorFrame builds the outbound ERROR frame for a ProtocolError.
func NewErrorFrame(pe *ProtocolError) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: pe.Code, Message: pe.Message}
}

// Decode parses a raw frame into an Envelope, rejecting oversize or
// malformed input.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxFrameSize {
		return nil, NewProtocolError(ErrInvalidMsg, "frame exceeds maximum size")
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, NewProtocolError(ErrInvalidMsg, "malformed JSON frame")
	}
	if probe.Type == "" {
		return nil, NewProtocolError(ErrInvalidMsg, "missing type field")
	}
	return &Envelope{Type: probe.Type, Raw: json.RawMessage(data)}, nil
}

// Unmarshal decodes the envelope's raw payload into dst.
func (e *Envelope) Unmarshal(dst any) error {
	if err := json.Unmarshal(e.Raw, dst); err != nil {
		return NewProtocolError(ErrInvalidMsg, "schema mismatch for type "+e.Type)
	}
	return nil
}

// Encode serializes any outbound frame value to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
