package wire

// Session messages.

type IdentifyMsg struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Pubkey string `json:"pubkey,omitempty"`
	Org    string `json:"org,omitempty"`
}

type ChallengeMsg struct {
	Type        string `json:"type"`
	Nonce       string `json:"nonce"`
	ChallengeID string `json:"challenge_id"`
	ExpiresAt   int64  `json:"expires_at"`
}

type VerifyIdentityMsg struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challenge_id"`
	Signature   string `json:"signature"`
	Timestamp   int64  `json:"timestamp"`
}

type CaptchaChallengeMsg struct {
	Type      string `json:"type"`
	CaptchaID string `json:"captcha_id"`
	Question  string `json:"question"`
	ExpiresAt int64  `json:"expires_at"`
}

type CaptchaResponseMsg struct {
	Type      string `json:"type"`
	CaptchaID string `json:"captcha_id"`
	Answer    string `json:"answer"`
}

type WelcomeMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Server  string `json:"server"`
	MOTD    string `json:"motd,omitempty"`
}

type SessionDisplacedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type MOTDUpdateMsg struct {
	Type string `json:"type"`
	MOTD string `json:"motd"`
}

type SetNickMsg struct {
	Type string `json:"type"`
	Nick string `json:"nick"`
}

type NickChangedMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	Nick    string `json:"nick"`
}

// Channel messages.

type JoinMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type LeaveMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type CreateChannelMsg struct {
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	InviteOnly bool   `json:"invite_only"`
}

type InviteMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	AgentID string `json:"agent_id"`
}

type JoinedMsg struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Agents  []string `json:"agents"`
}

type AgentJoinedMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Agent   string `json:"agent"`
	Name    string `json:"name"`
}

type LeftMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type AgentLeftMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Agent   string `json:"agent"`
}

type ChannelsMsg struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type AgentsMsg struct {
	Type   string   `json:"type"`
	Agents []string `json:"agents"`
}

type MsgMsg struct {
	Type     string `json:"type"`
	To       string `json:"to"`
	Content  string `json:"content"`
	From     string `json:"from,omitempty"`
	MsgID    string `json:"msg_id,omitempty"`
	Verified bool   `json:"verified,omitempty"`
	Replay   bool   `json:"replay,omitempty"`
	CBID     string `json:"cb_id,omitempty"`
	CBOrigin string `json:"cb_origin,omitempty"`
}

type TypingMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Agent   string `json:"agent,omitempty"`
	Name    string `json:"name,omitempty"`
}

type FileChunkMsg struct {
	Type    string `json:"type"`
	To      string `json:"to"`
	Data    string `json:"data"`
	From    string `json:"from,omitempty"`
}

// Proposal messages.

type ProposalMsg struct {
	Type        string `json:"type"`
	To          string `json:"to"`
	Task        string `json:"task"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	PaymentCode string `json:"payment_code,omitempty"`
	Terms       string `json:"terms,omitempty"`
	Expires     int64  `json:"expires,omitempty"`
	EloStake    int    `json:"elo_stake,omitempty"`
	Sig         string `json:"sig"`

	ProposalID string `json:"proposal_id,omitempty"`
	From       string `json:"from,omitempty"`
	Status     string `json:"status,omitempty"`
}

type AcceptMsg struct {
	Type        string `json:"type"`
	ProposalID  string `json:"proposal_id"`
	PaymentCode string `json:"payment_code,omitempty"`
	EloStake    int    `json:"elo_stake,omitempty"`
	Sig         string `json:"sig"`
	Status      string `json:"status,omitempty"`
}

type RejectMsg struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
	Sig        string `json:"sig"`
	Status     string `json:"status,omitempty"`
}

type CompleteMsg struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id"`
	Proof      string `json:"proof"`
	Sig        string `json:"sig"`
	Status     string `json:"status,omitempty"`
}

type DisputeMsg struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
	Sig        string `json:"sig"`
	Status     string `json:"status,omitempty"`
}

// Dispute / arbitration messages.

type DisputeIntentMsg struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
	Commitment string `json:"commitment"`
	Sig        string `json:"sig"`
}

type DisputeIntentAckMsg struct {
	Type       string `json:"type"`
	DisputeID  string `json:"dispute_id"`
	ServerNonce string `json:"server_nonce"`
}

type DisputeRevealMsg struct {
	Type       string `json:"type"`
	DisputeID  string `json:"dispute_id"`
	Nonce      string `json:"nonce"`
}

type DisputeRevealedMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
	Seed      string `json:"seed"`
}

type DisputeFallbackMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
	Reason    string `json:"reason"`
}

type PanelFormedMsg struct {
	Type      string   `json:"type"`
	DisputeID string   `json:"dispute_id"`
	Arbiters  []string `json:"arbiters"`
}

type ArbiterAssignedMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
}

type ArbiterAcceptMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
	Sig       string `json:"sig"`
}

type ArbiterDeclineMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
}

type EvidenceItemWire struct {
	Summary string `json:"summary"`
}

type EvidenceMsg struct {
	Type      string             `json:"type"`
	DisputeID string             `json:"dispute_id"`
	Items     []EvidenceItemWire `json:"items"`
	Statement string             `json:"statement"`
	Sig       string             `json:"sig"`
}

type EvidenceReceivedMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
}

type CaseReadyMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
}

type ArbiterVoteMsg struct {
	Type      string `json:"type"`
	DisputeID string `json:"dispute_id"`
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
	Sig       string `json:"sig"`
}

type VerdictMsg struct {
	Type          string             `json:"type"`
	DisputeID     string             `json:"dispute_id"`
	Verdict       string             `json:"verdict"`
	RatingChanges map[string]float64 `json:"rating_changes"`
}

type SettlementCompleteMsg struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id"`
}

// Skills / floor.

type RegisterSkillsMsg struct {
	Type   string          `json:"type"`
	Skills []SkillWire     `json:"skills"`
	Sig    string          `json:"sig"`
}

type SkillWire struct {
	Capability  string `json:"capability"`
	Description string `json:"description,omitempty"`
	Rate        string `json:"rate,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

type SearchSkillsMsg struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type SkillsResultMsg struct {
	Type    string          `json:"type"`
	Results []SkillMatch    `json:"results"`
}

type SkillMatch struct {
	AgentID    string  `json:"agent_id"`
	Capability string  `json:"capability"`
	Rate       string  `json:"rate,omitempty"`
	Rating     float64 `json:"rating"`
}

type RespondingToMsg struct {
	Type      string `json:"type"`
	MsgID     string `json:"msg_id"`
	Channel   string `json:"channel"`
	StartedAt int64  `json:"started_at"`
}

type FloorClaimedMsg struct {
	Type            string `json:"type"`
	MsgID           string `json:"msg_id"`
	Channel         string `json:"channel"`
	Holder          string `json:"holder"`
	HolderStartedAt int64  `json:"holder_started_at"`
}

type YieldMsg struct {
	Type            string `json:"type"`
	MsgID           string `json:"msg_id"`
	Channel         string `json:"channel"`
	Holder          string `json:"holder"`
	HolderStartedAt int64  `json:"holder_started_at"`
	Reason          string `json:"reason"`
}

type PingMsg struct {
	Type string `json:"type"`
}

type PongMsg struct {
	Type string `json:"type"`
}
