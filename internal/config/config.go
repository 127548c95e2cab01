// Package config loads AgentChat server configuration from an optional YAML
// file with environment-variable overrides and built-in defaults, mirroring
// the teacher's layered configuration approach.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the full server configuration tree.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Channel    ChannelConfig    `yaml:"channel"`
	Proposal   ProposalConfig   `yaml:"proposal"`
	Arbitrate  ArbitrationConfig `yaml:"arbitration"`
	Callback   CallbackConfig   `yaml:"callback"`
	Escalation EscalationConfig `yaml:"escalation"`
	Redactor   RedactorConfig   `yaml:"redactor"`
	DataDir    string           `yaml:"data_dir"`
}

// ServerConfig controls transport-level behavior.
type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               string `yaml:"port"`
	Name               string `yaml:"name"`
	TLSCert            string `yaml:"tls_cert"`
	TLSKey             string `yaml:"tls_key"`
	LogMessages        bool   `yaml:"log_messages"`
	HeartbeatMs        int    `yaml:"heartbeat_interval_ms"`
	IdleTimeoutMs       int    `yaml:"idle_timeout_ms"`
	IdlePrompts         bool   `yaml:"idle_prompts"`
	ChallengeTimeoutMs  int    `yaml:"challenge_timeout_ms"`
	MaxConnPerIP        int    `yaml:"max_connections_per_ip"`
	MessageBufferSize   int    `yaml:"message_buffer_size"`
	RateLimitMs         int    `yaml:"rate_limit_ms"`
	MOTD                string `yaml:"motd"`
	MOTDFile            string `yaml:"motd_file"`
}

// AdmissionConfig controls allowlist/banlist/lurk behavior.
type AdmissionConfig struct {
	AllowlistEnabled bool   `yaml:"allowlist_enabled"`
	AllowlistStrict  bool   `yaml:"allowlist_strict"`
	AdminKey         string `yaml:"admin_key"`
	LurkDisabled     bool   `yaml:"lurk_disabled"`
	CaptchaEnabled   bool   `yaml:"captcha_enabled"`
}

// ChannelConfig controls channel router defaults.
type ChannelConfig struct {
	ReplayBufferSize int `yaml:"replay_buffer_size"`
}

// ProposalConfig controls proposal engine anti-sybil thresholds.
type ProposalConfig struct {
	MinProposalAgeSec int `yaml:"min_proposal_age_sec"`
}

// ArbitrationConfig controls dispute/arbitration thresholds.
type ArbitrationConfig struct {
	PanelSize             int     `yaml:"panel_size"`
	ArbiterMinRating      float64 `yaml:"arbiter_min_rating"`
	ArbiterMinTxns        int     `yaml:"arbiter_min_transactions"`
	IndependenceDays      int     `yaml:"arbiter_independence_days"`
	ReplacementRounds     int     `yaml:"replacement_rounds"`
	RevealTimeoutSec      int     `yaml:"reveal_timeout_sec"`
	EvidencePeriodSec     int     `yaml:"evidence_period_sec"`
	DeliberationPeriodSec int     `yaml:"deliberation_period_sec"`
	TotalDurationCapSec   int     `yaml:"total_duration_cap_sec"`
	MaxEvidenceItems      int     `yaml:"max_evidence_items"`
	MaxStatementChars     int     `yaml:"max_statement_chars"`
	MaxReasoningChars     int     `yaml:"max_reasoning_chars"`
}

// CallbackConfig controls the scheduled-message queue.
type CallbackConfig struct {
	MaxDurationSec int `yaml:"max_duration_sec"`
	MaxPerAgent    int `yaml:"max_per_agent"`
	MaxPayload     int `yaml:"max_payload"`
	PollMs         int `yaml:"poll_ms"`
}

// EscalationConfig controls the progressive moderation ladder.
type EscalationConfig struct {
	WarnAfter         int `yaml:"warn_after"`
	ThrottleAfter     int `yaml:"throttle_after"`
	TimeoutAfter      int `yaml:"timeout_after"`
	KickAfterTimeouts int `yaml:"kick_after_timeouts"`
	WindowSec         int `yaml:"window_sec"`
	ThrottleSec       int `yaml:"throttle_sec"`
	TimeoutSec        int `yaml:"timeout_sec"`
	CooldownSec       int `yaml:"cooldown_sec"`
	TimeoutMemorySec  int `yaml:"timeout_memory_sec"`
}

// RedactorConfig controls the secret redactor.
type RedactorConfig struct {
	MinEnvValueLength int  `yaml:"min_env_value_length"`
	LabelPatterns     bool `yaml:"label_patterns"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide configuration singleton, loading it on first
// use from CONFIG_PATH (default "config.yaml") plus environment overrides.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Name = getEnv("SERVER_NAME", c.Server.Name)
	c.Server.TLSCert = getEnv("TLS_CERT", c.Server.TLSCert)
	c.Server.TLSKey = getEnv("TLS_KEY", c.Server.TLSKey)
	c.Server.LogMessages = getEnvBool("LOG_MESSAGES", c.Server.LogMessages)
	c.Server.MOTD = getEnv("MOTD", c.Server.MOTD)
	c.Server.MOTDFile = getEnv("MOTD_FILE", c.Server.MOTDFile)
	c.Server.IdlePrompts = !strings.EqualFold(getEnv("IDLE_PROMPTS", ""), "false")

	if v := getEnvInt("RATE_LIMIT_MS", 0); v > 0 {
		c.Server.RateLimitMs = v
	}
	if v := getEnvInt("MESSAGE_BUFFER_SIZE", 0); v > 0 {
		c.Server.MessageBufferSize = v
	}
	if v := getEnvInt("IDLE_TIMEOUT_MS", 0); v > 0 {
		c.Server.IdleTimeoutMs = v
	}
	if v := getEnvInt("CHALLENGE_TIMEOUT_MS", 0); v > 0 {
		c.Server.ChallengeTimeoutMs = v
	}
	if v := getEnvInt("MAX_CONNECTIONS_PER_IP", 0); v > 0 {
		c.Server.MaxConnPerIP = v
	}

	c.Admission.AllowlistEnabled = getEnvBool("ALLOWLIST_ENABLED", c.Admission.AllowlistEnabled)
	c.Admission.AllowlistStrict = getEnvBool("ALLOWLIST_STRICT", c.Admission.AllowlistStrict)
	c.Admission.AdminKey = getEnv("ALLOWLIST_ADMIN_KEY", c.Admission.AdminKey)
	c.Admission.LurkDisabled = getEnvBool("LURK_DISABLED", c.Admission.LurkDisabled)

	if v := getEnvInt("AGENTCHAT_CB_MAX_DURATION_S", 0); v > 0 {
		c.Callback.MaxDurationSec = v
	}
	if v := getEnvInt("AGENTCHAT_CB_MAX_PER_AGENT", 0); v > 0 {
		c.Callback.MaxPerAgent = v
	}
	if v := getEnvInt("AGENTCHAT_CB_MAX_PAYLOAD", 0); v > 0 {
		c.Callback.MaxPayload = v
	}
	if v := getEnvInt("AGENTCHAT_CB_POLL_MS", 0); v > 0 {
		c.Callback.PollMs = v
	}

	c.DataDir = getEnv("DATA_DIR", c.DataDir)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Name == "" {
		c.Server.Name = "agentchat"
	}
	if c.Server.HeartbeatMs == 0 {
		c.Server.HeartbeatMs = 30_000
	}
	if c.Server.IdleTimeoutMs == 0 {
		c.Server.IdleTimeoutMs = 120_000
	}
	if c.Server.ChallengeTimeoutMs == 0 {
		c.Server.ChallengeTimeoutMs = 60_000
	}
	if c.Server.MessageBufferSize == 0 {
		c.Server.MessageBufferSize = 200
	}
	if c.Server.RateLimitMs == 0 {
		c.Server.RateLimitMs = 1000
	}

	if c.Channel.ReplayBufferSize == 0 {
		c.Channel.ReplayBufferSize = 200
	}

	if c.Proposal.MinProposalAgeSec == 0 {
		c.Proposal.MinProposalAgeSec = 60
	}

	if c.Arbitrate.PanelSize == 0 {
		c.Arbitrate.PanelSize = 3
	}
	if c.Arbitrate.ArbiterMinRating == 0 {
		c.Arbitrate.ArbiterMinRating = 1200
	}
	if c.Arbitrate.ArbiterMinTxns == 0 {
		c.Arbitrate.ArbiterMinTxns = 10
	}
	if c.Arbitrate.IndependenceDays == 0 {
		c.Arbitrate.IndependenceDays = 30
	}
	if c.Arbitrate.ReplacementRounds == 0 {
		c.Arbitrate.ReplacementRounds = 2
	}
	if c.Arbitrate.RevealTimeoutSec == 0 {
		c.Arbitrate.RevealTimeoutSec = 600
	}
	if c.Arbitrate.EvidencePeriodSec == 0 {
		c.Arbitrate.EvidencePeriodSec = 3600
	}
	if c.Arbitrate.DeliberationPeriodSec == 0 {
		c.Arbitrate.DeliberationPeriodSec = 3600
	}
	if c.Arbitrate.TotalDurationCapSec == 0 {
		c.Arbitrate.TotalDurationCapSec = 14400
	}
	if c.Arbitrate.MaxEvidenceItems == 0 {
		c.Arbitrate.MaxEvidenceItems = 10
	}
	if c.Arbitrate.MaxStatementChars == 0 {
		c.Arbitrate.MaxStatementChars = 2000
	}
	if c.Arbitrate.MaxReasoningChars == 0 {
		c.Arbitrate.MaxReasoningChars = 500
	}

	if c.Callback.MaxDurationSec == 0 {
		c.Callback.MaxDurationSec = 3600
	}
	if c.Callback.MaxPerAgent == 0 {
		c.Callback.MaxPerAgent = 50
	}
	if c.Callback.MaxPayload == 0 {
		c.Callback.MaxPayload = 500
	}
	if c.Callback.PollMs == 0 {
		c.Callback.PollMs = 1000
	}

	if c.Escalation.WarnAfter == 0 {
		c.Escalation.WarnAfter = 3
	}
	if c.Escalation.ThrottleAfter == 0 {
		c.Escalation.ThrottleAfter = 6
	}
	if c.Escalation.TimeoutAfter == 0 {
		c.Escalation.TimeoutAfter = 10
	}
	if c.Escalation.KickAfterTimeouts == 0 {
		c.Escalation.KickAfterTimeouts = 3
	}
	if c.Escalation.WindowSec == 0 {
		c.Escalation.WindowSec = 60
	}
	if c.Escalation.ThrottleSec == 0 {
		c.Escalation.ThrottleSec = 5
	}
	if c.Escalation.TimeoutSec == 0 {
		c.Escalation.TimeoutSec = 60
	}
	if c.Escalation.CooldownSec == 0 {
		c.Escalation.CooldownSec = 300
	}
	if c.Escalation.TimeoutMemorySec == 0 {
		c.Escalation.TimeoutMemorySec = 3600
	}

	if c.Redactor.MinEnvValueLength == 0 {
		c.Redactor.MinEnvValueLength = 8
	}
	// labelled redaction output ([REDACTED:pattern]) is the useful default.
	// A bare bool can't distinguish "unset" from "explicitly false", so an
	// explicit label_patterns: false in config.yaml is also overridden here.
	if !c.Redactor.LabelPatterns {
		c.Redactor.LabelPatterns = true
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// Addr returns the host:port the transport listener should bind.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
