// Package admission implements the Admission Gate (spec.md §4.2): allowlist
// and banlist policy, captcha issuance for pubkey-less identifies, and the
// one-hour lurk window for first-seen keys. It is grounded on the teacher's
// internal/middleware/rate_limiter.go map-plus-mutex idiom and its
// layered config-driven policy gates.
package admission

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/agentchat/server/internal/snapshot"
)

const lurkWindow = time.Hour

// AllowEntry is one allowlist/banlist record, per spec.md §6's persisted
// file shape.
type AllowEntry struct {
	Pubkey     string `json:"pubkey"`
	AgentID    string `json:"agentId"`
	ApprovedAt int64  `json:"approvedAt"`
	ApprovedBy string `json:"approvedBy"`
	Note       string `json:"note"`
}

// Gate holds the allowlist/banlist state and captcha generation.
type Gate struct {
	mu sync.RWMutex

	enabled      bool
	strict       bool
	allow        map[string]AllowEntry
	ban          map[string]AllowEntry
	allowPath    string
	banPath      string
	adminPubkey  string
	lurkDisabled bool
}

// Config carries the admission-relevant configuration fields.
type Config struct {
	Enabled      bool
	Strict       bool
	AdminPubkey  string
	LurkDisabled bool
	DataDir      string
}

// New constructs a Gate and loads any persisted allow/ban lists.
func New(cfg Config) *Gate {
	g := &Gate{
		enabled:      cfg.Enabled,
		strict:       cfg.Strict,
		allow:        make(map[string]AllowEntry),
		ban:          make(map[string]AllowEntry),
		allowPath:    cfg.DataDir + "/allowlist.json",
		banPath:      cfg.DataDir + "/banlist.json",
		adminPubkey:  cfg.AdminPubkey,
		lurkDisabled: cfg.LurkDisabled,
	}
	var allowList []AllowEntry
	_ = snapshot.ReadJSON(g.allowPath, &allowList)
	for _, e := range allowList {
		g.allow[e.Pubkey] = e
	}
	var banList []AllowEntry
	_ = snapshot.ReadJSON(g.banPath, &banList)
	for _, e := range banList {
		g.ban[e.Pubkey] = e
	}
	return g
}

// IsAdmin reports whether pubkeyPEM is the configured admin override key.
func (g *Gate) IsAdmin(pubkeyPEM string) bool {
	return g.adminPubkey != "" && pubkeyPEM == g.adminPubkey
}

// IsBanned reports whether a pubkey is on the banlist.
func (g *Gate) IsBanned(pubkeyPEM string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, banned := g.ban[pubkeyPEM]
	return banned
}

// IsAllowed reports whether a pubkey passes the allowlist check. When the
// allowlist is disabled, every pubkey passes.
func (g *Gate) IsAllowed(pubkeyPEM string) bool {
	if !g.enabled {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.allow[pubkeyPEM]
	return ok
}

// StrictRequiresPubkey reports whether identify without a pubkey must be
// rejected outright (strict allowlist mode).
func (g *Gate) StrictRequiresPubkey() bool {
	return g.enabled && g.strict
}

// Approve adds a pubkey to the allowlist and persists it.
func (g *Gate) Approve(entry AllowEntry) error {
	g.mu.Lock()
	g.allow[entry.Pubkey] = entry
	list := make([]AllowEntry, 0, len(g.allow))
	for _, e := range g.allow {
		list = append(list, e)
	}
	g.mu.Unlock()
	return snapshot.WriteJSON(g.allowPath, list, true)
}

// Ban adds a pubkey to the banlist and persists it.
func (g *Gate) Ban(entry AllowEntry) error {
	g.mu.Lock()
	g.ban[entry.Pubkey] = entry
	list := make([]AllowEntry, 0, len(g.ban))
	for _, e := range g.ban {
		list = append(list, e)
	}
	g.mu.Unlock()
	return snapshot.WriteJSON(g.banPath, list, true)
}

// Unban removes a pubkey from the banlist and persists the change; used by
// the admin force-unban override.
func (g *Gate) Unban(pubkeyPEM string) error {
	g.mu.Lock()
	delete(g.ban, pubkeyPEM)
	list := make([]AllowEntry, 0, len(g.ban))
	for _, e := range g.ban {
		list = append(list, e)
	}
	g.mu.Unlock()
	return snapshot.WriteJSON(g.banPath, list, true)
}

// LurkUntil computes the lurk-window expiry for a key first seen at
// firstSeen. If lurk is globally disabled, the returned time is already in
// the past so IsLurking always reports false.
func (g *Gate) LurkUntil(firstSeen time.Time) time.Time {
	if g.lurkDisabled {
		return firstSeen
	}
	return firstSeen.Add(lurkWindow)
}

// IsLurking reports whether now is still within the lurk window.
func (g *Gate) IsLurking(lurkUntil time.Time, now time.Time) bool {
	return now.Before(lurkUntil)
}

// Captcha question/answer pairs. A small fixed pool of arithmetic and
// lexical questions, matching spec.md's "random arithmetic/lexical
// question" requirement without needing external data.
type captchaTemplate struct {
	question string
	answer   string
}

const maxCaptchaAttempts = 3

// GenerateCaptcha returns a fresh random question/answer pair.
func GenerateCaptcha() (question, answer string, err error) {
	a, err := randomInt(10)
	if err != nil {
		return "", "", err
	}
	b, err := randomInt(10)
	if err != nil {
		return "", "", err
	}
	pick, err := randomInt(2)
	if err != nil {
		return "", "", err
	}
	if pick == 0 {
		return fmt.Sprintf("What is %d + %d?", a, b), fmt.Sprintf("%d", a+b), nil
	}
	templates := []captchaTemplate{
		{"Which color is the sky on a clear day?", "blue"},
		{"Spell the number 3 in English.", "three"},
		{"What is the opposite of 'up'?", "down"},
	}
	idx, err := randomInt(len(templates))
	if err != nil {
		return "", "", err
	}
	t := templates[idx]
	return t.question, t.answer, nil
}

// MaxCaptchaAttempts is the number of wrong answers tolerated before the
// connection is closed.
func MaxCaptchaAttempts() int { return maxCaptchaAttempts }

func randomInt(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, fmt.Errorf("admission: random int: %w", err)
	}
	return int(v.Int64()), nil
}

// RandomSuffix produces the random tail of an anon_<random> agent id.
func RandomSuffix() (string, error) {
	max := big.NewInt(1_000_000_000)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("admission: random suffix: %w", err)
	}
	return fmt.Sprintf("%09d", v.Int64()), nil
}
