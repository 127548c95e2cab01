package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_AllowlistDisabledAllowsEveryone(t *testing.T) {
	g := New(Config{Enabled: false, DataDir: t.TempDir()})
	assert.True(t, g.IsAllowed("any-pubkey"))
	assert.False(t, g.StrictRequiresPubkey())
}

func TestGate_ApproveThenBanThenUnban(t *testing.T) {
	g := New(Config{Enabled: true, DataDir: t.TempDir()})
	const key = "pubkey-under-test"

	assert.False(t, g.IsAllowed(key))
	require.NoError(t, g.Approve(AllowEntry{Pubkey: key, ApprovedBy: "admin"}))
	assert.True(t, g.IsAllowed(key))

	require.NoError(t, g.Ban(AllowEntry{Pubkey: key}))
	assert.True(t, g.IsBanned(key))

	require.NoError(t, g.Unban(key))
	assert.False(t, g.IsBanned(key))
}

func TestGate_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	g1 := New(Config{Enabled: true, DataDir: dir})
	require.NoError(t, g1.Approve(AllowEntry{Pubkey: "persisted-key"}))

	g2 := New(Config{Enabled: true, DataDir: dir})
	assert.True(t, g2.IsAllowed("persisted-key"))
}

func TestGate_AdminKeyBypassesAllowlist(t *testing.T) {
	g := New(Config{Enabled: true, DataDir: t.TempDir(), AdminPubkey: "admin-key"})
	assert.True(t, g.IsAdmin("admin-key"))
	assert.False(t, g.IsAdmin("other-key"))
}

func TestGate_LurkWindow(t *testing.T) {
	g := New(Config{DataDir: t.TempDir()})
	firstSeen := time.Now()
	until := g.LurkUntil(firstSeen)

	assert.True(t, g.IsLurking(until, firstSeen.Add(30*time.Minute)))
	assert.False(t, g.IsLurking(until, firstSeen.Add(2*time.Hour)))
}

func TestGate_LurkDisabledNeverLurks(t *testing.T) {
	g := New(Config{DataDir: t.TempDir(), LurkDisabled: true})
	firstSeen := time.Now()
	until := g.LurkUntil(firstSeen)
	assert.False(t, g.IsLurking(until, firstSeen))
}

func TestGenerateCaptcha_ReturnsAnsweredQuestion(t *testing.T) {
	question, answer, err := GenerateCaptcha()
	require.NoError(t, err)
	assert.NotEmpty(t, question)
	assert.NotEmpty(t, answer)
}

func TestRandomSuffix_NineDigitsAndVaries(t *testing.T) {
	a, err := RandomSuffix()
	require.NoError(t, err)
	b, err := RandomSuffix()
	require.NoError(t, err)
	assert.Len(t, a, 9)
	assert.Len(t, b, 9)
}

func TestMaxCaptchaAttempts_IsPositive(t *testing.T) {
	assert.Greater(t, MaxCaptchaAttempts(), 0)
}
