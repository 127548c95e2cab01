package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParsePublicKeyPEM_RoundTrips(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemStr, err := EncodePublicKeyPEM(pub)
	require.NoError(t, err)
	assert.Contains(t, pemStr, "BEGIN PUBLIC KEY")

	parsed, err := ParsePublicKeyPEM(pemStr)
	require.NoError(t, err)
	assert.True(t, pub.Equal(parsed))
}

func TestParsePublicKeyPEM_RejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyPEM("not a pem block")
	assert.Error(t, err)
}

func TestAgentID_DeterministicAndStable(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pemStr, err := EncodePublicKeyPEM(pub)
	require.NoError(t, err)

	id1 := AgentID(pemStr)
	id2 := AgentID(pemStr)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 8)
}

func TestGenerateNonce_UniqueAndHexEncoded(t *testing.T) {
	n1, err := GenerateNonce()
	require.NoError(t, err)
	n2, err := GenerateNonce()
	require.NoError(t, err)
	assert.Len(t, n1, 32)
	assert.NotEqual(t, n1, n2)
}

func TestVerifyChallenge_AcceptsValidRejectsTampered(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pemStr, err := EncodePublicKeyPEM(pub)
	require.NoError(t, err)

	nonce, err := GenerateNonce()
	require.NoError(t, err)
	sig := ed25519.Sign(priv, []byte(nonce))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	require.NoError(t, VerifyChallenge(pemStr, nonce, sigB64))

	otherNonce, err := GenerateNonce()
	require.NoError(t, err)
	assert.Error(t, VerifyChallenge(pemStr, otherNonce, sigB64))
}

func TestVerifySigningString_MatchesCanonicalForm(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pemStr, err := EncodePublicKeyPEM(pub)
	require.NoError(t, err)

	signingString := "PROPOSAL|abc123|def456|write a poem|5.00|USD|PC-1|net-30"
	sig := ed25519.Sign(priv, []byte(signingString))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	require.NoError(t, VerifySigningString(signingString, sigB64, pemStr))
	assert.Error(t, VerifySigningString(signingString+"tampered", sigB64, pemStr))
}

func TestCommitmentVerifyCommitment_RoundTrips(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)
	commitment := Commitment(nonce)

	assert.True(t, VerifyCommitment(nonce, commitment))
	assert.False(t, VerifyCommitment(nonce, "0000000000000000000000000000000000000000000000000000000000000000"))

	otherNonce, err := GenerateNonce()
	require.NoError(t, err)
	assert.False(t, VerifyCommitment(otherNonce, commitment))
}
