// Package identity verifies Ed25519 signatures over AgentChat's canonical
// signing strings and manages challenge-response and inter-agent
// verification nonces. It generalizes the teacher's federation/crypto.go PEM
// handling and nonce idioms from ECDSA to Ed25519, since Go carries Ed25519
// in the standard library.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// ParsePublicKeyPEM parses an SPKI PEM-encoded Ed25519 public key.
func ParsePublicKeyPEM(pemStr string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("identity: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse SPKI public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: key is not Ed25519")
	}
	return edPub, nil
}

// EncodePublicKeyPEM encodes an Ed25519 public key as SPKI PEM.
func EncodePublicKeyPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("identity: marshal SPKI public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// AgentID derives the 8-hex-char display id from a pubkey PEM per spec.md §6
// ("first 16 hex chars of SHA-256(pubkey_pem) truncated to 8 for display").
func AgentID(pubkeyPEM string) string {
	sum := sha256.Sum256([]byte(pubkeyPEM))
	return hex.EncodeToString(sum[:])[:8]
}

// GenerateNonce returns 16 random bytes hex-encoded, as used for challenges.
func GenerateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VerifyChallenge checks a base64 signature over a hex nonce against the
// claimed Ed25519 public key.
func VerifyChallenge(pubkeyPEM, nonceHex, signatureB64 string) error {
	pub, err := ParsePublicKeyPEM(pubkeyPEM)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("identity: malformed signature encoding: %w", err)
	}
	if !ed25519.Verify(pub, []byte(nonceHex), sig) {
		return fmt.Errorf("identity: signature verification failed")
	}
	return nil
}

// Verify is the static verify(data, sig, pubkey) primitive the identity
// key-management CLI tool calls directly, per spec.md §6's collaborator
// contract.
func Verify(data []byte, signatureB64, pubkeyPEM string) error {
	pub, err := ParsePublicKeyPEM(pubkeyPEM)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("identity: malformed signature encoding: %w", err)
	}
	if !ed25519.Verify(pub, data, sig) {
		return fmt.Errorf("identity: signature verification failed")
	}
	return nil
}

// VerifySigningString verifies a signature over a canonical signing string
// (the pipe-delimited forms of spec.md §4.4/§4.5).
func VerifySigningString(signingString, signatureB64, pubkeyPEM string) error {
	return Verify([]byte(signingString), signatureB64, pubkeyPEM)
}

// HashAttestation returns the SHA-256 digest of data, used for evidence-item
// hashing and commit-reveal commitments.
func HashAttestation(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Commitment computes SHA-256(nonce) hex-encoded, the dispute-intent
// commitment value.
func Commitment(nonceHex string) string {
	sum := sha256.Sum256([]byte(nonceHex))
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment checks that SHA-256(nonce) == commitment.
func VerifyCommitment(nonceHex, commitment string) bool {
	return Commitment(nonceHex) == commitment
}
