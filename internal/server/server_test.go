package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/agentchat/server/internal/config"
	"github.com/agentchat/server/internal/identity"
	"github.com/agentchat/server/internal/proposal"
)

// freePort asks the kernel for an unused TCP port by briefly binding to
// :0, closing it, and handing the port back for the real listener to use.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func startTestServer(t *testing.T, configure ...func(*config.Config)) (addr string) {
	t.Helper()
	port := freePort(t)
	cfg := &config.Config{DataDir: t.TempDir()}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = strconv.Itoa(port)
	cfg.Server.Name = "test-server"
	cfg.Server.HeartbeatMs = 60_000
	cfg.Server.ChallengeTimeoutMs = 5_000
	cfg.Server.MaxConnPerIP = 50
	cfg.Channel.ReplayBufferSize = 50
	cfg.Proposal.MinProposalAgeSec = 0
	cfg.Callback.PollMs = 50
	cfg.Callback.MaxDurationSec = 10
	cfg.Callback.MaxPayload = 200
	cfg.Callback.MaxPerAgent = 10
	cfg.Arbitrate.IndependenceDays = 30
	cfg.Admission.LurkDisabled = true
	for _, fn := range configure {
		fn(cfg)
	}

	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	addr = "127.0.0.1:" + strconv.Itoa(port)
	waitForListener(t, addr)
	return addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server at %s never came up", addr)
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

// readType reads frames until one with the given "type" field arrives, or
// fails the test after a short deadline. Returns the decoded frame.
func (c *testClient) readType(wantType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %q: %v", wantType, err)
		}
		var frame map[string]any
		require.NoError(c.t, json.Unmarshal(data, &frame))
		if frame["type"] == wantType {
			return frame
		}
	}
	c.t.Fatalf("timed out waiting for frame type %q", wantType)
	return nil
}

func identifyAnon(t *testing.T, c *testClient, name string) string {
	t.Helper()
	c.send(map[string]any{"type": "IDENTIFY", "name": name})
	welcome := c.readType("WELCOME")
	return welcome["agent_id"].(string)
}

// identifyWithKey runs the full pubkey + challenge-response handshake and
// returns the resulting agent id plus the Ed25519 signer for later use.
func identifyWithKey(t *testing.T, c *testClient, name string) (agentID string, pub ed25519.PublicKey, priv ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubPEM, err := identity.EncodePublicKeyPEM(pub)
	require.NoError(t, err)

	c.send(map[string]any{"type": "IDENTIFY", "name": name, "pubkey": pubPEM})
	challenge := c.readType("CHALLENGE")
	nonce := challenge["nonce"].(string)
	challengeID := challenge["challenge_id"].(string)

	sig := ed25519.Sign(priv, []byte(nonce))
	c.send(map[string]any{"type": "VERIFY_IDENTITY", "challenge_id": challengeID, "signature": base64.StdEncoding.EncodeToString(sig)})
	welcome := c.readType("WELCOME")
	return welcome["agent_id"].(string), pub, priv
}

func signFields(priv ed25519.PrivateKey, kind string, fields ...string) string {
	s := proposal.SigningString(kind, fields...)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(s)))
}

func TestIdentifyAnonymous_ReceivesWelcomeWithGeneratedID(t *testing.T) {
	addr := startTestServer(t)
	c := dialClient(t, addr)
	id := identifyAnon(t, c, "alice")
	require.Contains(t, id, "anon_")
}

func TestIdentifyWithPubkey_VerifiesChallengeAndWelcomes(t *testing.T) {
	addr := startTestServer(t)
	c := dialClient(t, addr)
	id, pub, _ := identifyWithKey(t, c, "bob")
	require.Equal(t, identity.AgentID(mustPEM(t, pub)), id)
}

func mustPEM(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	pem, err := identity.EncodePublicKeyPEM(pub)
	require.NoError(t, err)
	return pem
}

func TestJoinAndMessage_BroadcastsToOtherChannelMembers(t *testing.T) {
	addr := startTestServer(t)
	alice := dialClient(t, addr)
	bob := dialClient(t, addr)
	identifyAnon(t, alice, "alice")
	bobID := identifyAnon(t, bob, "bob")

	alice.send(map[string]any{"type": "JOIN", "channel": "#general"})
	alice.readType("JOINED")
	bob.send(map[string]any{"type": "JOIN", "channel": "#general"})
	bob.readType("JOINED")
	alice.readType("AGENT_JOINED")

	alice.send(map[string]any{"type": "MSG", "to": "#general", "content": "hello room"})
	msg := bob.readType("MSG")
	require.Equal(t, "hello room", msg["content"])
	require.NotEqual(t, bobID, msg["from"])
}

func TestDirectMessage_DeliversOnlyToNamedAgent(t *testing.T) {
	addr := startTestServer(t)
	alice := dialClient(t, addr)
	bob := dialClient(t, addr)
	identifyAnon(t, alice, "alice")
	bobID := identifyAnon(t, bob, "bob")

	alice.send(map[string]any{"type": "MSG", "to": bobID, "content": "psst"})
	msg := bob.readType("MSG")
	require.Equal(t, "psst", msg["content"])
}

func TestSetNick_ConfirmsChange(t *testing.T) {
	addr := startTestServer(t)
	c := dialClient(t, addr)
	agentID := identifyAnon(t, c, "carol")

	c.send(map[string]any{"type": "SET_NICK", "nick": "carol-nick"})
	changed := c.readType("NICK_CHANGED")
	require.Equal(t, agentID, changed["agent_id"])
	require.Equal(t, "carol-nick", changed["nick"])
}

func TestProposalLifecycle_AcceptThenCompleteAppliesReputationChange(t *testing.T) {
	addr := startTestServer(t)
	alice := dialClient(t, addr)
	bob := dialClient(t, addr)
	aliceID, _, alicePriv := identifyWithKey(t, alice, "alice")
	bobID, _, bobPriv := identifyWithKey(t, bob, "bob")

	sig := signFields(alicePriv, "PROPOSAL", aliceID, bobID, "write a poem", "5.00", "USD", "PC-1", "net-30")
	alice.send(map[string]any{
		"type": "PROPOSAL", "to": bobID, "task": "write a poem",
		"amount": "5.00", "currency": "USD", "payment_code": "PC-1", "terms": "net-30", "sig": sig,
	})
	proposalFrame := bob.readType("PROPOSAL")
	proposalID := proposalFrame["proposal_id"].(string)
	alice.readType("PROPOSAL")

	acceptSig := signFields(bobPriv, "ACCEPT", proposalID, bobID, "PC-1")
	bob.send(map[string]any{"type": "ACCEPT", "proposal_id": proposalID, "payment_code": "PC-1", "sig": acceptSig})
	alice.readType("ACCEPT")
	bob.readType("ACCEPT")

	completeSig := signFields(alicePriv, "COMPLETE", proposalID, aliceID, "proof-of-work")
	alice.send(map[string]any{"type": "COMPLETE", "proposal_id": proposalID, "proof": "proof-of-work", "sig": completeSig})
	alice.readType("COMPLETE")
	bob.readType("COMPLETE")

	settlement := alice.readType("SETTLEMENT_COMPLETE")
	require.Equal(t, proposalID, settlement["proposal_id"])
	bob.readType("SETTLEMENT_COMPLETE")
}

func TestDisputeIntent_FallsBackWhenArbiterPoolTooSmall(t *testing.T) {
	addr := startTestServer(t)
	alice := dialClient(t, addr)
	bob := dialClient(t, addr)
	aliceID, _, alicePriv := identifyWithKey(t, alice, "alice")
	bobID, _, bobPriv := identifyWithKey(t, bob, "bob")

	sig := signFields(alicePriv, "PROPOSAL", aliceID, bobID, "task", "1.00", "USD", "PC-2", "")
	alice.send(map[string]any{
		"type": "PROPOSAL", "to": bobID, "task": "task",
		"amount": "1.00", "currency": "USD", "payment_code": "PC-2", "sig": sig,
	})
	proposalFrame := bob.readType("PROPOSAL")
	proposalID := proposalFrame["proposal_id"].(string)
	alice.readType("PROPOSAL")

	acceptSig := signFields(bobPriv, "ACCEPT", proposalID, bobID, "PC-2")
	bob.send(map[string]any{"type": "ACCEPT", "proposal_id": proposalID, "payment_code": "PC-2", "sig": acceptSig})
	alice.readType("ACCEPT")
	bob.readType("ACCEPT")

	nonce, err := identity.GenerateNonce()
	require.NoError(t, err)
	commitment := identity.Commitment(nonce)
	alice.send(map[string]any{"type": "DISPUTE_INTENT", "proposal_id": proposalID, "reason": "no delivery", "commitment": commitment})
	ack := alice.readType("DISPUTE_INTENT_ACK")
	disputeID := ack["dispute_id"].(string)
	bob.readType("DISPUTE_INTENT_ACK")

	alice.send(map[string]any{"type": "DISPUTE_REVEAL", "dispute_id": disputeID, "nonce": nonce})
	fallback := alice.readType("DISPUTE_FALLBACK")
	require.Equal(t, disputeID, fallback["dispute_id"])
	bob.readType("DISPUTE_FALLBACK")
}

func TestLurkingAgent_CannotSendMsgOrProposalUntilWindowExpires(t *testing.T) {
	addr := startTestServer(t, func(cfg *config.Config) {
		cfg.Admission.LurkDisabled = false
	})
	alice := dialClient(t, addr)
	bob := dialClient(t, addr)
	aliceID, _, alicePriv := identifyWithKey(t, alice, "alice")
	bobID, _, _ := identifyWithKey(t, bob, "bob")

	alice.send(map[string]any{"type": "MSG", "to": bobID, "content": "hi"})
	errFrame := alice.readType("ERROR")
	require.Equal(t, "LURKING", errFrame["code"])

	sig := signFields(alicePriv, "PROPOSAL", aliceID, bobID, "task", "1.00", "USD", "PC-3", "")
	alice.send(map[string]any{
		"type": "PROPOSAL", "to": bobID, "task": "task",
		"amount": "1.00", "currency": "USD", "payment_code": "PC-3", "sig": sig,
	})
	errFrame = alice.readType("ERROR")
	require.Equal(t, "LURKING", errFrame["code"])
}

func TestRegisterAndSearchSkills_FindsRegisteredCapability(t *testing.T) {
	addr := startTestServer(t)
	alice := dialClient(t, addr)
	bob := dialClient(t, addr)
	identifyAnon(t, alice, "alice")
	identifyAnon(t, bob, "bob")

	alice.send(map[string]any{
		"type": "REGISTER_SKILLS",
		"skills": []map[string]any{
			{"capability": "translation", "description": "en-fr", "rate": "0.02", "currency": "USD"},
		},
	})

	bob.send(map[string]any{"type": "SEARCH_SKILLS", "query": "translation"})
	result := bob.readType("SKILLS_RESULT")
	results, ok := result["results"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, results)
}
