package server

import (
	"strings"
	"time"

	"github.com/agentchat/server/internal/admission"
	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/identity"
	"github.com/agentchat/server/internal/transport"
	"github.com/agentchat/server/internal/wire"
)

func (s *Server) handleIdentify(c *transport.Conn, env *wire.Envelope) {
	var msg wire.IdentifyMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}

	if msg.Pubkey == "" {
		s.identifyAnonymous(c, msg.Name, msg.Org)
		return
	}

	if _, err := identity.ParsePublicKeyPEM(msg.Pubkey); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "malformed public key"))
		return
	}
	if s.admission.IsBanned(msg.Pubkey) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrBanned, "this key is banned"))
		c.CloseWithCode(1008, "banned")
		return
	}
	if !s.admission.IsAdmin(msg.Pubkey) && !s.admission.IsAllowed(msg.Pubkey) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrNotAllowed, "key not on the allowlist"))
		c.CloseWithCode(1008, "not allowed")
		return
	}

	if oldConnID, displaced := s.registry.Displace(msg.Pubkey); displaced {
		s.sendTo(oldConnID, wire.SessionDisplacedMsg{Type: wire.TypeSessionDisplaced, Reason: "a new session authenticated with this key"})
		s.closeConn(oldConnID)
	}

	nonce, err := identity.GenerateNonce()
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "could not generate challenge"))
		return
	}
	challengeID := nonce[:8]
	s.registry.AddChallenge(&core.PendingChallenge{
		ConnID: c.ID, ClaimedName: msg.Name, ClaimedOrg: msg.Org, ClaimedPub: msg.Pubkey,
		Nonce: nonce, ChallengeID: challengeID,
		ExpiresAt: time.Now().Add(time.Duration(s.cfg.Server.ChallengeTimeoutMs) * time.Millisecond),
	})
	s.sendTo(c.ID, wire.ChallengeMsg{
		Type: wire.TypeChallenge, Nonce: nonce, ChallengeID: challengeID,
		ExpiresAt: time.Now().Add(time.Duration(s.cfg.Server.ChallengeTimeoutMs) * time.Millisecond).UnixMilli(),
	})
}

func (s *Server) identifyAnonymous(c *transport.Conn, name, org string) {
	if s.admission.StrictRequiresPubkey() {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrNoPubkey, "a public key is required to connect"))
		c.CloseWithCode(1008, "pubkey required")
		return
	}

	if s.cfg.Admission.CaptchaEnabled {
		question, answer, err := admission.GenerateCaptcha()
		if err != nil {
			s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "could not generate captcha"))
			return
		}
		captchaID := c.ID
		s.registry.AddCaptcha(&core.PendingCaptcha{
			ConnID: c.ID, CaptchaID: captchaID, Question: question, Answer: answer,
			ExpiresAt: time.Now().Add(2 * time.Minute), StagedName: name, StagedOrg: org,
		})
		s.sendTo(c.ID, wire.CaptchaChallengeMsg{
			Type: wire.TypeCaptchaChallenge, CaptchaID: captchaID, Question: question,
			ExpiresAt: time.Now().Add(2 * time.Minute).UnixMilli(),
		})
		return
	}

	suffix, err := admission.RandomSuffix()
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "could not mint anonymous id"))
		return
	}
	s.finalizeIdentify(c, name, org, "", "anon_"+suffix, false)
}

func (s *Server) handleVerifyIdentity(c *transport.Conn, env *wire.Envelope) {
	var msg wire.VerifyIdentityMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	ch, ok := s.registry.Challenge(msg.ChallengeID)
	if !ok || ch.ConnID != c.ID {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrVerificationFailed, "no such pending challenge"))
		return
	}
	if time.Now().After(ch.ExpiresAt) {
		s.registry.RemoveChallenge(msg.ChallengeID)
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrVerificationExpired, "challenge expired"))
		return
	}
	if err := identity.VerifyChallenge(ch.ClaimedPub, ch.Nonce, msg.Signature); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrVerificationFailed, "signature did not verify"))
		return
	}
	s.registry.RemoveChallenge(msg.ChallengeID)

	agentID := identity.AgentID(ch.ClaimedPub)
	firstSeen, _ := s.registry.FirstSeen(ch.ClaimedPub, time.Now())
	s.finalizeIdentify(c, ch.ClaimedName, ch.ClaimedOrg, ch.ClaimedPub, agentID, true)

	if a, ok := s.registry.Agent(agentID); ok && !s.admission.IsAdmin(ch.ClaimedPub) {
		lurkUntil := s.admission.LurkUntil(firstSeen)
		a.LurkUntil = lurkUntil
		a.Lurking = s.admission.IsLurking(lurkUntil, time.Now())
		a.FirstSeen = firstSeen
	}
}

func (s *Server) handleCaptchaResponse(c *transport.Conn, env *wire.Envelope) {
	var msg wire.CaptchaResponseMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	cap, ok := s.registry.Captcha(c.ID)
	if !ok || cap.CaptchaID != msg.CaptchaID {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrCaptchaFailed, "no such pending captcha"))
		return
	}
	if time.Now().After(cap.ExpiresAt) {
		s.registry.RemoveCaptcha(c.ID)
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrCaptchaExpired, "captcha expired"))
		return
	}
	if !strings.EqualFold(strings.TrimSpace(msg.Answer), cap.Answer) {
		cap.Attempts++
		if cap.Attempts >= admission.MaxCaptchaAttempts() {
			s.registry.RemoveCaptcha(c.ID)
			s.sendError(c.ID, wire.NewProtocolError(wire.ErrCaptchaFailed, "too many incorrect attempts"))
			c.CloseWithCode(1008, "captcha failed")
			return
		}
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrCaptchaFailed, "incorrect answer, try again"))
		return
	}

	s.registry.RemoveCaptcha(c.ID)
	suffix, err := admission.RandomSuffix()
	if err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "could not mint anonymous id"))
		return
	}
	s.finalizeIdentify(c, cap.StagedName, cap.StagedOrg, "", "anon_"+suffix, false)
}

func (s *Server) finalizeIdentify(c *transport.Conn, name, org, pubkeyPEM, agentID string, verified bool) {
	agent := &core.Agent{
		ID: agentID, Name: name, Org: org, PubKeyPEM: pubkeyPEM, Channels: make(map[string]bool),
		Presence: "online", Verified: verified, ConnID: c.ID, FirstSeen: time.Now(),
	}
	s.registry.AddAgent(agent)
	s.sendTo(c.ID, wire.WelcomeMsg{
		Type: wire.TypeWelcome, AgentID: agentID, Name: name, Server: s.cfg.Server.Name, MOTD: s.cfg.Server.MOTD,
	})
}

// stillLurking re-checks agent's lurk window against now, rather than
// trusting the Lurking snapshot recorded once at identify time.
func (s *Server) stillLurking(agent *core.Agent) bool {
	return s.admission.IsLurking(agent.LurkUntil, time.Now())
}

func (s *Server) handleSetNick(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.SetNickMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if err := s.registry.SetNick(agent.ID, msg.Nick); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidName, err.Error()))
		return
	}
	s.sendTo(c.ID, wire.NickChangedMsg{Type: wire.TypeNickChanged, AgentID: agent.ID, Nick: msg.Nick})
}
