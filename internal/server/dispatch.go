package server

import (
	"log/slog"
	"time"

	"github.com/agentchat/server/internal/metrics"
	"github.com/agentchat/server/internal/transport"
	"github.com/agentchat/server/internal/wire"
)

// OnMessage decodes one inbound frame and routes it by type. Per spec.md
// §5, frames from the same connection are handled strictly in arrival
// order, so this runs synchronously on the transport's read goroutine for
// that connection (no per-frame fan-out).
func (s *Server) OnMessage(c *transport.Conn, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		if pe, ok := err.(*wire.ProtocolError); ok {
			metrics.FramesRejected.WithLabelValues(pe.Code).Inc()
			s.sendError(c.ID, pe)
		}
		return
	}
	metrics.FramesReceived.WithLabelValues(env.Type).Inc()

	agent, authenticated := s.registry.AgentByConn(c.ID)

	if authenticated {
		if !s.postAuthLimit.Allow(agent.ID) {
			s.sendError(c.ID, wire.NewProtocolError(wire.ErrRateLimited, "too many messages"))
			return
		}
	} else if env.Type != wire.TypeIdentify && env.Type != wire.TypeVerifyIdentity && env.Type != wire.TypeCaptchaResponse {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrAuthRequired, "identify first"))
		return
	} else if !s.preAuthLimit.Allow(c.ID) {
		c.CloseWithCode(1008, "rate limit exceeded before authentication")
		return
	}

	switch env.Type {
	case wire.TypeIdentify:
		s.handleIdentify(c, env)
	case wire.TypeVerifyIdentity:
		s.handleVerifyIdentity(c, env)
	case wire.TypeCaptchaResponse:
		s.handleCaptchaResponse(c, env)
	case wire.TypeSetNick:
		s.handleSetNick(c, agent, env)

	case wire.TypeJoin:
		s.handleJoin(c, agent, env)
	case wire.TypeLeave:
		s.handleLeave(c, agent, env)
	case wire.TypeCreateChannel:
		s.handleCreateChannel(c, agent, env)
	case wire.TypeInvite:
		s.handleInvite(c, agent, env)
	case wire.TypeListChannels:
		s.handleListChannels(c, agent)
	case wire.TypeListAgents:
		s.handleListAgents(c, agent)
	case wire.TypeMsg:
		s.handleMsg(c, agent, env)
	case wire.TypeTyping:
		s.handleTyping(c, agent, env)
	case wire.TypeFileChunk:
		s.handleFileChunk(c, agent, env)
	case wire.TypeRespondingTo:
		s.handleRespondingTo(c, agent, env)
	case wire.TypeYield:
		s.handleYield(c, agent, env)

	case wire.TypeProposal:
		s.handleProposal(c, agent, env)
	case wire.TypeAccept:
		s.handleAccept(c, agent, env)
	case wire.TypeReject:
		s.handleReject(c, agent, env)
	case wire.TypeComplete:
		s.handleComplete(c, agent, env)
	case wire.TypeDispute:
		s.handleDispute(c, agent, env)

	case wire.TypeDisputeIntent:
		s.handleDisputeIntent(c, agent, env)
	case wire.TypeDisputeReveal:
		s.handleDisputeReveal(c, agent, env)
	case wire.TypeArbiterAccept:
		s.handleArbiterAccept(c, agent, env)
	case wire.TypeArbiterDecline:
		s.handleArbiterDecline(c, agent, env)
	case wire.TypeEvidence:
		s.handleEvidence(c, agent, env)
	case wire.TypeArbiterVote:
		s.handleArbiterVote(c, agent, env)

	case wire.TypeRegisterSkills:
		s.handleRegisterSkills(c, agent, env)
	case wire.TypeSearchSkills:
		s.handleSearchSkills(c, agent, env)

	case wire.TypePong:
		s.registry.MarkAlive(c.ID)
	case wire.TypePing:
		s.sendTo(c.ID, wire.PongMsg{Type: wire.TypePong})

	default:
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "unknown message type "+env.Type))
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func logHandlerError(where string, err error) {
	if err != nil {
		slog.Debug("server: handler error", "where", where, "error", err)
	}
}
