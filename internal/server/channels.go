package server

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentchat/server/internal/callback"
	"github.com/agentchat/server/internal/channelrouter"
	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/floor"
	"github.com/agentchat/server/internal/moderation"
	"github.com/agentchat/server/internal/transport"
	"github.com/agentchat/server/internal/wire"
)

func (s *Server) handleJoin(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.JoinMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if !channelrouter.ValidName(msg.Channel) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidName, "malformed channel name"))
		return
	}
	ch, _ := s.channels.EnsureChannel(msg.Channel, false)
	if ch.InviteOnly && !s.channels.IsInvited(ch, agent.ID) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrNotInvited, "this channel requires an invite"))
		return
	}
	if ch.VerifiedOnly && !agent.Verified {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrNotInvited, "this channel requires a verified identity"))
		return
	}

	s.channels.Join(ch, c.ID)
	agent.Channels[msg.Channel] = true

	names := make([]string, 0, len(ch.Members))
	for _, connID := range s.channels.Members(ch) {
		if a, ok := s.registry.AgentByConn(connID); ok {
			names = append(names, a.ID)
		}
	}
	s.sendTo(c.ID, wire.JoinedMsg{Type: wire.TypeJoined, Channel: msg.Channel, Agents: names})

	for _, ev := range s.channels.Replay(ch) {
		out := map[string]any{"type": ev.Type, "replay": true}
		for k, v := range ev.Payload {
			out[k] = v
		}
		s.sendTo(c.ID, out)
	}

	s.broadcastChannel(msg.Channel, wire.AgentJoinedMsg{
		Type: wire.TypeAgentJoined, Channel: msg.Channel, Agent: agent.ID, Name: agent.Name,
	}, c.ID)
	s.channels.Append(ch, wire.TypeAgentJoined, map[string]any{
		"channel": msg.Channel, "agent": agent.ID, "name": agent.Name,
	})
}

func (s *Server) handleLeave(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.LeaveMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	ch, ok := s.channels.Get(msg.Channel)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrChannelNotFound, "no such channel"))
		return
	}
	s.channels.Leave(ch, c.ID)
	delete(agent.Channels, msg.Channel)

	s.sendTo(c.ID, wire.LeftMsg{Type: wire.TypeLeft, Channel: msg.Channel})
	s.broadcastChannel(msg.Channel, wire.AgentLeftMsg{Type: wire.TypeAgentLeft, Channel: msg.Channel, Agent: agent.ID}, "")
	s.channels.Prune(msg.Channel)
}

func (s *Server) handleCreateChannel(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.CreateChannelMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if !channelrouter.ValidName(msg.Channel) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidName, "malformed channel name"))
		return
	}
	if err := s.channels.CreateExplicit(msg.Channel, msg.InviteOnly); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrChannelExists, "channel already exists"))
		return
	}
	ch, _ := s.channels.Get(msg.Channel)
	_ = s.channels.Invite(msg.Channel, agent.ID)
	s.channels.Join(ch, c.ID)
	agent.Channels[msg.Channel] = true

	s.sendTo(c.ID, wire.JoinedMsg{Type: wire.TypeJoined, Channel: msg.Channel, Agents: []string{agent.ID}})
}

func (s *Server) handleInvite(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.InviteMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	ch, ok := s.channels.Get(msg.Channel)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrChannelNotFound, "no such channel"))
		return
	}
	if !s.channels.IsMember(ch, c.ID) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrNotInvited, "must be a member to invite others"))
		return
	}
	if err := s.channels.Invite(msg.Channel, msg.AgentID); err != nil {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrChannelNotFound, err.Error()))
		return
	}
	if target, ok := s.registry.Agent(msg.AgentID); ok {
		s.sendTo(target.ConnID, wire.InviteMsg{Type: wire.TypeInvite, Channel: msg.Channel, AgentID: agent.ID})
	}
}

func (s *Server) handleListChannels(c *transport.Conn, agent *core.Agent) {
	s.sendTo(c.ID, wire.ChannelsMsg{Type: wire.TypeChannels, Channels: s.channels.ChannelNames()})
}

func (s *Server) handleListAgents(c *transport.Conn, agent *core.Agent) {
	all := s.registry.AllAgents()
	ids := make([]string, 0, len(all))
	for _, a := range all {
		ids = append(ids, a.ID)
	}
	s.sendTo(c.ID, wire.AgentsMsg{Type: wire.TypeAgents, Agents: ids})
}

func (s *Server) handleMsg(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.MsgMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	if s.stillLurking(agent) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrLurking, "still in the lurk window, cannot send messages yet"))
		return
	}

	cleaned, scheduled := callback.ParseMarkers(msg.Content, callback.Limits{
		MaxDuration: time.Duration(s.cfg.Callback.MaxDurationSec) * time.Second,
		MaxPayload:  s.cfg.Callback.MaxPayload,
	})
	content := s.redactor.Redact(cleaned)

	channel := ""
	if strings.HasPrefix(msg.To, "#") {
		channel = msg.To
	}
	action := s.moderation.Evaluate(context.Background(), moderation.Event{
		AgentID: agent.ID, Channel: channel, Content: content, Verified: agent.Verified,
	})
	switch action {
	case moderation.ActionBlock:
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrInvalidMsg, "message blocked by moderation policy"))
		return
	case moderation.ActionThrottle:
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrRateLimited, "throttled for repeated policy violations"))
		return
	}

	for _, cb := range scheduled {
		target := cb.Channel
		if target == "" {
			target = msg.To
		}
		_, _ = s.callbacks.Schedule(agent.ID, target, cb.Payload, cb.Delay, time.Now())
	}

	out := wire.MsgMsg{
		Type: wire.TypeMsg, To: msg.To, Content: content, From: agent.ID,
		MsgID: uuid.NewString(), Verified: agent.Verified,
	}

	if channel != "" {
		ch, ok := s.channels.Get(channel)
		if !ok || !s.channels.IsMember(ch, c.ID) {
			s.sendError(c.ID, wire.NewProtocolError(wire.ErrChannelNotFound, "not a member of this channel"))
			return
		}
		s.broadcastChannel(channel, out, "")
		s.channels.Append(ch, wire.TypeMsg, map[string]any{
			"to": channel, "content": content, "from": agent.ID, "msg_id": out.MsgID,
		})
		return
	}

	targetID := msg.To
	if strings.HasPrefix(targetID, "@") {
		id, ok := s.registry.AgentByNick(strings.TrimPrefix(targetID, "@"))
		if !ok {
			s.sendError(c.ID, wire.NewProtocolError(wire.ErrAgentNotFound, "no such nick"))
			return
		}
		targetID = id
	}
	target, ok := s.registry.Agent(targetID)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrAgentNotFound, "no such agent"))
		return
	}
	s.sendTo(target.ConnID, out)
}

func (s *Server) handleTyping(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.TypingMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	ch, ok := s.channels.Get(msg.Channel)
	if !ok || !s.channels.IsMember(ch, c.ID) {
		return
	}
	s.broadcastChannel(msg.Channel, wire.TypingMsg{
		Type: wire.TypeTyping, Channel: msg.Channel, Agent: agent.ID, Name: agent.Name,
	}, c.ID)
}

func (s *Server) handleFileChunk(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.FileChunkMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	target, ok := s.registry.Agent(msg.To)
	if !ok {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrAgentNotFound, "no such agent"))
		return
	}
	s.sendTo(target.ConnID, wire.FileChunkMsg{Type: wire.TypeFileChunk, To: msg.To, Data: msg.Data, From: agent.ID})
}

func (s *Server) handleRespondingTo(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.RespondingToMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	ch, ok := s.channels.Get(msg.Channel)
	if !ok || !s.channels.IsMember(ch, c.ID) {
		s.sendError(c.ID, wire.NewProtocolError(wire.ErrChannelNotFound, "not a member of this channel"))
		return
	}
	result := s.floor.Claim(msg.Channel, msg.MsgID, agent.ID, msg.StartedAt, time.Now())
	switch result.Outcome {
	case floor.OutcomeGranted, floor.OutcomeDisplaced:
		s.broadcastChannel(msg.Channel, wire.FloorClaimedMsg{
			Type: wire.TypeFloorClaimed, MsgID: msg.MsgID, Channel: msg.Channel,
			Holder: agent.ID, HolderStartedAt: msg.StartedAt,
		}, "")
	case floor.OutcomeDenied:
		s.sendTo(c.ID, wire.FloorClaimedMsg{
			Type: wire.TypeFloorClaimed, MsgID: msg.MsgID, Channel: msg.Channel,
			Holder: result.PriorHolder, HolderStartedAt: result.PriorStarted,
		})
	}
}

func (s *Server) handleYield(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.YieldMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	claim, ok := s.floor.Get(msg.Channel, msg.MsgID)
	if !ok || claim.Holder != agent.ID {
		return
	}
	s.floor.ReleaseByAgent(agent.ID)
	s.broadcastChannel(msg.Channel, wire.YieldMsg{
		Type: wire.TypeYield, MsgID: msg.MsgID, Channel: msg.Channel,
		Holder: agent.ID, HolderStartedAt: msg.HolderStartedAt, Reason: msg.Reason,
	}, "")
}
