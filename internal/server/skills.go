package server

import (
	"time"

	"github.com/agentchat/server/internal/core"
	"github.com/agentchat/server/internal/transport"
	"github.com/agentchat/server/internal/wire"
)

func (s *Server) handleRegisterSkills(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.RegisterSkillsMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	skills := make([]core.Skill, 0, len(msg.Skills))
	for _, sk := range msg.Skills {
		skills = append(skills, core.Skill{
			Capability: sk.Capability, Description: sk.Description, Rate: sk.Rate, Currency: sk.Currency,
		})
	}
	s.reputation.RegisterSkills(agent.ID, skills, msg.Sig, time.Now())
}

func (s *Server) handleSearchSkills(c *transport.Conn, agent *core.Agent, env *wire.Envelope) {
	var msg wire.SearchSkillsMsg
	if err := env.Unmarshal(&msg); err != nil {
		s.sendError(c.ID, err.(*wire.ProtocolError))
		return
	}
	matches := s.reputation.SearchSkills(msg.Query)
	results := make([]wire.SkillMatch, 0, len(matches))
	for _, m := range matches {
		results = append(results, wire.SkillMatch{AgentID: m.AgentID, Capability: m.Capability, Rate: m.Rate, Rating: m.Rating})
	}
	s.sendTo(c.ID, wire.SkillsResultMsg{Type: wire.TypeSkillsResult, Results: results})
}
