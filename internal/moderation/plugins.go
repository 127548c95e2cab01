package moderation

import (
	"context"
	"regexp"
	"time"

	"github.com/agentchat/server/internal/escalation"
)

var defaultURLPattern = regexp.MustCompile(`https?://\S+`)

// LinkDetector blocks new (unverified) connections from posting URLs.
// Verified senders are always allowed through. Grounded on spec.md §4.9's
// "link-detector ... blocks new connections posting URLs, allows verified
// senders, configurable blocked patterns".
type LinkDetector struct {
	blocked []*regexp.Regexp
}

// NewLinkDetector constructs a LinkDetector. Extra patterns supplement the
// default bare-URL pattern.
func NewLinkDetector(extra ...*regexp.Regexp) *LinkDetector {
	patterns := append([]*regexp.Regexp{defaultURLPattern}, extra...)
	return &LinkDetector{blocked: patterns}
}

func (l *LinkDetector) Name() string                { return "link-detector" }
func (l *LinkDetector) Priority() int                { return 10 }
func (l *LinkDetector) FailBehavior() FailBehavior   { return FailOpen }
func (l *LinkDetector) Global() bool                 { return true }

func (l *LinkDetector) Check(_ context.Context, ev Event) (Action, error) {
	if ev.Verified {
		return ActionAllow, nil
	}
	for _, re := range l.blocked {
		if re.MatchString(ev.Content) {
			return ActionBlock, nil
		}
	}
	return ActionAllow, nil
}

// EscalationAdapter exposes the Escalation Engine's current throttle state
// as a moderation plugin, so a throttled/timed-out key's traffic is blocked
// by the same pipeline that evaluates content policy.
type EscalationAdapter struct {
	engine *escalation.Engine
}

// NewEscalationAdapter wraps an Escalation Engine.
func NewEscalationAdapter(engine *escalation.Engine) *EscalationAdapter {
	return &EscalationAdapter{engine: engine}
}

func (e *EscalationAdapter) Name() string              { return "escalation-adapter" }
func (e *EscalationAdapter) Priority() int              { return 5 }
func (e *EscalationAdapter) FailBehavior() FailBehavior { return FailOpen }
func (e *EscalationAdapter) Global() bool               { return true }

func (e *EscalationAdapter) Check(_ context.Context, ev Event) (Action, error) {
	if e.engine.IsThrottled(ev.AgentID, time.Now()) {
		return ActionThrottle, nil
	}
	return ActionAllow, nil
}

func (e *EscalationAdapter) OnDisconnect(agentID string) {
	e.engine.Reset(agentID)
}
