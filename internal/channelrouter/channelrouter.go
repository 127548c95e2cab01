// Package channelrouter implements the Channel Router (spec.md §4.3):
// join/leave/create/invite/list, message fan-out, typing indicators, and
// the per-channel circular replay buffer. It is grounded on the teacher's
// internal/fabric/websocket.go BroadcastToTenant fan-out helper and the
// single-writer registry-mutation discipline spec.md §5 calls for.
package channelrouter

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
)

var channelNamePattern = regexp.MustCompile(`^#[a-zA-Z0-9_-]+$`)

// ReservedVerifiedOnly are channels the server always treats as
// verified-only regardless of the invite_only flag, per spec.md §4.3's
// "#ops" reservation.
var ReservedVerifiedOnly = map[string]bool{"#ops": true}

// Router owns every Channel; it is the single writer of channel membership.
type Router struct {
	mu             sync.Mutex
	channels       map[string]*core.Channel
	defaultBufSize int
}

// New constructs an empty Router.
func New(defaultBufSize int) *Router {
	if defaultBufSize <= 0 {
		defaultBufSize = 200
	}
	return &Router{channels: make(map[string]*core.Channel), defaultBufSize: defaultBufSize}
}

// ValidName reports whether a channel name is well-formed.
func ValidName(name string) bool {
	return channelNamePattern.MatchString(name)
}

// EnsureChannel returns the named channel, creating it (with the given
// invite-only flag) if it doesn't already exist. The bool result is true
// when this call created the channel.
func (r *Router) EnsureChannel(name string, inviteOnly bool) (*core.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch, false
	}
	ch := &core.Channel{
		Name: name, InviteOnly: inviteOnly,
		VerifiedOnly: ReservedVerifiedOnly[name],
		Invited:      make(map[string]bool),
		Members:      make(map[string]bool),
		BufferSize:   r.defaultBufSize,
	}
	r.channels[name] = ch
	return ch, true
}

// Get returns a channel by name.
func (r *Router) Get(name string) (*core.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// CreateExplicit creates a channel via CREATE_CHANNEL, failing if one
// already exists with that name.
func (r *Router) CreateExplicit(name string, inviteOnly bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[name]; ok {
		return fmt.Errorf("channelrouter: channel %q already exists", name)
	}
	r.channels[name] = &core.Channel{
		Name: name, InviteOnly: inviteOnly,
		VerifiedOnly: ReservedVerifiedOnly[name],
		Invited:      make(map[string]bool),
		Members:      make(map[string]bool),
		BufferSize:   r.defaultBufSize,
	}
	return nil
}

// Invite adds an agent id to a channel's invited set.
func (r *Router) Invite(channel, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channel]
	if !ok {
		return fmt.Errorf("channelrouter: channel %q not found", channel)
	}
	ch.Invited[agentID] = true
	return nil
}

// Join adds a connection to a channel's member set. Callers are responsible
// for the corresponding agent.Channels bookkeeping (spec.md §3's membership
// invariant), kept in the calling engine alongside the registry's Agent.
func (r *Router) Join(ch *core.Channel, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.Members[connID] = true
}

// Leave removes a connection from a channel's member set. If the channel is
// now empty and not the server-reserved "#ops", the caller may choose to
// garbage-collect it via Prune.
func (r *Router) Leave(ch *core.Channel, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(ch.Members, connID)
}

// Prune removes a channel if it has no members and is not reserved.
func (r *Router) Prune(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok || ReservedVerifiedOnly[name] {
		return
	}
	if len(ch.Members) == 0 {
		delete(r.channels, name)
	}
}

// Members returns a snapshot of a channel's member connection ids.
func (r *Router) Members(ch *core.Channel) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(ch.Members))
	for id := range ch.Members {
		out = append(out, id)
	}
	return out
}

// IsMember reports whether a connection belongs to a channel.
func (r *Router) IsMember(ch *core.Channel, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ch.Members[connID]
}

// IsInvited reports whether an agent is in a channel's invited set.
func (r *Router) IsInvited(ch *core.Channel, agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ch.Invited[agentID]
}

// Append adds an event to a channel's bounded FIFO replay buffer.
func (r *Router) Append(ch *core.Channel, eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch.Buffer = append(ch.Buffer, core.BufferedEvent{Type: eventType, Payload: payload, Timestamp: time.Now()})
	size := ch.BufferSize
	if size <= 0 {
		size = r.defaultBufSize
	}
	if len(ch.Buffer) > size {
		ch.Buffer = ch.Buffer[len(ch.Buffer)-size:]
	}
}

// Replay returns a copy of a channel's current buffer.
func (r *Router) Replay(ch *core.Channel) []core.BufferedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.BufferedEvent, len(ch.Buffer))
	copy(out, ch.Buffer)
	return out
}

// ChannelNames returns every known channel name.
func (r *Router) ChannelNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	return out
}

// PublicChannelCount returns the number of non-invite-only channels, for the
// /health endpoint.
func (r *Router) PublicChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ch := range r.channels {
		if !ch.InviteOnly {
			n++
		}
	}
	return n
}

// TotalChannelCount returns the number of known channels.
func (r *Router) TotalChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
