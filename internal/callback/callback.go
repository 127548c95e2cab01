// Package callback implements the server-scheduled callback timer queue
// (spec.md §4.6): a min-heap keyed by fire_at, polled periodically, that
// fires synthetic future messages parsed from in-band "@@cb:" markers. The
// heap itself uses the standard library container/heap, matching spec.md's
// own description of the data structure; no pack repo reaches for a
// third-party scheduling library for this.
package callback

import (
	"container/heap"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentchat/server/internal/core"
)

// markerPattern matches "@@cb:<Ns>[#channel]@@" in message content.
var markerPattern = regexp.MustCompile(`@@cb:(\d+)s(?:#([a-zA-Z0-9_-]+))?@@`)

// Limits holds the configurable ceilings spec.md §4.6 names.
type Limits struct {
	MaxDuration time.Duration
	MaxPayload  int
	MaxPerAgent int
}

// ParsedCallback is one extracted scheduling marker plus its payload.
type ParsedCallback struct {
	Delay   time.Duration
	Channel string // empty if not channel-targeted
	Payload string
}

// ParseMarkers scans content for "@@cb:" markers and returns the markers
// found plus the content with all markers and their payload spans stripped
// (what actually goes on the wire to recipients).
func ParseMarkers(content string, limits Limits) (cleaned string, found []ParsedCallback) {
	locs := markerPattern.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return content, nil
	}

	var b strings.Builder
	lastEnd := 0
	for i, loc := range locs {
		matchStart, matchEnd := loc[0], loc[1]
		secStart, secEnd := loc[2], loc[3]
		var chanStart, chanEnd int
		if loc[4] >= 0 {
			chanStart, chanEnd = loc[4], loc[5]
		}

		b.WriteString(content[lastEnd:matchStart])

		payloadEnd := len(content)
		if i+1 < len(locs) {
			payloadEnd = locs[i+1][0]
		}
		payload := strings.TrimSpace(content[matchEnd:payloadEnd])

		secs, err := strconv.Atoi(content[secStart:secEnd])
		if err == nil {
			delay := time.Duration(secs) * time.Second
			if delay > limits.MaxDuration {
				delay = limits.MaxDuration
			}
			channel := ""
			if chanEnd > chanStart {
				channel = content[chanStart:chanEnd]
			}
			if limits.MaxPayload <= 0 || len(payload) <= limits.MaxPayload {
				found = append(found, ParsedCallback{Delay: delay, Channel: channel, Payload: payload})
			}
		}

		lastEnd = payloadEnd
	}
	b.WriteString(content[lastEnd:])
	return b.String(), found
}

// entry is one scheduled callback, plus its heap index for container/heap.
type entry struct {
	*core.CallbackEntry
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].FireAt.Before(h[j].FireAt) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue is the min-heap of scheduled callbacks.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	byID    map[string]*entry
	perAgent map[string]int
	limits  Limits
	nextID  func() string
}

// New constructs an empty Queue. nextID generates unique callback ids
// (google/uuid in the server wiring).
func New(limits Limits, nextID func() string) *Queue {
	q := &Queue{byID: make(map[string]*entry), perAgent: make(map[string]int), limits: limits, nextID: nextID}
	heap.Init(&q.heap)
	return q
}

// Schedule enqueues a new callback, refusing it if the originating agent is
// already at its AGENTCHAT_CB_MAX_PER_AGENT limit.
func (q *Queue) Schedule(fromAgent, target, payload string, delay time.Duration, now time.Time) (*core.CallbackEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limits.MaxPerAgent > 0 && q.perAgent[fromAgent] >= q.limits.MaxPerAgent {
		return nil, fmt.Errorf("callback: agent %q at max scheduled callbacks", fromAgent)
	}
	if delay > q.limits.MaxDuration {
		delay = q.limits.MaxDuration
	}

	ce := &core.CallbackEntry{
		ID: q.nextID(), FireAt: now.Add(delay), FromAgent: fromAgent,
		Target: target, Payload: payload, CreatedAt: now,
	}
	e := &entry{CallbackEntry: ce}
	heap.Push(&q.heap, e)
	q.byID[ce.ID] = e
	q.perAgent[fromAgent]++
	return ce, nil
}

// PopDue removes and returns every entry whose fire_at has passed, in
// non-decreasing fire_at order.
func (q *Queue) PopDue(now time.Time) []*core.CallbackEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*core.CallbackEntry
	for q.heap.Len() > 0 && !q.heap[0].FireAt.After(now) {
		e := heap.Pop(&q.heap).(*entry)
		delete(q.byID, e.ID)
		q.perAgent[e.FromAgent]--
		due = append(due, e.CallbackEntry)
	}
	return due
}

// RemoveByAgent removes every pending entry originated by agentID, for
// disconnect garbage collection.
func (q *Queue) RemoveByAgent(agentID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var kept entryHeap
	for _, e := range q.heap {
		if e.FromAgent == agentID {
			delete(q.byID, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	q.heap = kept
	heap.Init(&q.heap)
	delete(q.perAgent, agentID)
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
