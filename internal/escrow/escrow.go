// Package escrow implements the Escrow Hooks in-process event bus (spec.md
// §4.12): external integrators register handlers that are called
// synchronously and sequentially with continueOnError semantics. Grounded
// on the teacher's internal/events EventEmitter/EventBus pattern, simplified
// from its CloudEvents envelope to a lighter named-event-plus-struct-payload
// bus — the teacher's own internal/webhooks/dispatcher.go worker-pool async
// dispatch is deliberately NOT reused here, since spec.md requires
// synchronous sequential dispatch, not background delivery.
package escrow

import (
	"log/slog"
	"sync"
)

// EventName enumerates the stake-lifecycle events spec.md §4.12 names.
type EventName string

const (
	EventCreated            EventName = "escrow:created"
	EventReleased           EventName = "escrow:released"
	EventSettlementComplete EventName = "settlement:completion"
	EventSettlementDispute  EventName = "settlement:dispute"
	EventSettlementVerdict  EventName = "settlement:verdict"
)

// Payload carries the structured fields spec.md §4.12 requires: proposal
// id, parties, stakes, settlement reason, fault party, rating changes.
type Payload struct {
	ProposalID    string
	Parties       []string
	Stakes        map[string]int
	Reason        string
	FaultParty    string
	RatingChanges map[string]float64
}

// Handler processes one dispatched event.
type Handler func(event EventName, payload Payload) error

// Bus is the in-process event bus. continueOnError defaults to true: a
// failing handler is logged but never stops dispatch to the remaining
// handlers, and never propagates into the calling engine's state machine.
type Bus struct {
	mu              sync.Mutex
	handlers        map[EventName][]Handler
	continueOnError bool
}

// New constructs a Bus. continueOnError defaults to true per spec.md §4.12.
func New() *Bus {
	return &Bus{handlers: make(map[EventName][]Handler), continueOnError: true}
}

// SetContinueOnError overrides the default continue-on-error behavior.
func (b *Bus) SetContinueOnError(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.continueOnError = v
}

// On registers a handler for an event name.
func (b *Bus) On(event EventName, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Emit dispatches payload to every handler registered for event, in
// registration order, sequentially and synchronously.
func (b *Bus) Emit(event EventName, payload Payload) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[event]...)
	continueOnError := b.continueOnError
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(event, payload); err != nil {
			slog.Error("escrow: handler failed", "event", string(event), "proposal_id", payload.ProposalID, "error", err)
			if !continueOnError {
				return
			}
		}
	}
}
