package escrow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitDispatchesSequentiallyAndContinuesOnError(t *testing.T) {
	b := New()
	var order []string

	b.On(EventCreated, func(event EventName, payload Payload) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	b.On(EventCreated, func(event EventName, payload Payload) error {
		order = append(order, "second")
		return nil
	})

	b.Emit(EventCreated, Payload{ProposalID: "p1"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEmitStopsWhenContinueOnErrorDisabled(t *testing.T) {
	b := New()
	b.SetContinueOnError(false)
	var order []string

	b.On(EventCreated, func(event EventName, payload Payload) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	b.On(EventCreated, func(event EventName, payload Payload) error {
		order = append(order, "second")
		return nil
	})

	b.Emit(EventCreated, Payload{ProposalID: "p1"})
	assert.Equal(t, []string{"first"}, order)
}
