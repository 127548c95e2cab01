package moderation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedPlugin struct {
	name   string
	action Action
	err    error
	fail   FailBehavior
}

func (f *fixedPlugin) Name() string              { return f.name }
func (f *fixedPlugin) Priority() int              { return 1 }
func (f *fixedPlugin) FailBehavior() FailBehavior { return f.fail }
func (f *fixedPlugin) Global() bool               { return true }
func (f *fixedPlugin) Check(_ context.Context, _ Event) (Action, error) {
	return f.action, f.err
}

func TestStrictestActionWins(t *testing.T) {
	p := New()
	p.Register(&fixedPlugin{name: "a", action: ActionWarn})
	p.Register(&fixedPlugin{name: "b", action: ActionBlock})
	p.Register(&fixedPlugin{name: "c", action: ActionAllow})

	got := p.Evaluate(context.Background(), Event{AgentID: "x"})
	assert.Equal(t, ActionBlock, got)
}

func TestAdminBypassesPipeline(t *testing.T) {
	p := New()
	p.Register(&fixedPlugin{name: "a", action: ActionBlock})

	got := p.Evaluate(context.Background(), Event{AgentID: "x", IsAdmin: true})
	assert.Equal(t, ActionAllow, got)
}

func TestFailOpenDefault(t *testing.T) {
	p := New()
	p.Register(&fixedPlugin{name: "a", err: assertErr{}, fail: FailOpen})

	got := p.Evaluate(context.Background(), Event{AgentID: "x"})
	assert.Equal(t, ActionAllow, got)
}

func TestFailClosedBlocks(t *testing.T) {
	p := New()
	p.Register(&fixedPlugin{name: "a", err: assertErr{}, fail: FailClosed})

	got := p.Evaluate(context.Background(), Event{AgentID: "x"})
	assert.Equal(t, ActionBlock, got)
}

func TestLinkDetectorBlocksUnverifiedURLs(t *testing.T) {
	ld := NewLinkDetector()
	action, err := ld.Check(context.Background(), Event{Content: "check http://example.com", Verified: false})
	assert.NoError(t, err)
	assert.Equal(t, ActionBlock, action)

	action, err = ld.Check(context.Background(), Event{Content: "check http://example.com", Verified: true})
	assert.NoError(t, err)
	assert.Equal(t, ActionAllow, action)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
