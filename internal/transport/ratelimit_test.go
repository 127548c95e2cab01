package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowLimiterAllowsUpToLimit(t *testing.T) {
	l := NewSlidingWindowLimiter(3, time.Minute)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	// a different key has its own window
	assert.True(t, l.Allow("b"))
}

func TestConnCounterEnforcesPerIPCap(t *testing.T) {
	c := NewConnCounter()
	assert.True(t, c.TryAcquire("1.2.3.4", 2))
	assert.True(t, c.TryAcquire("1.2.3.4", 2))
	assert.False(t, c.TryAcquire("1.2.3.4", 2))
	c.Release("1.2.3.4")
	assert.True(t, c.TryAcquire("1.2.3.4", 2))
}
