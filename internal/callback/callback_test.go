package callback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkersStripsAndExtracts(t *testing.T) {
	limits := Limits{MaxDuration: time.Hour, MaxPayload: 500, MaxPerAgent: 50}
	content := "hello @@cb:30s@@remind me later world"
	cleaned, found := ParseMarkers(content, limits)

	assert.Equal(t, "hello  world", cleaned)
	require.Len(t, found, 1)
	assert.Equal(t, 30*time.Second, found[0].Delay)
	assert.Equal(t, "remind me later", found[0].Payload)
}

func TestParseMarkersChannelTarget(t *testing.T) {
	limits := Limits{MaxDuration: time.Hour, MaxPayload: 500, MaxPerAgent: 50}
	content := "@@cb:5s#general@@ping"
	_, found := ParseMarkers(content, limits)
	require.Len(t, found, 1)
	assert.Equal(t, "general", found[0].Channel)
}

func TestParseMarkersClampsDuration(t *testing.T) {
	limits := Limits{MaxDuration: time.Minute, MaxPayload: 500, MaxPerAgent: 50}
	content := "@@cb:9999s@@payload"
	_, found := ParseMarkers(content, limits)
	require.Len(t, found, 1)
	assert.Equal(t, time.Minute, found[0].Delay)
}

func TestQueueFiresInOrder(t *testing.T) {
	n := 0
	nextID := func() string { n++; return "cb" + string(rune('0'+n)) }
	q := New(Limits{MaxDuration: time.Hour, MaxPayload: 500, MaxPerAgent: 50}, nextID)

	now := time.Now()
	_, err := q.Schedule("a1", "@server", "second", 20*time.Second, now)
	require.NoError(t, err)
	_, err = q.Schedule("a1", "@server", "first", 10*time.Second, now)
	require.NoError(t, err)

	due := q.PopDue(now.Add(15 * time.Second))
	require.Len(t, due, 1)
	assert.Equal(t, "first", due[0].Payload)

	due = q.PopDue(now.Add(25 * time.Second))
	require.Len(t, due, 1)
	assert.Equal(t, "second", due[0].Payload)
}

func TestQueueMaxPerAgent(t *testing.T) {
	n := 0
	nextID := func() string { n++; return "cb" + string(rune('0'+n)) }
	q := New(Limits{MaxDuration: time.Hour, MaxPayload: 500, MaxPerAgent: 1}, nextID)
	now := time.Now()

	_, err := q.Schedule("a1", "@server", "x", time.Second, now)
	require.NoError(t, err)
	_, err = q.Schedule("a1", "@server", "y", time.Second, now)
	assert.Error(t, err)
}

func TestQueueRemoveByAgent(t *testing.T) {
	n := 0
	nextID := func() string { n++; return "cb" + string(rune('0'+n)) }
	q := New(Limits{MaxDuration: time.Hour, MaxPayload: 500, MaxPerAgent: 50}, nextID)
	now := time.Now()
	q.Schedule("a1", "@server", "x", time.Second, now)
	q.RemoveByAgent("a1")
	assert.Equal(t, 0, q.Len())
}
