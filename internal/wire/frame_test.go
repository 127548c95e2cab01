package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RejectsMalformedAndMissingType(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
	pe, ok := err.(*ProtocolError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidMsg, pe.Code)

	_, err = Decode([]byte(`{"channel":"#general"}`))
	require.Error(t, err)
}

func TestDecode_RejectsOversizeFrame(t *testing.T) {
	huge := `{"type":"MSG","content":"` + strings.Repeat("a", MaxFrameSize) + `"}`
	_, err := Decode([]byte(huge))
	require.Error(t, err)
	pe := err.(*ProtocolError)
	assert.Equal(t, ErrInvalidMsg, pe.Code)
}

func TestEnvelopeUnmarshal_DecodesTypedPayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"JOIN","channel":"#general"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, env.Type)

	var msg JoinMsg
	require.NoError(t, env.Unmarshal(&msg))
	assert.Equal(t, "#general", msg.Channel)
}

func TestEnvelopeUnmarshal_RejectsSchemaMismatch(t *testing.T) {
	env, err := Decode([]byte(`{"type":"JOIN","channel":123}`))
	require.NoError(t, err)

	var msg JoinMsg
	err = env.Unmarshal(&msg)
	require.Error(t, err)
	pe := err.(*ProtocolError)
	assert.Equal(t, ErrInvalidMsg, pe.Code)
}

func TestEncodeDecode_RoundTrips(t *testing.T) {
	data, err := Encode(JoinMsg{Type: TypeJoin, Channel: "#lobby"})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeJoin, env.Type)
}

func TestNewErrorFrame_CarriesCodeAndMessage(t *testing.T) {
	pe := NewProtocolError(ErrRateLimited, "slow down")
	frame := NewErrorFrame(pe)
	assert.Equal(t, TypeError, frame.Type)
	assert.Equal(t, ErrRateLimited, frame.Code)
	assert.Equal(t, "slow down", frame.Message)
	assert.Contains(t, pe.Error(), "RATE_LIMITED")
}
