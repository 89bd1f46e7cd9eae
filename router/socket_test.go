package router

import (
	"testing"

	"lightoflife/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArgs(t *testing.T) {
	sub := new(SocketSubscribe)
	require.NoError(t, decodeArgs([]interface{}{"group-4"}, sub))
	assert.Equal(t, "group-4", sub.Channel)

	typingInput := new(SocketTyping)
	require.NoError(t, decodeArgs([]interface{}{map[string]interface{}{
		"channel":  "private-chat-1-2",
		"userName": "Ada",
		"isTyping": true,
	}}, typingInput))
	assert.Equal(t, SocketTyping{Channel: "private-chat-1-2", UserName: "Ada", IsTyping: true}, *typingInput)

	presenceInput := new(SocketPresence)
	require.NoError(t, decodeArgs([]interface{}{`{"groupId":9}`}, presenceInput))
	assert.EqualValues(t, 9, presenceInput.GroupID)

	signal := new(SocketCallSignal)
	require.NoError(t, decodeArgs([]interface{}{map[string]interface{}{
		"callId":  3,
		"kind":    "offer",
		"payload": map[string]interface{}{"sdp": "v=0"},
	}}, signal))
	assert.EqualValues(t, 3, signal.CallID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(signal.Payload))

	assert.True(t, apperror.IsInvalidArg(decodeArgs(nil, sub)))
	assert.True(t, apperror.IsInvalidArg(decodeArgs([]interface{}{"not json"}, presenceInput)))
}

func TestConnectionTracking(t *testing.T) {
	conn := &connection{groups: make(map[uint]bool)}

	conn.track(1, true)
	conn.track(2, true)
	conn.track(1, false)
	conn.track(3, false)

	assert.Equal(t, []uint{2}, conn.tracked())
}
