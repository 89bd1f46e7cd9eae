package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeliversToSubscribers(t *testing.T) {
	m := NewMemory()

	var got []string
	unsubscribe := m.Subscribe("group-1", EventTyping, func(payload json.RawMessage) {
		got = append(got, string(payload))
	})
	m.Subscribe("group-2", "", func(json.RawMessage) {
		t.Fatal("wrong channel")
	})

	require.NoError(t, m.Publish(context.Background(), "group-1", EventTyping, map[string]bool{"isTyping": true}))
	require.NoError(t, m.Publish(context.Background(), "group-1", EventNewMessage, "ignored"))
	unsubscribe()
	require.NoError(t, m.Publish(context.Background(), "group-1", EventTyping, map[string]bool{"isTyping": false}))

	assert.Equal(t, []string{`{"isTyping":true}`}, got)
	assert.Len(t, m.Published(), 3)
	assert.Len(t, m.Find("group-1", EventTyping), 2)
}

func TestNotifySwallowsErrors(t *testing.T) {
	m := NewMemory()
	m.FailWith(errors.New("broker down"))

	assert.False(t, Notify(context.Background(), m, "user-1", EventCallEnded, nil))
	assert.Empty(t, m.Published())

	m.FailWith(nil)
	assert.True(t, Notify(context.Background(), m, "user-1", EventCallEnded, nil))
	assert.False(t, Notify(context.Background(), nil, "user-1", EventCallEnded, nil))
}

func TestFanoutPublishesToAll(t *testing.T) {
	broken := NewMemory()
	broken.FailWith(errors.New("broker down"))
	healthy := NewMemory()

	err := Fanout{broken, healthy}.Publish(context.Background(), "user-1", EventIncomingCall, 1)
	assert.Error(t, err)
	assert.Len(t, healthy.Published(), 1)
}
