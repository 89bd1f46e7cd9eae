package event

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	service string
	action  string
	data    []byte
	logged  bool
}

type recordingEmitter struct {
	got []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, service string, action string, data []byte, logged bool) error {
	r.got = append(r.got, emitted{service, action, data, logged})
	return nil
}

func TestMirror(t *testing.T) {
	rec := &recordingEmitter{}
	mirror := NewMirror(rec, RealtimeQueue)

	err := mirror.Publish(context.Background(), "group-4", "typing", map[string]any{"userId": 9})
	require.NoError(t, err)

	require.Len(t, rec.got, 1)
	assert.Equal(t, RealtimeQueue, rec.got[0].service)
	assert.Equal(t, ActionBroadcast, rec.got[0].action)
	assert.True(t, rec.got[0].logged)

	var body Broadcast
	require.NoError(t, json.Unmarshal(rec.got[0].data, &body))
	assert.Equal(t, "group-4", body.Channel)
	assert.Equal(t, "typing", body.Event)
	assert.JSONEq(t, `{"userId":9}`, string(body.Payload))
}

func TestLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.log")

	l, err := OpenLog(path)
	require.NoError(t, err)
	l.Append(EventLogData{Time: 1, Service: ApiQueue, Action: ActionPublish, Data: `{"channel":"user-1"}`})
	l.Append(EventLogData{Time: 2, Service: ApiQueue, Action: "other", Data: ""})
	require.NoError(t, l.Close())

	// A torn line from a crash must not stop the replay.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{\"time\":3,\"serv\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionPublish, events[0].Action)
	assert.Equal(t, `{"channel":"user-1"}`, events[0].Data)
	assert.EqualValues(t, 2, events[1].Time)

	_, err = ReadLog(filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)
}
