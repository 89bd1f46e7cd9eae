package event

import (
	"context"
	"encoding/json"
)

const (
	// RealtimeQueue receives a copy of every broadcast for other services.
	RealtimeQueue = "realtime"
	// ApiQueue carries requests from other services to this one.
	ApiQueue = "api"

	ActionBroadcast = "broadcast"
	ActionPublish   = "publish"
)

// Broadcast is the body of broadcast and publish actions.
type Broadcast struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Emitter is the part of Bus the mirror needs.
type Emitter interface {
	Emit(ctx context.Context, service string, action string, data []byte, logged bool) error
}

// Mirror is a realtime.Broadcaster that copies broadcasts onto a queue.
type Mirror struct {
	emitter Emitter
	queue   string
}

func NewMirror(emitter Emitter, queue string) *Mirror {
	return &Mirror{emitter: emitter, queue: queue}
}

func (m *Mirror) Publish(ctx context.Context, channel string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Broadcast{Channel: channel, Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return m.emitter.Emit(ctx, m.queue, ActionBroadcast, body, true)
}
