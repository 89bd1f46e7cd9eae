package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Published is one recorded publish.
type Published struct {
	Channel string
	Event   string
	Payload json.RawMessage
}

// Handler receives the JSON encoded payload of an event.
type Handler func(payload json.RawMessage)

type subscription struct {
	id      int
	channel string
	event   string
	handler Handler
}

// Memory is an in-process Broadcaster. Subscribers are called synchronously
// in publish order. It backs tests and single-process development runs.
type Memory struct {
	mu        sync.Mutex
	published []Published
	subs      []subscription
	nextID    int
	fail      error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, channel string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.fail != nil {
		err := m.fail
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, Published{Channel: channel, Event: event, Payload: raw})
	var handlers []Handler
	for _, s := range m.subs {
		if s.channel == channel && (s.event == "" || s.event == event) {
			handlers = append(handlers, s.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
	return nil
}

// Subscribe registers handler for event on channel; an empty event matches
// every event. The returned func removes the subscription.
func (m *Memory) Subscribe(channel string, event string, handler Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, channel: channel, event: event, handler: handler})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// FailWith makes every following publish return err. Pass nil to recover.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.published...)
}

// Find returns the publishes matching channel and event.
func (m *Memory) Find(channel string, event string) []Published {
	var out []Published
	for _, p := range m.Published() {
		if p.Channel == channel && p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

// Reset forgets recorded publishes but keeps subscriptions.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}
