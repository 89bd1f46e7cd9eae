package typing

import (
	"context"
	"sync"
	"time"

	"lightoflife/realtime"

	"github.com/benbjohnson/clock"
	"github.com/zishang520/engine.io/v2/log"
)

var logger = log.NewLog("typing")

// Registry keeps one Tracker per channel on the server so that clients
// joining a channel can be told who is already typing. When an indicator
// times out the registry publishes the stop on behalf of the silent client.
type Registry struct {
	clock   clock.Clock
	timeout time.Duration
	bus     realtime.Broadcaster

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewRegistry(clk clock.Clock, timeout time.Duration, bus realtime.Broadcaster) *Registry {
	return &Registry{
		clock:    clk,
		timeout:  timeout,
		bus:      bus,
		trackers: make(map[string]*Tracker),
	}
}

func (r *Registry) Observe(name string, ind Indicator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[name]
	if !ok {
		if !ind.IsTyping {
			return
		}
		t = r.track(name)
	}
	t.Observe(ind)
	if t.Len() == 0 {
		t.Stop()
		delete(r.trackers, name)
	}
}

// Snapshot returns who is typing on the channel.
func (r *Registry) Snapshot(name string) []Indicator {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[name]
	if !ok {
		return []Indicator{}
	}
	if t.Len() == 0 {
		t.Stop()
		delete(r.trackers, name)
		return []Indicator{}
	}
	return t.Typing()
}

// Forget clears userID on every channel, publishing a stop where the user
// was typing. Used when a connection goes away.
func (r *Registry) Forget(ctx context.Context, userID uint) {
	r.mu.Lock()
	var stopped []string
	var stops []Indicator
	for name, t := range r.trackers {
		for _, ind := range t.Typing() {
			if ind.UserID != userID {
				continue
			}
			ind.IsTyping = false
			t.Observe(ind)
			stopped = append(stopped, name)
			stops = append(stops, ind)
		}
		if t.Len() == 0 {
			t.Stop()
			delete(r.trackers, name)
		}
	}
	r.mu.Unlock()

	for i, name := range stopped {
		realtime.Notify(ctx, r.bus, name, realtime.EventTyping, stops[i])
	}
}

func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.trackers {
		t.Stop()
		delete(r.trackers, name)
	}
}

// track creates and registers the tracker for name. Caller holds r.mu.
func (r *Registry) track(name string) *Tracker {
	var t *Tracker
	t = NewTracker(r.clock, r.timeout, func(ind Indicator, expired bool) {
		if expired {
			r.expired(name, t, ind)
		}
	})
	r.trackers[name] = t
	return t
}

// expired runs on the tracker's timer after its lock is released. It drops
// the tracker once nobody is left typing and publishes the stop.
func (r *Registry) expired(name string, t *Tracker, ind Indicator) {
	r.mu.Lock()
	if r.trackers[name] == t && t.Len() == 0 {
		delete(r.trackers, name)
	}
	r.mu.Unlock()

	logger.Debug("typing of user %d on %s timed out", ind.UserID, name)
	realtime.Notify(context.Background(), r.bus, name, realtime.EventTyping, ind)
}

// Len reports how many channels currently have a tracker.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
