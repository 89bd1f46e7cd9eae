// Package typing carries "user is typing" indicators. Indicators are never
// stored: the sender publishes them as they happen and every receiver
// expires them on its own timer, so a lost "stopped" event only lingers for
// the timeout.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"lightoflife/apperror"
	"lightoflife/channel"
	"lightoflife/realtime"

	"github.com/benbjohnson/clock"
)

const DefaultTimeout = 3 * time.Second

type Indicator struct {
	UserID   uint   `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// Sender publishes indicators. There is no ack and no retry.
type Sender struct {
	bus realtime.Broadcaster
}

func NewSender(bus realtime.Broadcaster) *Sender {
	return &Sender{bus: bus}
}

// Send publishes ind on a private chat or group channel. Only invalid
// input is an error; a dropped publish is logged and forgotten.
func (s *Sender) Send(ctx context.Context, name string, ind Indicator) error {
	if ind.UserID == 0 {
		return apperror.ErrInvalidID
	}
	d, err := channel.Parse(name)
	if err != nil {
		return err
	}
	if d.Kind != channel.KindPrivateChat && d.Kind != channel.KindGroup {
		return apperror.InvalidArg("typing indicators go to chat or group channels")
	}
	realtime.Notify(ctx, s.bus, name, realtime.EventTyping, ind)
	return nil
}

// ChangeFunc is called outside any lock whenever a user's typing state
// changes. expired is true when the change came from the timeout.
type ChangeFunc func(ind Indicator, expired bool)

type entry struct {
	ind   Indicator
	timer *clock.Timer
	gen   uint64
}

// Tracker is the receiving side for one channel.
type Tracker struct {
	clock    clock.Clock
	timeout  time.Duration
	onChange ChangeFunc

	mu     sync.Mutex
	active map[uint]*entry
	gen    uint64
}

func NewTracker(clk clock.Clock, timeout time.Duration, onChange ChangeFunc) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		clock:    clk,
		timeout:  timeout,
		onChange: onChange,
		active:   make(map[uint]*entry),
	}
}

// Observe applies a received indicator. IsTyping starts or restarts the
// timeout; !IsTyping clears the user at once.
func (t *Tracker) Observe(ind Indicator) {
	t.mu.Lock()
	e, exists := t.active[ind.UserID]
	if exists {
		e.timer.Stop()
	}

	changed := false
	if ind.IsTyping {
		t.gen++
		gen := t.gen
		userID := ind.UserID
		changed = !exists
		t.active[userID] = &entry{
			ind:   ind,
			gen:   gen,
			timer: t.clock.AfterFunc(t.timeout, func() { t.expire(userID, gen) }),
		}
	} else if exists {
		delete(t.active, ind.UserID)
		changed = true
	}
	t.mu.Unlock()

	if changed && t.onChange != nil {
		t.onChange(ind, false)
	}
}

// expire drops userID unless the entry was refreshed after this timer was
// armed.
func (t *Tracker) expire(userID uint, gen uint64) {
	t.mu.Lock()
	e, ok := t.active[userID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.active, userID)
	ind := e.ind
	t.mu.Unlock()

	ind.IsTyping = false
	if t.onChange != nil {
		t.onChange(ind, true)
	}
}

func (t *Tracker) Active(userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[userID]
	return ok
}

// Typing returns who is typing right now, ordered by user id.
func (t *Tracker) Typing() []Indicator {
	t.mu.Lock()
	out := make([]Indicator, 0, len(t.active))
	for _, e := range t.active {
		out = append(out, e.ind)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Stop cancels every pending timeout without firing callbacks.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.active {
		e.timer.Stop()
		delete(t.active, id)
	}
}
