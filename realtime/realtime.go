// Package realtime defines the pub/sub primitive the rest of the service
// publishes through. Delivery is at most once and unordered across channels;
// the database, not the broadcast, is the source of truth.
package realtime

import (
	"context"
	"errors"

	"github.com/zishang520/engine.io/v2/log"
)

// Event names shared with clients.
const (
	EventNewMessage       = "new-message"
	EventMessageDelivered = "message-delivered"
	EventMessageRead      = "message-read"
	EventMessagesRead     = "messages-read"
	EventMessageDeleted   = "message-deleted"
	EventMessageHidden    = "message-hidden"
	EventMessagePinned    = "message-pinned"
	EventMessageUnpinned  = "message-unpinned"
	EventMemberRemoved    = "member-removed"
	EventPresenceUpdate   = "presence-update"
	EventTyping           = "typing"
	EventTypingSnapshot   = "typing-snapshot"
	EventIncomingCall     = "incoming-call"
	EventCallAccepted     = "call-accepted"
	EventCallRejected     = "call-rejected"
	EventCallEnded        = "call-ended"
	EventCallMissed       = "call-missed"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
)

// Broadcaster publishes an event on a named channel. Implementations may
// drop the event; callers must not treat an error as a failed operation.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, event string, payload any) error
}

var logger = log.NewLog("realtime")

// Notify publishes and swallows the error after logging it. It reports
// whether the publish went through.
func Notify(ctx context.Context, b Broadcaster, channel string, event string, payload any) bool {
	if b == nil {
		return false
	}
	if err := b.Publish(ctx, channel, event, payload); err != nil {
		logger.Warning("publish %s on %s failed: %v", event, channel, err)
		return false
	}
	return true
}

// Fanout publishes to every broadcaster, attempting all of them even when
// one fails.
type Fanout []Broadcaster

func (f Fanout) Publish(ctx context.Context, channel string, event string, payload any) error {
	var errs []error
	for _, b := range f {
		if err := b.Publish(ctx, channel, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
