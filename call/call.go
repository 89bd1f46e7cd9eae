// Package call drives voice/video call signaling between two users.
//
//	ringing ──accept──▶ connected ──end──▶ ended
//	   │ ╲
//	   │  ╲──reject──▶ rejected
//	   │   ╲─miss────▶ missed
//	   ╰──────end────▶ ended (duration 0)
//
// Every transition is a conditional update on the current status. When a
// concurrent request wins the race the row is re-read and the operation
// evaluated again, so double clicks and crossing requests settle on one
// outcome.
package call

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"lightoflife/apperror"
	"lightoflife/channel"
	"lightoflife/model"
	"lightoflife/realtime"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/zishang520/engine.io/v2/log"
	"gorm.io/gorm"
)

const (
	DefaultHistorySize = 50
	MaxHistorySize     = 200

	maxAttempts = 3
)

type SignalKind string

const (
	SignalOffer        SignalKind = realtime.EventOffer
	SignalAnswer       SignalKind = realtime.EventAnswer
	SignalICECandidate SignalKind = realtime.EventICECandidate
)

var logger = log.NewLog("call")

type Service struct {
	db    *gorm.DB
	bus   realtime.Broadcaster
	clock clock.Clock
}

func NewService(db *gorm.DB, bus realtime.Broadcaster, clk clock.Clock) *Service {
	return &Service{db: db, bus: bus, clock: clk}
}

type InitiateInput struct {
	CallerID     uint   `json:"-"`
	ReceiverID   uint   `json:"receiverId"`
	CallerPeerID string `json:"callerPeerId"`
	CallType     string `json:"callType"`
}

// Signal is what Relay puts on the call channel.
type Signal struct {
	CallID  uint            `json:"callId"`
	FromID  uint            `json:"fromId"`
	Payload json.RawMessage `json:"payload"`
}

// Initiate creates a ringing call and rings the receiver.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*model.Call, error) {
	in.CallerPeerID = strings.TrimSpace(in.CallerPeerID)
	if in.CallerID == 0 || in.ReceiverID == 0 {
		return nil, apperror.ErrInvalidID
	}
	if in.CallerPeerID == "" {
		return nil, apperror.InvalidArg("callerPeerId is required")
	}
	if in.CallerID == in.ReceiverID {
		return nil, apperror.InvalidArg("cannot call yourself")
	}
	if in.CallType == "" {
		in.CallType = model.CallTypeVoice
	}
	if in.CallType != model.CallTypeVoice && in.CallType != model.CallTypeVideo {
		return nil, apperror.InvalidArg("callType must be voice or video")
	}

	if err := s.db.WithContext(ctx).Select("id").First(&model.User{}, in.ReceiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.ErrStorage(errors.Wrap(err, "call.Initiate.Receiver"))
	}

	c := &model.Call{
		CallerID:     in.CallerID,
		ReceiverID:   in.ReceiverID,
		CallType:     in.CallType,
		Status:       model.CallRinging,
		CallerPeerID: in.CallerPeerID,
		CreatedAt:    s.now(),
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "call.Initiate.Create"))
	}

	s.notify(ctx, c.ReceiverID, realtime.EventIncomingCall, c)
	return c, nil
}

// Accept connects a ringing call. Only the receiver may accept; accepting a
// call that is no longer ringing returns it unchanged.
func (s *Service) Accept(ctx context.Context, callID uint, receiverID uint, receiverPeerID string) (*model.Call, error) {
	receiverPeerID = strings.TrimSpace(receiverPeerID)
	if receiverPeerID == "" {
		return nil, apperror.InvalidArg("receiverPeerId is required")
	}

	return s.transition(ctx, callID, receiverID, func(c *model.Call) (*change, error) {
		if c.ReceiverID != receiverID {
			return nil, apperror.Forbidden("only the receiver can accept a call")
		}
		if c.Status != model.CallRinging {
			return nil, nil
		}
		now := s.now()
		return &change{
			from:   model.CallRinging,
			event:  realtime.EventCallAccepted,
			notify: c.CallerID,
			updates: map[string]any{
				"status":           model.CallConnected,
				"receiver_peer_id": receiverPeerID,
				"started_at":       now,
			},
		}, nil
	})
}

// AcceptPending accepts the most recent ringing call from callerID to
// receiverID, for clients that only know who is calling. With nothing
// ringing it falls back to the pair's latest call, so a repeated accept
// returns that row unchanged.
func (s *Service) AcceptPending(ctx context.Context, callerID uint, receiverID uint, receiverPeerID string) (*model.Call, error) {
	if callerID == 0 || receiverID == 0 {
		return nil, apperror.ErrInvalidID
	}

	c, err := s.latest(ctx, callerID, receiverID, model.CallRinging)
	if apperror.IsNotFound(err) {
		c, err = s.latest(ctx, callerID, receiverID, "")
	}
	if err != nil {
		return nil, err
	}
	return s.Accept(ctx, c.ID, receiverID, receiverPeerID)
}

// latest finds the newest call from callerID to receiverID, optionally
// restricted to one status.
func (s *Service) latest(ctx context.Context, callerID uint, receiverID uint, status model.CallStatus) (*model.Call, error) {
	query := s.db.WithContext(ctx).Where("caller_id = ? AND receiver_id = ?", callerID, receiverID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	c := new(model.Call)
	if err := query.Order("id desc").First(c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrCallNotFound
		}
		return nil, apperror.ErrStorage(errors.Wrap(err, "call.latest"))
	}
	return c, nil
}

// Reject declines a ringing call. Only the receiver may reject.
func (s *Service) Reject(ctx context.Context, callID uint, receiverID uint) (*model.Call, error) {
	return s.transition(ctx, callID, receiverID, func(c *model.Call) (*change, error) {
		if c.ReceiverID != receiverID {
			return nil, apperror.Forbidden("only the receiver can reject a call")
		}
		if c.Status != model.CallRinging {
			return nil, nil
		}
		return &change{
			from:    model.CallRinging,
			event:   realtime.EventCallRejected,
			notify:  c.CallerID,
			updates: map[string]any{"status": model.CallRejected, "ended_at": s.now()},
		}, nil
	})
}

// End hangs up a ringing or connected call. Duration counts from the
// moment the call connected and is 0 for a call that never did.
func (s *Service) End(ctx context.Context, callID uint, userID uint) (*model.Call, error) {
	return s.transition(ctx, callID, userID, func(c *model.Call) (*change, error) {
		if c.Status != model.CallRinging && c.Status != model.CallConnected {
			return nil, nil
		}
		now := s.now()
		duration := 0
		if c.Status == model.CallConnected && c.StartedAt != nil {
			duration = int(now.Sub(*c.StartedAt) / time.Second)
			if duration < 0 {
				duration = 0
			}
		}
		return &change{
			from:   c.Status,
			event:  realtime.EventCallEnded,
			notify: c.Other(userID),
			updates: map[string]any{
				"status":   model.CallEnded,
				"ended_at": now,
				"duration": duration,
			},
		}, nil
	})
}

// Miss marks a call that rang out without an answer.
func (s *Service) Miss(ctx context.Context, callID uint, userID uint) (*model.Call, error) {
	return s.transition(ctx, callID, userID, func(c *model.Call) (*change, error) {
		if c.Status != model.CallRinging {
			return nil, nil
		}
		return &change{
			from:    model.CallRinging,
			event:   realtime.EventCallMissed,
			notify:  c.Other(userID),
			updates: map[string]any{"status": model.CallMissed, "ended_at": s.now()},
		}, nil
	})
}

// Relay forwards a WebRTC offer, answer or ICE candidate to the call
// channel without looking inside the payload. A signal the transport drops
// is lost; the peers renegotiate.
func (s *Service) Relay(ctx context.Context, callID uint, requesterID uint, kind SignalKind, payload json.RawMessage) error {
	switch kind {
	case SignalOffer, SignalAnswer, SignalICECandidate:
	default:
		return apperror.InvalidArg("signal must be offer, answer or ice-candidate")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return apperror.InvalidArg("signal payload must be JSON")
	}

	c, err := s.Get(ctx, callID, requesterID)
	if err != nil {
		return err
	}
	if c.Status != model.CallRinging && c.Status != model.CallConnected {
		return apperror.New(apperror.CodeFailedPrecondition, "call is over")
	}

	name, err := channel.PrivateCall(c.CallerID, c.ReceiverID)
	if err != nil {
		return err
	}
	// Signals are fire and forget; a transport failure is logged by Notify.
	realtime.Notify(ctx, s.bus, name, string(kind), Signal{CallID: c.ID, FromID: requesterID, Payload: payload})
	return nil
}

// Get returns a call to one of its participants.
func (s *Service) Get(ctx context.Context, callID uint, requesterID uint) (*model.Call, error) {
	c, err := s.find(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.Involves(requesterID) {
		return nil, apperror.ErrNotCallMember
	}
	return c, nil
}

// History lists the calls userID took part in, newest first.
func (s *Service) History(ctx context.Context, userID uint, limit int) ([]model.Call, error) {
	if userID == 0 {
		return nil, apperror.ErrInvalidID
	}
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	if limit > MaxHistorySize {
		limit = MaxHistorySize
	}

	var calls []model.Call
	err := s.db.WithContext(ctx).
		Where("caller_id = ? OR receiver_id = ?", userID, userID).
		Order("id desc").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "call.History"))
	}
	return calls, nil
}

// change describes one conditional transition. A nil change means the
// operation is a no-op for the row's current state.
type change struct {
	from    model.CallStatus
	updates map[string]any
	event   string
	notify  uint
}

type decideFunc func(c *model.Call) (*change, error)

func (s *Service) transition(ctx context.Context, callID uint, userID uint, decide decideFunc) (*model.Call, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c, err := s.Get(ctx, callID, userID)
		if err != nil {
			return nil, err
		}

		ch, err := decide(c)
		if err != nil {
			return nil, err
		}
		if ch == nil {
			return c, nil
		}

		res := s.db.WithContext(ctx).Model(&model.Call{}).
			Where("id = ? AND status = ?", c.ID, ch.from).
			Updates(ch.updates)
		if res.Error != nil {
			return nil, apperror.ErrStorage(errors.Wrap(res.Error, "call.transition.Update"))
		}
		if res.RowsAffected == 0 {
			logger.Debug("call %d changed under us, re-evaluating", c.ID)
			continue
		}

		fresh, err := s.find(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		s.notify(ctx, ch.notify, ch.event, fresh)
		return fresh, nil
	}
	return nil, apperror.New(apperror.CodeFailedPrecondition, "call is changing too fast, try again")
}

func (s *Service) find(ctx context.Context, callID uint) (*model.Call, error) {
	if callID == 0 {
		return nil, apperror.ErrInvalidID
	}
	c := new(model.Call)
	if err := s.db.WithContext(ctx).First(c, callID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrCallNotFound
		}
		return nil, apperror.ErrStorage(errors.Wrap(err, "call.find"))
	}
	return c, nil
}

func (s *Service) notify(ctx context.Context, userID uint, event string, c *model.Call) {
	if name, err := channel.User(userID); err == nil {
		realtime.Notify(ctx, s.bus, name, event, c)
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
