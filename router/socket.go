package router

import (
	"context"
	"encoding/json"
	"sync"

	"lightoflife/apperror"
	"lightoflife/call"
	"lightoflife/channel"
	"lightoflife/controller"
	"lightoflife/realtime"
	"lightoflife/socketio"
	"lightoflife/typing"

	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io/v2/socket"
)

var logger = log.NewLog("router")

type SocketSubscribe struct {
	Channel string `json:"channel"`
}

type SocketTyping struct {
	Channel  string `json:"channel"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

type SocketPresence struct {
	GroupID uint `json:"groupId"`
}

type SocketCallSignal struct {
	CallID  uint            `json:"callId"`
	Kind    call.SignalKind `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type SocketError struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// connection is what the server remembers about one socket: the groups it
// announced presence in, so they can be cleared on disconnect.
type connection struct {
	mu     sync.Mutex
	groups map[uint]bool
}

func (c *connection) track(groupID uint, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if online {
		c.groups[groupID] = true
	} else {
		delete(c.groups, groupID)
	}
}

func (c *connection) tracked() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	return ids
}

// Socket registers the client events. Every event that names a channel is
// authorized the same way as a subscription.
func Socket(server *socket.Server, h *controller.Handler, registry *typing.Registry) {
	server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)
		claims, ok := socketio.Identity(client)
		if !ok {
			client.Emit("error", SocketError{Event: "connection", Message: "authentication required"})
			return
		}

		ctx := context.Background()
		sessionID := string(client.Id())
		conn := &connection{groups: make(map[uint]bool)}

		fail := func(event string, err error) {
			message := "Internal server error"
			if code := apperror.CodeOf(err); code != apperror.CodeInternal && code != apperror.CodeUnknown {
				message = err.Error()
			} else {
				logger.Error("socket %s %s: %v", sessionID, event, err)
			}
			client.Emit("error", SocketError{Event: event, Message: message})
		}

		client.On("subscribe", func(args ...interface{}) {
			input := new(SocketSubscribe)
			if err := decodeArgs(args, input); err != nil {
				fail("subscribe", err)
				return
			}
			d, err := socketio.Authorize(ctx, h.Groups, claims.UserID, input.Channel)
			if err != nil {
				fail("subscribe", err)
				return
			}

			client.Join(socket.Room(input.Channel))
			client.Emit("subscribe", input)

			if d.Kind == channel.KindGroup || d.Kind == channel.KindPrivateChat {
				client.Emit(realtime.EventTypingSnapshot, TypingSnapshot{
					Channel: input.Channel,
					Typing:  registry.Snapshot(input.Channel),
				})
			}
		})

		client.On("unsubscribe", func(args ...interface{}) {
			input := new(SocketSubscribe)
			if err := decodeArgs(args, input); err != nil {
				fail("unsubscribe", err)
				return
			}
			client.Leave(socket.Room(input.Channel))
			client.Emit("unsubscribe", input)
		})

		client.On("typing", func(args ...interface{}) {
			input := new(SocketTyping)
			if err := decodeArgs(args, input); err != nil {
				fail("typing", err)
				return
			}
			if _, err := socketio.Authorize(ctx, h.Groups, claims.UserID, input.Channel); err != nil {
				fail("typing", err)
				return
			}

			ind := typing.Indicator{UserID: claims.UserID, UserName: input.UserName, IsTyping: input.IsTyping}
			if err := h.Typing.Send(ctx, input.Channel, ind); err != nil {
				fail("typing", err)
				return
			}
			// Send only fails on invalid input, so the registry sees every
			// indicator that went out.
			registry.Observe(input.Channel, ind)
		})

		client.On("presence", func(args ...interface{}) {
			input := new(SocketPresence)
			if err := decodeArgs(args, input); err != nil {
				fail("presence", err)
				return
			}
			if err := h.Presence.UpdatePresence(ctx, input.GroupID, claims.UserID, true, sessionID); err != nil {
				fail("presence", err)
				return
			}
			conn.track(input.GroupID, true)
		})

		client.On("presence_leave", func(args ...interface{}) {
			input := new(SocketPresence)
			if err := decodeArgs(args, input); err != nil {
				fail("presence_leave", err)
				return
			}
			if err := h.Presence.MarkOffline(ctx, input.GroupID, claims.UserID, sessionID); err != nil {
				fail("presence_leave", err)
				return
			}
			conn.track(input.GroupID, false)
		})

		client.On("call_signal", func(args ...interface{}) {
			input := new(SocketCallSignal)
			if err := decodeArgs(args, input); err != nil {
				fail("call_signal", err)
				return
			}
			if err := h.Calls.Relay(ctx, input.CallID, claims.UserID, input.Kind, input.Payload); err != nil {
				fail("call_signal", err)
			}
		})

		client.On("disconnect", func(args ...interface{}) {
			for _, groupID := range conn.tracked() {
				if err := h.Presence.MarkOffline(ctx, groupID, claims.UserID, sessionID); err != nil {
					logger.Warning("socket %s: clearing presence in group %d: %v", sessionID, groupID, err)
				}
			}
			registry.Forget(ctx, claims.UserID)
		})
	})
}

// TypingSnapshot is sent to a client right after it subscribes.
type TypingSnapshot struct {
	Channel string             `json:"channel"`
	Typing  []typing.Indicator `json:"typing"`
}

// decodeArgs reads the first event argument into out. Clients send either
// a JSON object or a bare channel name string.
func decodeArgs(args []interface{}, out any) error {
	if len(args) == 0 {
		return apperror.InvalidArg("missing event payload")
	}

	var raw []byte
	switch v := args[0].(type) {
	case string:
		if sub, ok := out.(*SocketSubscribe); ok {
			sub.Channel = v
			return nil
		}
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return apperror.InvalidArg("unreadable event payload")
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperror.InvalidArg("unreadable event payload")
	}
	return nil
}
