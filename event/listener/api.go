package listener

import (
	"context"
	"encoding/json"
	"fmt"

	"lightoflife/channel"
	"lightoflife/event"
	"lightoflife/realtime"

	"github.com/zishang520/engine.io/v2/log"
)

var logger = log.NewLog("listener")

// Api handles the "api" queue: other services ask this one to publish on
// a channel they name.
type Api struct {
	bus     realtime.Broadcaster
	Channel chan event.EventChannelData
}

func NewApi(bus realtime.Broadcaster) *Api {
	return &Api{bus: bus, Channel: make(chan event.EventChannelData)}
}

// Run handles events until the channel is closed or ctx is done.
func (a *Api) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.Channel:
			if !ok {
				return
			}
			if err := a.Handle(ctx, ev); err != nil {
				logger.Warning("api event %s: %v", ev.Action, err)
			}
		}
	}
}

func (a *Api) Handle(ctx context.Context, ev event.EventChannelData) error {
	switch ev.Action {
	case event.ActionPublish:
		var body event.Broadcast
		if err := json.Unmarshal(ev.Data, &body); err != nil {
			return fmt.Errorf("decode publish: %w", err)
		}
		if _, err := channel.Parse(body.Channel); err != nil {
			return err
		}
		if body.Event == "" {
			return fmt.Errorf("publish on %s without event name", body.Channel)
		}
		if len(body.Payload) == 0 {
			body.Payload = json.RawMessage("null")
		}
		if !ev.Out.Send {
			logger.Debug("replay: skipping publish of %s on %s", body.Event, body.Channel)
			return nil
		}
		return a.bus.Publish(ctx, body.Channel, body.Event, body.Payload)
	default:
		logger.Debug("ignoring api action %s", ev.Action)
		return nil
	}
}
