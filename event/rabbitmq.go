package event

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lightoflife/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

type EventChannelData struct {
	Action string
	Data   []byte
	Out    EventChannelOutData
}

// EventChannelOutData tells a listener whether to act on the event (Send)
// and whether what it emits in turn should be logged (Log). Replays from the
// in-log switch these off.
type EventChannelOutData struct {
	Send bool
	Log  bool
}

type RabbitMQSubscribeListener struct {
	Queue   string
	Channel chan EventChannelData
}

const RabbitMQActionHeader string = "x-action"

const (
	ModeDisable   = "DISABLE"
	ModeInSendLog = "IN_SEND_LOG"
	ModeInSend    = "IN_SEND"
	ModeIn        = "IN"
	ModeOut       = "OUT"
)

// Bus is a RabbitMQ connection with one channel, the declared queues and
// the in/out event logs.
type Bus struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	queues     map[string]amqp.Queue
	mode       string

	mu        sync.Mutex
	listeners map[string]chan EventChannelData
	inLog     *Log
	outLog    *Log
}

// URL builds the broker address from RABBITMQ_* settings.
func URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Config("RABBITMQ_HOST"),
		config.Default("RABBITMQ_PORT", "5672"),
	)
}

// RabbitMQConnect dials the broker, declares queues and opens the event logs
// under logDir.
func RabbitMQConnect(url string, queues []string, logDir string, mode string) (*Bus, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	log.Printf("connection opened to RabbitMQ server")

	channel, err := connection.Channel()
	if err != nil {
		connection.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}
	log.Printf("opened a RabbitMQ channel")

	b := &Bus{
		connection: connection,
		channel:    channel,
		queues:     make(map[string]amqp.Queue),
		mode:       mode,
		listeners:  make(map[string]chan EventChannelData),
	}

	for _, name := range queues {
		queue, err := channel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("declare RabbitMQ queue %s: %w", name, err)
		}

		b.queues[name] = queue
		log.Printf("success declare a RabbitMQ queue: %s", name)
	}

	if mode != ModeDisable {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			b.Close()
			return nil, err
		}
		if b.inLog, err = OpenLog(filepath.Join(logDir, "in.log")); err != nil {
			b.Close()
			return nil, err
		}
		if b.outLog, err = OpenLog(filepath.Join(logDir, "out.log")); err != nil {
			b.Close()
			return nil, err
		}
	}

	return b, nil
}

// Subscribe consumes each queue and forwards its messages to the listener
// channel. Consumption stops when the connection closes.
func (b *Bus) Subscribe(queues []RabbitMQSubscribeListener) error {
	for _, queue := range queues {
		b.mu.Lock()
		b.listeners[queue.Queue] = queue.Channel
		b.mu.Unlock()

		msgs, err := b.channel.Consume(
			queue.Queue, // queue
			"",          // consumer
			false,       // auto-ack
			false,       // exclusive
			false,       // no-local
			false,       // no-wait
			nil,         // args
		)
		if err != nil {
			return fmt.Errorf("register consumer on %s: %w", queue.Queue, err)
		}
		log.Printf("success subscribe to RabbitMQ [%s] queue", queue.Queue)

		go func(queue RabbitMQSubscribeListener) {
			for msg := range msgs {
				action, ok := msg.Headers[RabbitMQActionHeader].(string)
				if !ok {
					log.Printf("dropping message on [%s] without %s header", queue.Queue, RabbitMQActionHeader)
					msg.Nack(false, false)
					continue
				}

				if b.inLog != nil {
					b.inLog.Append(EventLogData{
						Time:    time.Now().UnixMicro(),
						Service: queue.Queue,
						Action:  action,
						Data:    string(msg.Body),
					})
				}

				msg.Ack(false)

				queue.Channel <- EventChannelData{
					Action: action,
					Data:   msg.Body,
					Out: EventChannelOutData{
						Send: true,
						Log:  true,
					},
				}
			}
		}(queue)
	}
	return nil
}

// Emit publishes data to the service queue with the action header.
func (b *Bus) Emit(ctx context.Context, service string, action string, data []byte, logged bool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := b.channel.PublishWithContext(
		ctx,
		"",      // exchange
		service, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers: amqp.Table{
				RabbitMQActionHeader: action,
			},
			Body: data,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", action, service, err)
	}

	if logged && b.outLog != nil {
		b.outLog.Append(EventLogData{
			Time:    time.Now().UnixMicro(),
			Service: service,
			Action:  action,
			Data:    string(data),
		})
	}
	return nil
}

// Replay re-runs logged events according to the bus mode: the IN modes feed
// the in-log back to the subscribed listeners, OUT re-publishes the out-log.
func (b *Bus) Replay(ctx context.Context) error {
	switch b.mode {
	case ModeInSendLog:
		return b.replayIn(EventChannelOutData{Send: true, Log: true})
	case ModeInSend:
		return b.replayIn(EventChannelOutData{Send: true, Log: false})
	case ModeIn:
		return b.replayIn(EventChannelOutData{Send: false, Log: false})
	case ModeOut:
		return b.replayOut(ctx)
	}
	return nil
}

func (b *Bus) replayIn(out EventChannelOutData) error {
	events, err := ReadLog(b.inLog.Path())
	if err != nil {
		return err
	}
	for _, data := range events {
		b.mu.Lock()
		listener, ok := b.listeners[data.Service]
		b.mu.Unlock()
		if !ok {
			continue
		}
		listener <- EventChannelData{
			Action: data.Action,
			Data:   []byte(data.Data),
			Out:    out,
		}
	}
	return nil
}

func (b *Bus) replayOut(ctx context.Context) error {
	events, err := ReadLog(b.outLog.Path())
	if err != nil {
		return err
	}
	for _, data := range events {
		if err := b.Emit(ctx, data.Service, data.Action, []byte(data.Data), false); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.channel != nil {
		keep(b.channel.Close())
	}
	if b.connection != nil {
		keep(b.connection.Close())
	}
	if b.inLog != nil {
		keep(b.inLog.Close())
	}
	if b.outLog != nil {
		keep(b.outLog.Close())
	}
	return firstErr
}
