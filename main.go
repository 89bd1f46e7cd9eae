package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lightoflife/call"
	"lightoflife/config"
	"lightoflife/controller"
	"lightoflife/database"
	"lightoflife/event"
	"lightoflife/event/listener"
	"lightoflife/group"
	"lightoflife/message"
	"lightoflife/presence"
	"lightoflife/realtime"
	"lightoflife/router"
	"lightoflife/socketio"
	"lightoflife/typing"
	"lightoflife/utils"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.SetPrefix("lightoflife: ")

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         false,
		AppName:               "lightoflife",
		ErrorHandler:          controller.ErrorHandler,
	})

	rest.Use(cors.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := database.Connect()

	var rdb *redis.Client
	if config.Config("REDIS_HOST") != "" {
		database.RedisConnect()
		rdb = database.Redis[config.Int("REDIS_DB", 1)]
	}

	cipher, err := utils.NewCipher(config.Config("MESSAGE_ENCRYPTION_KEY"))
	if err != nil {
		log.Fatalf("message cipher: %v", err)
	}
	clk := clock.New()

	socket := socketio.Init(rest, rdb, config.Config("JWT_ACCESS_KEY"))

	// Everything is published to connected sockets; with a broker it is
	// mirrored to the realtime queue as well.
	bus := realtime.Fanout{socketio.NewBroadcaster(socket)}

	var broker *event.Bus
	if config.Config("RABBITMQ_HOST") != "" {
		broker, err = event.RabbitMQConnect(
			event.URL(),
			[]string{
				// Connect to queues
				event.ApiQueue,
				event.RealtimeQueue,
			},
			config.Default("EVENT_LOG_DIR", "log"),
			config.Default("EVENT_MODE", event.ModeDisable),
		)
		if err != nil {
			log.Fatalf("event bus: %v", err)
		}
		bus = append(bus, event.NewMirror(broker, event.RealtimeQueue))

		// Run "api" listener, it publishes on behalf of other services
		api := listener.NewApi(bus)
		go api.Run(ctx)

		// Subscribe listener channel to "api" events
		err = broker.Subscribe([]event.RabbitMQSubscribeListener{
			{
				Queue:   event.ApiQueue,
				Channel: api.Channel,
			},
		})
		if err != nil {
			log.Fatalf("event bus subscribe: %v", err)
		}

		if err := broker.Replay(ctx); err != nil {
			log.Printf("event replay: %v", err)
		}
	}

	groups := group.NewService(db, bus, cipher, clk)
	tracker := presence.NewService(db, groups, bus, clk, config.Duration("PRESENCE_WINDOW", presence.DefaultWindow))
	groups.SetPresence(tracker)

	registry := typing.NewRegistry(clk, config.Duration("TYPING_TIMEOUT", typing.DefaultTimeout), bus)

	handler := &controller.Handler{
		DB:       db,
		Messages: message.NewService(db, bus, cipher, clk),
		Groups:   groups,
		Presence: tracker,
		Typing:   typing.NewSender(bus),
		Calls:    call.NewService(db, bus, clk),
	}

	router.Rest(rest, handler, database.Casbin(db))
	router.Socket(socket, handler, registry)

	go func() {
		if err := rest.Listen(fmt.Sprintf(":%s", config.Default("SERVER_PORT", "8080"))); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	cancel()
	registry.Stop()
	socket.Close(nil)
	if err := rest.Shutdown(); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if broker != nil {
		if err := broker.Close(); err != nil {
			log.Printf("event bus close: %v", err)
		}
	}
	database.RedisClose()
	os.Exit(0)
}
