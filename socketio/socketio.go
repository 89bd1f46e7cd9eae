package socketio

import (
	"context"
	"time"

	"lightoflife/channel"
	"lightoflife/config"
	"lightoflife/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
)

var logger = log.NewLog("socketio")

// Init mounts socket.io on app. With a Redis client the rooms are shared
// across instances through the Redis adapter.
func Init(app *fiber.App, rdb *redis.Client, jwtKey string) *socket.Server {
	log.DEBUG = config.Bool("SOCKET_DEBUG", false)

	options := socket.DefaultServerOptions()
	options.SetServeClient(true)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(10 * time.Second)
	if rdb != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(context.Background(), rdb),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	server := socket.NewServer(nil, nil)
	server.Use(Authenticate(jwtKey))

	app.Get("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))

	return server
}

// Authenticate reads the access token from the "token" query parameter.
// Authenticated sockets join their own user channels; anonymous sockets
// stay connected but can subscribe to nothing.
func Authenticate(jwtKey string) func(*socket.Socket, func(*socket.ExtendedError)) {
	return func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, auth := client.Conn().Request().Query().Get("token")

		if auth {
			claims, err := utils.CheckAndExtractTokenMetadata(token, jwtKey)
			switch {
			case err != nil:
				logger.Debug("socket %s: rejected token: %v", client.Id(), err)
			case claims.Otp:
				logger.Debug("socket %s: token still waits for 2FA", client.Id())
			default:
				client.SetData(claims)
				for _, name := range OwnChannels(claims.UserID) {
					client.Join(socket.Room(name))
				}
			}
		}

		next(nil)
	}
}

// Identity returns the token metadata stored by Authenticate.
func Identity(client *socket.Socket) (*utils.TokenMetadata, bool) {
	claims, ok := client.Data().(*utils.TokenMetadata)
	return claims, ok && claims != nil
}

// OwnChannels are the per-user channels a socket joins on connect.
func OwnChannels(userID uint) []string {
	var names []string
	if name, err := channel.User(userID); err == nil {
		names = append(names, name)
	}
	if name, err := channel.UserNotifications(userID); err == nil {
		names = append(names, name)
	}
	return names
}

// Broadcaster publishes into the socket.io room named like the channel.
// Rooms without sockets drop the event, which is the same at-most-once
// guarantee every other transport gives.
type Broadcaster struct {
	server *socket.Server
}

func NewBroadcaster(server *socket.Server) *Broadcaster {
	return &Broadcaster{server: server}
}

func (b *Broadcaster) Publish(_ context.Context, name string, event string, payload any) error {
	b.server.To(socket.Room(name)).Emit(event, payload)
	return nil
}
