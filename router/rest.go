package router

import (
	"lightoflife/config"
	"lightoflife/controller"
	"lightoflife/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// Rest registers the HTTP API. enforcer may be nil, which leaves the admin
// routes out.
func Rest(app *fiber.App, h *controller.Handler, enforcer *casbin.Enforcer) {
	api := app.Group("/v1", logger.New())
	auth := []fiber.Handler{middleware.JWT(config.Config("JWT_ACCESS_KEY")), middleware.OTP(), middleware.Identity()}

	// User
	user := api.Group("/user", auth...)
	user.Get("/profile", h.UserProfile)

	// Channels
	channels := api.Group("/channels", auth...)
	channels.Get("/own", h.ChannelOwn)
	channels.Get("/private/:userId", h.ChannelPrivate)

	// Private messages
	messages := api.Group("/messages", auth...)
	messages.Post("/", h.MessageSend)
	messages.Get("/conversations", h.MessageConversations)
	messages.Get("/with/:userId", h.MessageConversation)
	messages.Post("/with/:userId/read", h.MessageConversationRead)
	messages.Post("/:id/delivered", h.MessageDelivered)
	messages.Post("/:id/read", h.MessageRead)
	messages.Delete("/:id", h.MessageDelete)

	// Groups
	groups := api.Group("/groups", auth...)
	groups.Post("/", h.GroupCreate)
	groups.Delete("/messages/:messageId", h.GroupMessageDelete)
	groups.Post("/messages/:messageId/pin", h.GroupMessagePin)
	groups.Delete("/messages/:messageId/pin", h.GroupMessageUnpin)
	groups.Get("/:id", h.GroupGet)
	groups.Post("/:id/members", h.GroupAddMember)
	groups.Delete("/:id/members/:userId", h.GroupRemoveMember)
	groups.Post("/:id/messages", h.GroupSend)
	groups.Get("/:id/messages", h.GroupMessages)
	groups.Get("/:id/pinned", h.GroupPinned)
	groups.Get("/:id/online", h.GroupOnline)
	groups.Post("/:id/presence", h.GroupPresence)
	groups.Delete("/:id/presence", h.GroupPresenceLeave)

	// Typing
	api.Post("/typing", append(auth, h.TypingSend)...)

	// Calls
	calls := api.Group("/calls", auth...)
	calls.Post("/", h.CallInitiate)
	calls.Get("/", h.CallHistory)
	calls.Post("/accept", h.CallAcceptPending)
	calls.Get("/:id", h.CallGet)
	calls.Post("/:id/accept", h.CallAccept)
	calls.Post("/:id/reject", h.CallReject)
	calls.Post("/:id/end", h.CallEnd)
	calls.Post("/:id/miss", h.CallMiss)
	calls.Post("/:id/signal", h.CallSignal)

	// Admin
	if enforcer != nil {
		admin := api.Group("/admin", append(auth, middleware.RBAC(enforcer))...)
		admin.Get("/calls", h.AdminCalls)
		admin.Get("/messages/:id", h.AdminMessage)
	}
}
