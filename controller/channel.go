package controller

import (
	"strconv"

	"lightoflife/channel"
	"lightoflife/middleware"

	"github.com/gofiber/fiber/v2"
)

// ChannelPrivate returns the chat and call channel names shared with another
// user.
func (h *Handler) ChannelPrivate(c *fiber.Ctx) error {
	me := strconv.FormatUint(uint64(middleware.UserID(c)), 10)

	chat, err := channel.PrivateChat(me, c.Params("userId"))
	if err != nil {
		return err
	}
	callName, err := channel.PrivateCall(me, c.Params("userId"))
	if err != nil {
		return err
	}

	return success(c, fiber.Map{
		"chat": chat,
		"call": callName,
	})
}

// ChannelOwn returns the caller's personal channels.
func (h *Handler) ChannelOwn(c *fiber.Ctx) error {
	me := middleware.UserID(c)

	user, err := channel.User(me)
	if err != nil {
		return err
	}
	notifications, err := channel.UserNotifications(me)
	if err != nil {
		return err
	}

	return success(c, fiber.Map{
		"user":          user,
		"notifications": notifications,
	})
}
