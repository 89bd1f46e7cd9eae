package controller

import (
	"lightoflife/message"
	"lightoflife/middleware"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) MessageSend(c *fiber.Ctx) error {
	input := new(message.SendInput)
	if err := parseBody(c, input); err != nil {
		return err
	}
	input.SenderID = middleware.UserID(c)

	res, err := h.Messages.Send(c.UserContext(), *input)
	if err != nil {
		return err
	}
	return created(c, res)
}

func (h *Handler) MessageConversations(c *fiber.Ctx) error {
	dialogs, err := h.Messages.Conversations(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, dialogs)
}

func (h *Handler) MessageConversation(c *fiber.Ctx) error {
	other, err := paramID(c, "userId")
	if err != nil {
		return err
	}
	before, err := queryID(c, "before")
	if err != nil {
		return err
	}

	messages, err := h.Messages.Conversation(c.UserContext(), middleware.UserID(c), other, c.QueryInt("limit"), before)
	if err != nil {
		return err
	}
	return success(c, messages)
}

// MessageConversationRead marks everything the other user sent to the
// caller as read.
func (h *Handler) MessageConversationRead(c *fiber.Ctx) error {
	other, err := paramID(c, "userId")
	if err != nil {
		return err
	}

	receipt, err := h.Messages.MarkConversationRead(c.UserContext(), other, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, receipt)
}

func (h *Handler) MessageDelivered(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.Messages.MarkDelivered(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, view)
}

func (h *Handler) MessageRead(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.Messages.MarkRead(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, view)
}

func (h *Handler) MessageDelete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	scope := message.Scope(c.Query("scope", string(message.ScopeSelf)))

	view, err := h.Messages.Delete(c.UserContext(), id, middleware.UserID(c), scope)
	if err != nil {
		return err
	}
	return success(c, view)
}
