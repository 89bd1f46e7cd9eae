package controller

import (
	"lightoflife/middleware"
	"lightoflife/socketio"
	"lightoflife/typing"

	"github.com/gofiber/fiber/v2"
)

type TypingInput struct {
	Channel  string `json:"channel"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// TypingSend is the REST fallback for clients without a socket.
func (h *Handler) TypingSend(c *fiber.Ctx) error {
	input := new(TypingInput)
	if err := parseBody(c, input); err != nil {
		return err
	}
	userID := middleware.UserID(c)

	if _, err := socketio.Authorize(c.UserContext(), h.Groups, userID, input.Channel); err != nil {
		return err
	}

	err := h.Typing.Send(c.UserContext(), input.Channel, typing.Indicator{
		UserID:   userID,
		UserName: input.UserName,
		IsTyping: input.IsTyping,
	})
	if err != nil {
		return err
	}
	return success(c, nil)
}
