package controller

import (
	"lightoflife/apperror"

	"github.com/gofiber/fiber/v2"
)

func (h *Handler) AdminCalls(c *fiber.Ctx) error {
	userID, err := queryID(c, "userId")
	if err != nil {
		return err
	}
	if userID == 0 {
		return apperror.InvalidArg("userId is required")
	}

	calls, err := h.Calls.History(c.UserContext(), userID, c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return success(c, calls)
}

func (h *Handler) AdminMessage(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	inspection, err := h.Messages.Inspect(c.UserContext(), id)
	if err != nil {
		return err
	}
	return success(c, inspection)
}
