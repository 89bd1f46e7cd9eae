package controller

import (
	"errors"
	"strconv"

	"lightoflife/apperror"
	"lightoflife/call"
	"lightoflife/group"
	"lightoflife/message"
	"lightoflife/presence"
	"lightoflife/typing"

	"github.com/gofiber/fiber/v2"
	"github.com/zishang520/engine.io/v2/log"
	"gorm.io/gorm"
)

var logger = log.NewLog("controller")

// Handler holds the services the REST handlers call into.
type Handler struct {
	DB       *gorm.DB
	Messages *message.Service
	Groups   *group.Service
	Presence *presence.Service
	Typing   *typing.Sender
	Calls    *call.Service
}

// ErrorHandler renders every error returned by a handler in the response
// envelope. Internal causes are logged, never sent.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"

	var appErr *apperror.AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
		status = appErr.Code.Status()
		if status != fiber.StatusInternalServerError {
			message = appErr.Message
		}
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		message = fiberErr.Message
	}

	if status == fiber.StatusInternalServerError {
		logger.Error("%s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func created(c *fiber.Ctx, data any) error {
	c.Status(fiber.StatusCreated)
	return success(c, data)
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.InvalidArg("Review your input")
	}
	return nil
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.InvalidArg("invalid " + name)
	}
	return uint(id), nil
}

// queryID returns 0 when the parameter is absent.
func queryID(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperror.InvalidArg("invalid " + name)
	}
	return uint(id), nil
}
