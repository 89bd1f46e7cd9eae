package controller

import (
	"lightoflife/apperror"
	"lightoflife/middleware"
	"lightoflife/model"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (h *Handler) UserProfile(c *fiber.Ctx) error {
	userModel := new(model.User)

	if err := h.DB.WithContext(c.UserContext()).First(userModel, middleware.UserID(c)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.ErrUserNotFound
		}
		return apperror.ErrStorage(errors.Wrap(err, "controller.UserProfile"))
	}

	return success(c, fiber.Map{
		"id":       userModel.ID,
		"created":  userModel.CreatedAt.Unix(),
		"username": userModel.Username,
		"email":    userModel.Email,
		"role":     userModel.Role,
	})
}
