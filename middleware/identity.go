package middleware

import (
	"lightoflife/utils"

	"github.com/gofiber/fiber/v2"
)

const userIDKey = "userId"

// Identity resolves the caller's user id from the verified token and stores
// it for handlers. Must run after JWT.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := tokenClaims(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		id, err := utils.ClaimsUserID(claims)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).
				JSON(fiber.Map{
					"status":  "error",
					"message": "Invalid or expired JWT",
					"data":    nil,
				})
		}
		c.Locals(userIDKey, id)
		return c.Next()
	}
}

// UserID returns the id stored by Identity, or 0.
func UserID(c *fiber.Ctx) uint {
	id, _ := c.Locals(userIDKey).(uint)
	return id
}
