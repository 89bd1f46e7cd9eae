package middleware

import (
	"strings"

	"lightoflife/apperror"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

// JWT verifies the bearer access token issued by the auth service. Failures
// are rendered by the app's error handler.
func JWT(key string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: "HS512",
			Key:    []byte(key),
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if strings.EqualFold(err.Error(), "Missing or malformed JWT") {
				return apperror.InvalidArg("Missing or malformed JWT")
			}
			return apperror.New(apperror.CodeUnauthenticated, "Invalid or expired JWT")
		},
	})
}
