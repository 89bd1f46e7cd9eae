package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"lightoflife/apperror"
	"lightoflife/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = "middleware-test-key"

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			if code := apperror.CodeOf(err); code != apperror.CodeUnknown {
				status = code.Status()
			}
			return c.Status(status).JSON(fiber.Map{"status": "error", "message": err.Error(), "data": nil})
		},
	})
	app.Get("/me", JWT(key), OTP(), Identity(), func(c *fiber.Ctx) error {
		return c.SendString(strconv.FormatUint(uint64(UserID(c)), 10))
	})
	return app
}

func request(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestAuthChain(t *testing.T) {
	app := newApp()

	t.Run("missing token", func(t *testing.T) {
		resp := request(t, app, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := utils.GenerateAccessToken(7, false, "another-key", time.Hour)
		require.NoError(t, err)
		resp := request(t, app, token)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("otp pending", func(t *testing.T) {
		token, err := utils.GenerateAccessToken(7, true, key, time.Hour)
		require.NoError(t, err)
		resp := request(t, app, token)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("valid", func(t *testing.T) {
		token, err := utils.GenerateAccessToken(7, false, key, time.Hour)
		require.NoError(t, err)
		resp := request(t, app, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := make([]byte, 8)
		n, _ := resp.Body.Read(body)
		assert.Equal(t, "7", string(body[:n]))
	})
}
