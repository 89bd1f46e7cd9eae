package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lightoflife/call"
	"lightoflife/controller"
	"lightoflife/database"
	"lightoflife/group"
	"lightoflife/message"
	"lightoflife/model"
	"lightoflife/presence"
	"lightoflife/realtime"
	"lightoflife/typing"
	"lightoflife/utils"

	"github.com/benbjohnson/clock"
	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "router-test-key"

type envelope struct {
	Status  string          `json:"status"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	app      *fiber.App
	bus      *realtime.Memory
	enforcer *casbin.Enforcer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("JWT_ACCESS_KEY", testKey)
	t.Setenv("CASBIN_MODEL", "../config/restful_rbac_model.conf")

	db, err := database.Memory()
	require.NoError(t, err)
	for _, id := range []uint{1, 2, 3} {
		user := model.User{Username: fmt.Sprintf("user%d", id), Email: fmt.Sprintf("user%d@example.com", id)}
		user.ID = id
		require.NoError(t, db.Create(&user).Error)
	}

	cipher, err := utils.NewCipher("router test")
	require.NoError(t, err)
	bus := realtime.NewMemory()
	clk := clock.NewMock()

	groups := group.NewService(db, bus, cipher, clk)
	tracker := presence.NewService(db, groups, bus, clk, 0)
	groups.SetPresence(tracker)

	h := &controller.Handler{
		DB:       db,
		Messages: message.NewService(db, bus, cipher, clk),
		Groups:   groups,
		Presence: tracker,
		Typing:   typing.NewSender(bus),
		Calls:    call.NewService(db, bus, clk),
	}

	enforcer := database.Casbin(db)
	app := fiber.New(fiber.Config{ErrorHandler: controller.ErrorHandler})
	Rest(app, h, enforcer)

	return &testServer{app: app, bus: bus, enforcer: enforcer}
}

func (s *testServer) do(t *testing.T, method string, path string, userID uint, body any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := utils.GenerateAccessToken(userID, false, testKey, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestRestRequiresToken(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/v1/messages/conversations", 0, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "error", env.Status)
}

func TestRestRejectsPendingOTP(t *testing.T) {
	s := newTestServer(t)

	token, err := utils.GenerateAccessToken(1, true, testKey, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/user/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRestMessageFlow(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/v1/messages", 1, map[string]any{"receiverId": 2, "content": "hello"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "success", env.Status)

	var sent message.SendResult
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.True(t, sent.Broadcast)
	assert.Equal(t, "hello", sent.Message.Content)

	status, _ = s.do(t, http.MethodPost, fmt.Sprintf("/v1/messages/%d/read", sent.Message.ID), 1, nil)
	assert.Equal(t, http.StatusForbidden, status, "the sender cannot mark read")

	status, env = s.do(t, http.MethodPost, fmt.Sprintf("/v1/messages/%d/read", sent.Message.ID), 2, nil)
	require.Equal(t, http.StatusOK, status)
	var read message.View
	require.NoError(t, json.Unmarshal(env.Data, &read))
	assert.True(t, read.IsRead)
	assert.True(t, read.IsDelivered)

	status, env = s.do(t, http.MethodGet, "/v1/messages/with/1", 2, nil)
	require.Equal(t, http.StatusOK, status)
	var page []message.View
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page, 1)

	status, env = s.do(t, http.MethodPost, "/v1/messages", 1, map[string]any{"receiverId": 2})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Message)
	assert.Equal(t, "message must have content or a media url", *env.Message)
}

func TestRestCallForbiddenForThirdParty(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/v1/calls", 1, map[string]any{"receiverId": 2, "callerPeerId": "peer-1"})
	require.Equal(t, http.StatusCreated, status)
	var c model.Call
	require.NoError(t, json.Unmarshal(env.Data, &c))

	status, _ = s.do(t, http.MethodPost, fmt.Sprintf("/v1/calls/%d/accept", c.ID), 3, map[string]any{"receiverPeerId": "peer-3"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = s.do(t, http.MethodPost, fmt.Sprintf("/v1/calls/%d/accept", c.ID), 2, map[string]any{"receiverPeerId": "peer-2"})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, model.CallConnected, c.Status)

	status, _ = s.do(t, http.MethodGet, "/v1/calls/999", 1, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRestChannels(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/v1/channels/private/1", 10, nil)
	require.Equal(t, http.StatusOK, status)
	var names map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &names))
	assert.Equal(t, "private-chat-1-10", names["chat"])
	assert.Equal(t, "private-call-1-10", names["call"])

	status, _ = s.do(t, http.MethodGet, "/v1/channels/private/abc", 10, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRestGroupPresence(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/v1/groups", 1, map[string]any{"name": "Choir", "memberIds": []uint{2}})
	require.Equal(t, http.StatusCreated, status)
	var g model.Group
	require.NoError(t, json.Unmarshal(env.Data, &g))

	status, _ = s.do(t, http.MethodPost, fmt.Sprintf("/v1/groups/%d/presence", g.ID), 2, map[string]any{"isOnline": true, "sessionId": "s1"})
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, fmt.Sprintf("/v1/groups/%d/online", g.ID), 1, nil)
	require.Equal(t, http.StatusOK, status)
	var online struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &online))
	assert.Equal(t, 1, online.Count)

	status, _ = s.do(t, http.MethodGet, fmt.Sprintf("/v1/groups/%d/online", g.ID), 3, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/v1/typing", 3, map[string]any{"channel": fmt.Sprintf("group-%d", g.ID), "isTyping": true})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(t, http.MethodPost, "/v1/typing", 2, map[string]any{"channel": fmt.Sprintf("group-%d", g.ID), "isTyping": true})
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, s.bus.Find(fmt.Sprintf("group-%d", g.ID), realtime.EventTyping), 1)
}

func TestRestAdmin(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/v1/admin/calls?userId=1", 1, nil)
	assert.Equal(t, http.StatusForbidden, status)

	require.NoError(t, database.GrantAdmin(s.enforcer, 3))

	status, env := s.do(t, http.MethodGet, "/v1/admin/calls?userId=1", 3, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", env.Status)

	status, _ = s.do(t, http.MethodGet, "/v1/admin/calls", 3, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
