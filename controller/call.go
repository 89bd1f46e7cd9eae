package controller

import (
	"context"
	"encoding/json"

	"lightoflife/call"
	"lightoflife/middleware"
	"lightoflife/model"

	"github.com/gofiber/fiber/v2"
)

type CallAcceptInput struct {
	CallerID       uint   `json:"callerId"`
	ReceiverPeerID string `json:"receiverPeerId"`
}

type CallSignalInput struct {
	Kind    call.SignalKind `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) CallInitiate(c *fiber.Ctx) error {
	input := new(call.InitiateInput)
	if err := parseBody(c, input); err != nil {
		return err
	}
	input.CallerID = middleware.UserID(c)

	res, err := h.Calls.Initiate(c.UserContext(), *input)
	if err != nil {
		return err
	}
	return created(c, res)
}

func (h *Handler) CallHistory(c *fiber.Ctx) error {
	calls, err := h.Calls.History(c.UserContext(), middleware.UserID(c), c.QueryInt("limit"))
	if err != nil {
		return err
	}
	return success(c, calls)
}

func (h *Handler) CallGet(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	res, err := h.Calls.Get(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, res)
}

func (h *Handler) CallAccept(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	input := new(CallAcceptInput)
	if err := parseBody(c, input); err != nil {
		return err
	}

	res, err := h.Calls.Accept(c.UserContext(), id, middleware.UserID(c), input.ReceiverPeerID)
	if err != nil {
		return err
	}
	return success(c, res)
}

// CallAcceptPending accepts by caller id for clients that lost the call id.
func (h *Handler) CallAcceptPending(c *fiber.Ctx) error {
	input := new(CallAcceptInput)
	if err := parseBody(c, input); err != nil {
		return err
	}

	res, err := h.Calls.AcceptPending(c.UserContext(), input.CallerID, middleware.UserID(c), input.ReceiverPeerID)
	if err != nil {
		return err
	}
	return success(c, res)
}

func (h *Handler) CallReject(c *fiber.Ctx) error {
	return h.callTransition(c, h.Calls.Reject)
}

func (h *Handler) CallEnd(c *fiber.Ctx) error {
	return h.callTransition(c, h.Calls.End)
}

func (h *Handler) CallMiss(c *fiber.Ctx) error {
	return h.callTransition(c, h.Calls.Miss)
}

func (h *Handler) CallSignal(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	input := new(CallSignalInput)
	if err := parseBody(c, input); err != nil {
		return err
	}

	if err := h.Calls.Relay(c.UserContext(), id, middleware.UserID(c), input.Kind, input.Payload); err != nil {
		return err
	}
	return success(c, nil)
}

type callTransitionFunc func(ctx context.Context, callID uint, userID uint) (*model.Call, error)

func (h *Handler) callTransition(c *fiber.Ctx, transition callTransitionFunc) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	res, err := transition(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, res)
}
