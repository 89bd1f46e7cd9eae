package controller

import (
	"lightoflife/group"
	"lightoflife/middleware"

	"github.com/gofiber/fiber/v2"
)

type GroupCreateInput struct {
	Name      string `json:"name"`
	MemberIDs []uint `json:"memberIds"`
}

type GroupMemberInput struct {
	UserID uint `json:"userId"`
}

type GroupPresenceInput struct {
	IsOnline  bool   `json:"isOnline"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) GroupCreate(c *fiber.Ctx) error {
	input := new(GroupCreateInput)
	if err := parseBody(c, input); err != nil {
		return err
	}

	g, err := h.Groups.Create(c.UserContext(), middleware.UserID(c), input.Name, input.MemberIDs)
	if err != nil {
		return err
	}
	return created(c, g)
}

func (h *Handler) GroupGet(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	g, err := h.Groups.Get(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, g)
}

func (h *Handler) GroupAddMember(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	input := new(GroupMemberInput)
	if err := parseBody(c, input); err != nil {
		return err
	}

	if err := h.Groups.AddMember(c.UserContext(), id, middleware.UserID(c), input.UserID); err != nil {
		return err
	}
	return success(c, nil)
}

func (h *Handler) GroupRemoveMember(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	userID, err := paramID(c, "userId")
	if err != nil {
		return err
	}

	if err := h.Groups.RemoveMember(c.UserContext(), id, middleware.UserID(c), userID); err != nil {
		return err
	}
	return success(c, nil)
}

func (h *Handler) GroupSend(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	input := new(group.SendInput)
	if err := parseBody(c, input); err != nil {
		return err
	}
	input.GroupID = id
	input.SenderID = middleware.UserID(c)

	res, err := h.Groups.Send(c.UserContext(), *input)
	if err != nil {
		return err
	}
	return created(c, res)
}

func (h *Handler) GroupMessages(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	before, err := queryID(c, "before")
	if err != nil {
		return err
	}

	messages, err := h.Groups.List(c.UserContext(), id, middleware.UserID(c), c.QueryInt("limit"), before)
	if err != nil {
		return err
	}
	return success(c, messages)
}

func (h *Handler) GroupPinned(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	messages, err := h.Groups.Pinned(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, messages)
}

func (h *Handler) GroupMessageDelete(c *fiber.Ctx) error {
	id, err := paramID(c, "messageId")
	if err != nil {
		return err
	}

	view, err := h.Groups.Delete(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return err
	}
	return success(c, view)
}

func (h *Handler) GroupMessagePin(c *fiber.Ctx) error {
	id, err := paramID(c, "messageId")
	if err != nil {
		return err
	}

	if err := h.Groups.Pin(c.UserContext(), id, middleware.UserID(c)); err != nil {
		return err
	}
	return success(c, nil)
}

func (h *Handler) GroupMessageUnpin(c *fiber.Ctx) error {
	id, err := paramID(c, "messageId")
	if err != nil {
		return err
	}

	if err := h.Groups.Unpin(c.UserContext(), id, middleware.UserID(c)); err != nil {
		return err
	}
	return success(c, nil)
}

// GroupOnline returns the online members; non-members get 403 like every
// other group read.
func (h *Handler) GroupOnline(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.Groups.Get(c.UserContext(), id, middleware.UserID(c)); err != nil {
		return err
	}

	members, err := h.Presence.GetOnlineMembers(c.UserContext(), id)
	if err != nil {
		return err
	}
	return success(c, fiber.Map{
		"count":   len(members),
		"members": members,
	})
}

func (h *Handler) GroupPresence(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	input := new(GroupPresenceInput)
	if err := parseBody(c, input); err != nil {
		return err
	}

	if err := h.Presence.UpdatePresence(c.UserContext(), id, middleware.UserID(c), input.IsOnline, input.SessionID); err != nil {
		return err
	}
	return success(c, nil)
}

func (h *Handler) GroupPresenceLeave(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	if err := h.Presence.MarkOffline(c.UserContext(), id, middleware.UserID(c), c.Query("sessionId")); err != nil {
		return err
	}
	return success(c, nil)
}
