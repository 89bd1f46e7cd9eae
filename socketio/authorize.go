package socketio

import (
	"context"

	"lightoflife/apperror"
	"lightoflife/channel"
)

// Membership answers whether a user belongs to a group.
type Membership interface {
	IsMember(ctx context.Context, groupID uint, userID uint) (bool, error)
}

// Authorize decides whether userID may subscribe to the named channel:
// pair channels need the user in the pair, group channels need membership
// and user channels must be the user's own.
func Authorize(ctx context.Context, members Membership, userID uint, name string) (channel.Descriptor, error) {
	d, err := channel.Parse(name)
	if err != nil {
		return d, err
	}
	if userID == 0 {
		return d, apperror.Unauthorized("authentication required")
	}

	switch d.Kind {
	case channel.KindPrivateChat, channel.KindPrivateCall, channel.KindUser, channel.KindUserNotifications:
		if !d.Has(uint64(userID)) {
			return d, apperror.Forbidden("not allowed to subscribe to " + name)
		}
	case channel.KindGroup:
		ok, err := members.IsMember(ctx, uint(d.IDs[0]), userID)
		if err != nil {
			return d, err
		}
		if !ok {
			return d, apperror.ErrNotGroupMember
		}
	}
	return d, nil
}
