// Package channel derives the pub/sub channel names shared by the server and
// every client. Both sides must produce identical strings, so all call sites
// go through this package instead of formatting names themselves.
package channel

import (
	"fmt"
	"strconv"
	"strings"

	"lightoflife/apperror"
)

type Kind string

const (
	KindPrivateChat       Kind = "private-chat"
	KindPrivateCall       Kind = "private-call"
	KindGroup             Kind = "group"
	KindUser              Kind = "user"
	KindUserNotifications Kind = "user-notifications"
)

const (
	privateChatPrefix       = "private-chat-"
	privateCallPrefix       = "private-call-"
	groupPrefix             = "group-"
	userPrefix              = "user-"
	userNotificationsPrefix = "user-notifications:"
)

// Identifier is anything that can name a user, group or call.
type Identifier interface {
	~string | ~uint | ~uint32 | ~uint64 | ~int | ~int64
}

// Descriptor is the parsed form of a channel name.
type Descriptor struct {
	Kind Kind
	IDs  []uint64
}

// Has reports whether id is one of the descriptor's ids.
func (d Descriptor) Has(id uint64) bool {
	for _, v := range d.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// PrivateChat returns private-chat-{low}-{high} for the unordered pair.
func PrivateChat[T Identifier](a, b T) (string, error) {
	return pair(privateChatPrefix, a, b)
}

// PrivateCall returns private-call-{low}-{high}. It is deliberately a
// separate namespace from PrivateChat.
func PrivateCall[T Identifier](a, b T) (string, error) {
	return pair(privateCallPrefix, a, b)
}

func Group[T Identifier](groupID T) (string, error) {
	return single(groupPrefix, groupID)
}

// User is the per-user control channel (receipts, call events).
func User[T Identifier](userID T) (string, error) {
	return single(userPrefix, userID)
}

// UserNotifications is the per-user background alert channel. It is not an
// alias of User: existing clients subscribe to both.
func UserNotifications[T Identifier](userID T) (string, error) {
	return single(userNotificationsPrefix, userID)
}

// ParseID validates a single identifier.
func ParseID[T Identifier](id T) (uint64, error) {
	return parseID(id)
}

// Parse is the inverse of the constructors above.
func Parse(name string) (Descriptor, error) {
	switch {
	case strings.HasPrefix(name, userNotificationsPrefix):
		return parseSingle(KindUserNotifications, strings.TrimPrefix(name, userNotificationsPrefix))
	case strings.HasPrefix(name, privateChatPrefix):
		return parsePair(KindPrivateChat, strings.TrimPrefix(name, privateChatPrefix))
	case strings.HasPrefix(name, privateCallPrefix):
		return parsePair(KindPrivateCall, strings.TrimPrefix(name, privateCallPrefix))
	case strings.HasPrefix(name, groupPrefix):
		return parseSingle(KindGroup, strings.TrimPrefix(name, groupPrefix))
	case strings.HasPrefix(name, userPrefix):
		return parseSingle(KindUser, strings.TrimPrefix(name, userPrefix))
	}
	return Descriptor{}, apperror.InvalidArg(fmt.Sprintf("unknown channel %q", name))
}

func pair[T Identifier](prefix string, a, b T) (string, error) {
	low, err := parseID(a)
	if err != nil {
		return "", err
	}
	high, err := parseID(b)
	if err != nil {
		return "", err
	}
	if low > high {
		low, high = high, low
	}
	return prefix + strconv.FormatUint(low, 10) + "-" + strconv.FormatUint(high, 10), nil
}

func single[T Identifier](prefix string, id T) (string, error) {
	v, err := parseID(id)
	if err != nil {
		return "", err
	}
	return prefix + strconv.FormatUint(v, 10), nil
}

func parseID[T Identifier](id T) (uint64, error) {
	raw := strings.TrimSpace(fmt.Sprint(id))
	if raw == "" {
		return 0, apperror.InvalidArg("id is empty")
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, apperror.InvalidArg(fmt.Sprintf("invalid id %q", raw))
	}
	return v, nil
}

// canonicalID parses an id taken from a channel name. The digits must be
// exactly what the constructors render, so "007" or " 7" name no channel.
func canonicalID(raw string) (uint64, error) {
	v, err := parseID(raw)
	if err != nil {
		return 0, err
	}
	if strconv.FormatUint(v, 10) != raw {
		return 0, apperror.InvalidArg(fmt.Sprintf("non-canonical id %q", raw))
	}
	return v, nil
}

func parseSingle(kind Kind, rest string) (Descriptor, error) {
	id, err := canonicalID(rest)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Kind: kind, IDs: []uint64{id}}, nil
}

func parsePair(kind Kind, rest string) (Descriptor, error) {
	parts := strings.Split(rest, "-")
	if len(parts) != 2 {
		return Descriptor{}, apperror.InvalidArg(fmt.Sprintf("malformed %s channel", kind))
	}
	low, err := canonicalID(parts[0])
	if err != nil {
		return Descriptor{}, err
	}
	high, err := canonicalID(parts[1])
	if err != nil {
		return Descriptor{}, err
	}
	// Only the canonical (sorted) form is accepted.
	if low > high {
		return Descriptor{}, apperror.InvalidArg(fmt.Sprintf("non-canonical %s channel", kind))
	}
	return Descriptor{Kind: kind, IDs: []uint64{low, high}}, nil
}
