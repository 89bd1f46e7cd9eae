package socketio

import (
	"context"
	"errors"
	"testing"

	"lightoflife/apperror"
	"lightoflife/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type members map[uint][]uint

func (m members) IsMember(_ context.Context, groupID uint, userID uint) (bool, error) {
	if groupID == 500 {
		return false, errors.New("db down")
	}
	for _, id := range m[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	groups := members{12: {3, 4}}

	allowed := []string{
		"private-chat-3-7",
		"private-call-3-9",
		"group-12",
		"user-3",
		"user-notifications:3",
	}
	for _, name := range allowed {
		t.Run("allow "+name, func(t *testing.T) {
			_, err := Authorize(ctx, groups, 3, name)
			assert.NoError(t, err)
		})
	}

	denied := []string{
		"private-chat-4-7",
		"private-call-1-2",
		"group-13",
		"user-4",
		"user-notifications:4",
	}
	for _, name := range denied {
		t.Run("deny "+name, func(t *testing.T) {
			_, err := Authorize(ctx, groups, 3, name)
			assert.True(t, apperror.IsForbidden(err))
		})
	}

	_, err := Authorize(ctx, groups, 3, "private-chat-7-3")
	assert.True(t, apperror.IsInvalidArg(err), "non-canonical names are rejected")
	_, err = Authorize(ctx, groups, 0, "user-3")
	assert.Equal(t, apperror.CodeUnauthenticated, apperror.CodeOf(err))
	_, err = Authorize(ctx, groups, 3, "group-500")
	assert.Error(t, err)

	d, err := Authorize(ctx, groups, 4, "group-12")
	require.NoError(t, err)
	assert.Equal(t, channel.KindGroup, d.Kind)
}

func TestOwnChannels(t *testing.T) {
	assert.Equal(t, []string{"user-8", "user-notifications:8"}, OwnChannels(8))
	assert.Empty(t, OwnChannels(0))
}
