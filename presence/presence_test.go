package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"lightoflife/database"
	"lightoflife/model"
	"lightoflife/realtime"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeMembership map[[2]uint]bool

func (f fakeMembership) IsMember(_ context.Context, groupID uint, userID uint) (bool, error) {
	return f[[2]uint{groupID, userID}], nil
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	bus   *realtime.Memory
	clock *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Memory()
	require.NoError(t, err)
	for _, id := range []uint{1, 2, 3} {
		user := model.User{Username: fmt.Sprintf("user%d", id), Email: fmt.Sprintf("user%d@example.com", id)}
		user.ID = id
		require.NoError(t, db.Create(&user).Error)
	}

	members := fakeMembership{{10, 1}: true, {10, 2}: true}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	bus := realtime.NewMemory()

	return &fixture{
		svc:   NewService(db, members, bus, mock, 0),
		db:    db,
		bus:   bus,
		clock: mock,
	}
}

func TestUpdatePresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.UpdatePresence(ctx, 10, 1, true, "tab-a"))

	members, err := f.svc.GetOnlineMembers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.EqualValues(t, 1, members[0].UserID)
	assert.Equal(t, "user1", members[0].Username)

	events := f.bus.Find("group-10", realtime.EventPresenceUpdate)
	require.Len(t, events, 1)
	var update Update
	require.NoError(t, json.Unmarshal(events[0].Payload, &update))
	assert.EqualValues(t, 1, update.UserID)
	assert.True(t, update.IsOnline)

	// A second update is an upsert, not a second row.
	f.clock.Add(time.Minute)
	require.NoError(t, f.svc.UpdatePresence(ctx, 10, 1, true, "tab-b"))
	var rows int64
	f.db.Model(&model.GroupPresence{}).Where("group_id = ? AND user_id = ?", 10, 1).Count(&rows)
	assert.EqualValues(t, 1, rows)
}

func TestUpdatePresenceNonMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.UpdatePresence(ctx, 10, 3, true, "tab"))

	var rows int64
	f.db.Model(&model.GroupPresence{}).Count(&rows)
	assert.Zero(t, rows)
	assert.Empty(t, f.bus.Published())
}

func TestPresenceWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.UpdatePresence(ctx, 10, 1, true, "a"))
	require.NoError(t, f.svc.UpdatePresence(ctx, 10, 2, true, "b"))

	f.clock.Add(4*time.Minute + 59*time.Second)
	count, err := f.svc.GetOnlineMembersCount(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, f.svc.UpdatePresence(ctx, 10, 2, true, "b"))
	f.clock.Add(2 * time.Second)

	members, err := f.svc.GetOnlineMembers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, members, 1, "user 1 is 5m01s stale")
	assert.EqualValues(t, 2, members[0].UserID)
}

func TestMarkOffline(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.UpdatePresence(ctx, 10, 1, true, "a"))

		require.NoError(t, f.svc.MarkOffline(ctx, 10, 1, ""))
		count, err := f.svc.GetOnlineMembersCount(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Len(t, f.bus.Find("group-10", realtime.EventPresenceUpdate), 2)

		require.NoError(t, f.svc.MarkOffline(ctx, 10, 1, ""))
		assert.Len(t, f.bus.Find("group-10", realtime.EventPresenceUpdate), 2, "already offline")
	})

	t.Run("stale session cannot clear a newer one", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.UpdatePresence(ctx, 10, 1, true, "old"))
		require.NoError(t, f.svc.UpdatePresence(ctx, 10, 1, true, "new"))

		require.NoError(t, f.svc.MarkOffline(ctx, 10, 1, "old"))
		count, err := f.svc.GetOnlineMembersCount(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		require.NoError(t, f.svc.MarkOffline(ctx, 10, 1, "new"))
		count, err = f.svc.GetOnlineMembersCount(ctx, 10)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestBroadcastFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bus.FailWith(errors.New("down"))

	require.NoError(t, f.svc.UpdatePresence(ctx, 10, 1, true, "a"))
	count, err := f.svc.GetOnlineMembersCount(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
