package group

import (
	"context"
	"fmt"
	"testing"
	"time"

	"lightoflife/apperror"
	"lightoflife/database"
	"lightoflife/model"
	"lightoflife/realtime"
	"lightoflife/utils"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type offlineCall struct {
	groupID, userID uint
}

type recordingPresence struct {
	calls []offlineCall
}

func (r *recordingPresence) MarkOffline(_ context.Context, groupID uint, userID uint, _ string) error {
	r.calls = append(r.calls, offlineCall{groupID, userID})
	return nil
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	bus      *realtime.Memory
	presence *recordingPresence
	group    *model.Group
}

// newFixture creates users 1..4 and a group owned by 1 with member 2.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Memory()
	require.NoError(t, err)
	cipher, err := utils.NewCipher("test secret")
	require.NoError(t, err)
	for _, id := range []uint{1, 2, 3, 4} {
		user := model.User{Username: fmt.Sprintf("user%d", id), Email: fmt.Sprintf("user%d@example.com", id)}
		user.ID = id
		require.NoError(t, db.Create(&user).Error)
	}

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	bus := realtime.NewMemory()
	presence := &recordingPresence{}

	svc := NewService(db, bus, cipher, mock)
	svc.SetPresence(presence)

	group, err := svc.Create(context.Background(), 1, "Choir", []uint{2, 2})
	require.NoError(t, err)
	bus.Reset()

	return &fixture{svc: svc, db: db, bus: bus, presence: presence, group: group}
}

func (f *fixture) send(t *testing.T, sender uint, content string) View {
	t.Helper()
	res, err := f.svc.Send(context.Background(), SendInput{GroupID: f.group.ID, SenderID: sender, Content: content})
	require.NoError(t, err)
	return res.Message
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "Choir", f.group.Name)
	require.Len(t, f.group.Members, 2)
	roles := map[uint]string{}
	for _, m := range f.group.Members {
		roles[m.UserID] = m.Role
	}
	assert.Equal(t, model.GroupRoleOwner, roles[1])
	assert.Equal(t, model.GroupRoleMember, roles[2])

	_, err := f.svc.Create(context.Background(), 1, "  ", nil)
	assert.True(t, apperror.IsInvalidArg(err))
	_, err = f.svc.Create(context.Background(), 1, "Ghosts", []uint{99})
	assert.True(t, apperror.IsNotFound(err))
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ok, err := f.svc.IsMember(ctx, f.group.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.IsMember(ctx, f.group.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, apperror.IsForbidden(f.svc.AddMember(ctx, f.group.ID, 2, 3)), "plain members cannot add")
	require.NoError(t, f.svc.AddMember(ctx, f.group.ID, 1, 3))
	require.NoError(t, f.svc.AddMember(ctx, f.group.ID, 1, 3), "adding twice is a no-op")

	_, err = f.svc.Get(ctx, f.group.ID, 4)
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.Get(ctx, 999, 1)
	assert.True(t, apperror.IsNotFound(err))
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.AddMember(ctx, f.group.ID, 1, 3))

	assert.True(t, apperror.IsForbidden(f.svc.RemoveMember(ctx, f.group.ID, 2, 3)))
	assert.Equal(t, apperror.CodeFailedPrecondition, apperror.CodeOf(f.svc.RemoveMember(ctx, f.group.ID, 1, 1)))

	require.NoError(t, f.svc.RemoveMember(ctx, f.group.ID, 1, 3))
	require.NoError(t, f.svc.RemoveMember(ctx, f.group.ID, 2, 2), "members may leave")

	assert.Equal(t, []offlineCall{{f.group.ID, 3}, {f.group.ID, 2}}, f.presence.calls)
	assert.Len(t, f.bus.Find(fmt.Sprintf("group-%d", f.group.ID), realtime.EventMemberRemoved), 2)
	assert.Len(t, f.bus.Find("user-3", realtime.EventMemberRemoved), 1)

	ok, err := f.svc.IsMember(ctx, f.group.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.send(t, 1, "hello choir")
	res, err := f.svc.Send(ctx, SendInput{GroupID: f.group.ID, SenderID: 2, Content: "hi", ReplyToID: &first.ID})
	require.NoError(t, err)
	assert.True(t, res.Broadcast)
	assert.Len(t, f.bus.Find(fmt.Sprintf("group-%d", f.group.ID), realtime.EventNewMessage), 2)

	_, err = f.svc.Send(ctx, SendInput{GroupID: f.group.ID, SenderID: 3, Content: "let me in"})
	assert.True(t, apperror.IsForbidden(err))
	_, err = f.svc.Send(ctx, SendInput{GroupID: f.group.ID, SenderID: 1})
	assert.True(t, apperror.IsInvalidArg(err))

	other, err := f.svc.Create(ctx, 1, "Other", nil)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, SendInput{GroupID: other.ID, SenderID: 1, Content: "x", ReplyToID: &first.ID})
	assert.True(t, apperror.IsInvalidArg(err), "reply across groups")

	var stored model.GroupMessage
	require.NoError(t, f.db.First(&stored, first.ID).Error)
	assert.NotEqual(t, "hello choir", stored.Content)

	list, err := f.svc.List(ctx, f.group.ID, 2, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "hello choir", list[0].Content)
	assert.Equal(t, "hi", list[1].Content)
	require.NotNil(t, list[1].ReplyToID)
	assert.Equal(t, first.ID, *list[1].ReplyToID)

	_, err = f.svc.List(ctx, f.group.ID, 4, 0, 0)
	assert.True(t, apperror.IsForbidden(err))
}

func TestListWithUndecryptableMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.send(t, 1, "fine")
	bad := f.send(t, 2, "broken")
	require.NoError(t, f.db.Model(&model.GroupMessage{}).Where("id = ?", bad.ID).Update("content", "!!").Error)

	list, err := f.svc.List(ctx, f.group.ID, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fine", list[0].Content)
	assert.Equal(t, utils.DecryptFailedPlaceholder, list[1].Content)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.AddMember(ctx, f.group.ID, 1, 3))

	msg := f.send(t, 2, "regrettable")

	_, err := f.svc.Delete(ctx, msg.ID, 3)
	assert.True(t, apperror.IsForbidden(err), "other members cannot delete")

	view, err := f.svc.Delete(ctx, msg.ID, 1)
	require.NoError(t, err, "owner moderates")
	assert.True(t, view.IsDeleted)
	assert.Equal(t, model.Tombstone, view.Content)

	_, err = f.svc.Delete(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Len(t, f.bus.Find(fmt.Sprintf("group-%d", f.group.ID), realtime.EventMessageDeleted), 1)
}

func TestPin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg := f.send(t, 2, "read the rules")
	channelName := fmt.Sprintf("group-%d", f.group.ID)

	assert.True(t, apperror.IsForbidden(f.svc.Pin(ctx, msg.ID, 2)))

	require.NoError(t, f.svc.Pin(ctx, msg.ID, 1))
	require.NoError(t, f.svc.Pin(ctx, msg.ID, 1))
	assert.Len(t, f.bus.Find(channelName, realtime.EventMessagePinned), 1)

	pinned, err := f.svc.Pinned(ctx, f.group.ID, 2)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, "read the rules", pinned[0].Content)
	assert.True(t, pinned[0].IsPinned)

	list, err := f.svc.List(ctx, f.group.ID, 2, 0, 0)
	require.NoError(t, err)
	assert.True(t, list[0].IsPinned)

	require.NoError(t, f.svc.Unpin(ctx, msg.ID, 1))
	require.NoError(t, f.svc.Unpin(ctx, msg.ID, 1))
	assert.Len(t, f.bus.Find(channelName, realtime.EventMessageUnpinned), 1)

	pinned, err = f.svc.Pinned(ctx, f.group.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, pinned)

	_, err = f.svc.Delete(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, apperror.CodeFailedPrecondition, apperror.CodeOf(f.svc.Pin(ctx, msg.ID, 1)))
}

func TestDeleteUnpins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	channelName := fmt.Sprintf("group-%d", f.group.ID)

	keep := f.send(t, 2, "meeting at noon")
	drop := f.send(t, 2, "meeting at nine")
	require.NoError(t, f.svc.Pin(ctx, keep.ID, 1))
	require.NoError(t, f.svc.Pin(ctx, drop.ID, 1))

	view, err := f.svc.Delete(ctx, drop.ID, 2)
	require.NoError(t, err)
	assert.False(t, view.IsPinned)

	pinned, err := f.svc.Pinned(ctx, f.group.ID, 2)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, keep.ID, pinned[0].ID)

	var count int64
	require.NoError(t, f.db.Model(&model.PinnedMessage{}).Where("message_id = ?", drop.ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.Len(t, f.bus.Find(channelName, realtime.EventMessageUnpinned), 1)
}
