package group

import (
	"context"
	"strings"
	"time"

	"lightoflife/apperror"
	"lightoflife/channel"
	"lightoflife/model"
	"lightoflife/realtime"
	"lightoflife/utils"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/zishang520/engine.io/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var logger = log.NewLog("group")

// Presence is told when a member leaves so they stop showing as online.
type Presence interface {
	MarkOffline(ctx context.Context, groupID uint, userID uint, sessionID string) error
}

type Service struct {
	db       *gorm.DB
	bus      realtime.Broadcaster
	cipher   *utils.Cipher
	clock    clock.Clock
	presence Presence
}

func NewService(db *gorm.DB, bus realtime.Broadcaster, cipher *utils.Cipher, clk clock.Clock) *Service {
	return &Service{db: db, bus: bus, cipher: cipher, clock: clk}
}

// SetPresence wires the presence tracker. Presence itself depends on
// IsMember, so it is attached after both services exist.
func (s *Service) SetPresence(p Presence) {
	s.presence = p
}

type SendInput struct {
	GroupID     uint   `json:"-"`
	SenderID    uint   `json:"-"`
	Content     string `json:"content"`
	MediaURL    string `json:"mediaUrl"`
	MessageType string `json:"messageType"`
	ReplyToID   *uint  `json:"replyToId"`
}

type View struct {
	ID          uint      `json:"id"`
	GroupID     uint      `json:"groupId"`
	SenderID    uint      `json:"senderId"`
	Content     string    `json:"content"`
	MediaURL    string    `json:"mediaUrl"`
	MessageType string    `json:"messageType"`
	ReplyToID   *uint     `json:"replyToId"`
	IsEncrypted bool      `json:"isEncrypted"`
	IsDeleted   bool      `json:"isDeleted"`
	IsPinned    bool      `json:"isPinned"`
	CreatedAt   time.Time `json:"createdAt"`
}

type SendResult struct {
	Message   View `json:"message"`
	Broadcast bool `json:"broadcast"`
}

type MemberChange struct {
	GroupID uint `json:"groupId"`
	UserID  uint `json:"userId"`
	ActorID uint `json:"actorId"`
}

type PinChange struct {
	GroupID   uint      `json:"groupId"`
	MessageID uint      `json:"messageId"`
	ActorID   uint      `json:"actorId"`
	At        time.Time `json:"at"`
}

type Deletion struct {
	GroupID   uint   `json:"groupId"`
	MessageID uint   `json:"messageId"`
	Content   string `json:"content"`
}

// Create makes a group owned by ownerID with the given initial members.
func (s *Service) Create(ctx context.Context, ownerID uint, name string, memberIDs []uint) (*model.Group, error) {
	name = strings.TrimSpace(name)
	if ownerID == 0 {
		return nil, apperror.ErrInvalidID
	}
	if name == "" {
		return nil, apperror.InvalidArg("group name is required")
	}

	seen := map[uint]bool{ownerID: true}
	ids := []uint{ownerID}
	for _, id := range memberIDs {
		if id == 0 {
			return nil, apperror.ErrInvalidID
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var found int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id IN ?", ids).Count(&found).Error; err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.Create.Users"))
	}
	if int(found) != len(ids) {
		return nil, apperror.ErrUserNotFound
	}

	group := &model.Group{Name: name, OwnerID: ownerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		members := make([]model.GroupMember, 0, len(ids))
		for _, id := range ids {
			role := model.GroupRoleMember
			if id == ownerID {
				role = model.GroupRoleOwner
			}
			members = append(members, model.GroupMember{GroupID: group.ID, UserID: id, Role: role, JoinedAt: s.now()})
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.Create"))
	}

	return s.Get(ctx, group.ID, ownerID)
}

// Get returns the group with its members. Only members may look.
func (s *Service) Get(ctx context.Context, groupID uint, requesterID uint) (*model.Group, error) {
	if _, err := s.member(ctx, groupID, requesterID); err != nil {
		return nil, err
	}
	group := new(model.Group)
	if err := s.db.WithContext(ctx).Preload("Members").First(group, groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrGroupNotFound
		}
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.Get"))
	}
	return group, nil
}

func (s *Service) IsMember(ctx context.Context, groupID uint, userID uint) (bool, error) {
	if groupID == 0 || userID == 0 {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&model.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, apperror.ErrStorage(errors.Wrap(err, "group.IsMember"))
	}
	return count > 0, nil
}

// AddMember adds userID to the group. Only owners and admins may add.
func (s *Service) AddMember(ctx context.Context, groupID uint, actorID uint, userID uint) error {
	if userID == 0 {
		return apperror.ErrInvalidID
	}
	actor, err := s.member(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !actor.CanModerate() {
		return apperror.Forbidden("only group owners and admins can add members")
	}

	if err := s.db.WithContext(ctx).Select("id").First(&model.User{}, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.ErrUserNotFound
		}
		return apperror.ErrStorage(errors.Wrap(err, "group.AddMember.User"))
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     model.GroupRoleMember,
		JoinedAt: s.now(),
	}).Error
	if err != nil {
		return apperror.ErrStorage(errors.Wrap(err, "group.AddMember.Create"))
	}
	return nil
}

// RemoveMember removes userID from the group. Members may remove
// themselves; owners and admins may remove anyone except the owner.
func (s *Service) RemoveMember(ctx context.Context, groupID uint, actorID uint, userID uint) error {
	actor, err := s.member(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && !actor.CanModerate() {
		return apperror.Forbidden("only group owners and admins can remove members")
	}

	target, err := s.member(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if target.Role == model.GroupRoleOwner {
		return apperror.New(apperror.CodeFailedPrecondition, "the group owner cannot leave the group")
	}

	res := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&model.GroupMember{})
	if res.Error != nil {
		return apperror.ErrStorage(errors.Wrap(res.Error, "group.RemoveMember.Delete"))
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if s.presence != nil {
		if err := s.presence.MarkOffline(ctx, groupID, userID, ""); err != nil {
			logger.Warning("clearing presence of user %d in group %d: %v", userID, groupID, err)
		}
	}

	change := MemberChange{GroupID: groupID, UserID: userID, ActorID: actorID}
	if name, err := channel.Group(groupID); err == nil {
		realtime.Notify(ctx, s.bus, name, realtime.EventMemberRemoved, change)
	}
	if name, err := channel.User(userID); err == nil {
		realtime.Notify(ctx, s.bus, name, realtime.EventMemberRemoved, change)
	}
	return nil
}

func (s *Service) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	in.Content = strings.TrimSpace(in.Content)
	in.MediaURL = strings.TrimSpace(in.MediaURL)
	if in.Content == "" && in.MediaURL == "" {
		return nil, apperror.ErrEmptyMessage
	}
	if in.MessageType == "" {
		in.MessageType = model.MessageTypeText
	}
	if !model.IsMessageType(in.MessageType) {
		return nil, apperror.InvalidArg("unknown message type " + in.MessageType)
	}
	if _, err := s.member(ctx, in.GroupID, in.SenderID); err != nil {
		return nil, err
	}

	if in.ReplyToID != nil {
		parent, err := s.findMessage(ctx, *in.ReplyToID)
		if err != nil {
			return nil, err
		}
		if parent.GroupID != in.GroupID {
			return nil, apperror.InvalidArg("reply target belongs to another group")
		}
	}

	msg := &model.GroupMessage{
		GroupID:     in.GroupID,
		SenderID:    in.SenderID,
		MediaURL:    in.MediaURL,
		MessageType: in.MessageType,
		ReplyToID:   in.ReplyToID,
		CreatedAt:   s.now(),
	}
	if in.Content != "" {
		sealed, err := s.cipher.Encrypt(in.Content)
		if err != nil {
			return nil, apperror.ErrSendFailed(errors.Wrap(err, "group.Send.Encrypt"))
		}
		msg.Content = sealed
		msg.IsEncrypted = true
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, apperror.ErrSendFailed(errors.Wrap(err, "group.Send.Create"))
	}

	view := toView(msg, in.Content, false)
	broadcast := false
	if name, err := channel.Group(in.GroupID); err == nil {
		broadcast = realtime.Notify(ctx, s.bus, name, realtime.EventNewMessage, view)
	}
	return &SendResult{Message: view, Broadcast: broadcast}, nil
}

// List returns up to limit messages of the group, oldest first, older than
// beforeID when it is set.
func (s *Service) List(ctx context.Context, groupID uint, viewerID uint, limit int, beforeID uint) ([]View, error) {
	if _, err := s.member(ctx, groupID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	query := s.db.WithContext(ctx).Where("group_id = ?", groupID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	var rows []model.GroupMessage
	if err := query.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.List.Find"))
	}

	pinned, err := s.pinnedIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		views = append(views, s.reveal(&rows[i], pinned[rows[i].ID]))
	}
	return views, nil
}

// Pinned returns the pinned messages of the group, most recently pinned
// first.
func (s *Service) Pinned(ctx context.Context, groupID uint, viewerID uint) ([]View, error) {
	if _, err := s.member(ctx, groupID, viewerID); err != nil {
		return nil, err
	}

	var rows []model.GroupMessage
	err := s.db.WithContext(ctx).
		Joins("JOIN pinned_messages ON pinned_messages.message_id = group_messages.id AND pinned_messages.group_id = group_messages.group_id").
		Where("group_messages.group_id = ? AND group_messages.is_deleted = ?", groupID, false).
		Order("pinned_messages.pinned_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.Pinned.Find"))
	}

	views := make([]View, 0, len(rows))
	for i := range rows {
		views = append(views, s.reveal(&rows[i], true))
	}
	return views, nil
}

// Delete replaces a group message with the tombstone. The sender and the
// group's owners and admins may delete.
func (s *Service) Delete(ctx context.Context, messageID uint, requesterID uint) (*View, error) {
	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, msg.GroupID, requesterID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID && !actor.CanModerate() {
		return nil, apperror.Forbidden("only the sender or a group admin can delete this message")
	}

	// A tombstone cannot stay pinned, so the pin goes in the same transaction.
	var deleted, unpinned bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.GroupMessage{}).
			Where("id = ? AND is_deleted = ?", msg.ID, false).
			Updates(map[string]any{
				"content":      model.Tombstone,
				"media_url":    "",
				"is_encrypted": false,
				"is_deleted":   true,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "group.Delete.Update")
		}
		deleted = res.RowsAffected > 0

		res = tx.Where("message_id = ? AND group_id = ?", msg.ID, msg.GroupID).Delete(&model.PinnedMessage{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "group.Delete.Unpin")
		}
		unpinned = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, apperror.ErrStorage(err)
	}

	if deleted {
		if name, err := channel.Group(msg.GroupID); err == nil {
			realtime.Notify(ctx, s.bus, name, realtime.EventMessageDeleted, Deletion{
				GroupID:   msg.GroupID,
				MessageID: msg.ID,
				Content:   model.Tombstone,
			})
		}
	}
	if unpinned {
		s.notifyPin(ctx, realtime.EventMessageUnpinned, PinChange{GroupID: msg.GroupID, MessageID: msg.ID, ActorID: requesterID, At: s.now()})
	}

	fresh, err := s.findMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	pinned, err := s.pinnedIDs(ctx, msg.GroupID)
	if err != nil {
		return nil, err
	}
	view := s.reveal(fresh, pinned[fresh.ID])
	return &view, nil
}

// Pin pins a message. Only owners and admins may pin; pinning twice is a
// no-op.
func (s *Service) Pin(ctx context.Context, messageID uint, actorID uint) error {
	msg, err := s.moderatedMessage(ctx, messageID, actorID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return apperror.New(apperror.CodeFailedPrecondition, "deleted messages cannot be pinned")
	}

	now := s.now()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model.PinnedMessage{
		MessageID: msg.ID,
		GroupID:   msg.GroupID,
		PinnedBy:  actorID,
		PinnedAt:  now,
	})
	if res.Error != nil {
		return apperror.ErrStorage(errors.Wrap(res.Error, "group.Pin.Create"))
	}
	if res.RowsAffected > 0 {
		s.notifyPin(ctx, realtime.EventMessagePinned, PinChange{GroupID: msg.GroupID, MessageID: msg.ID, ActorID: actorID, At: now})
	}
	return nil
}

func (s *Service) Unpin(ctx context.Context, messageID uint, actorID uint) error {
	msg, err := s.moderatedMessage(ctx, messageID, actorID)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Where("message_id = ? AND group_id = ?", msg.ID, msg.GroupID).
		Delete(&model.PinnedMessage{})
	if res.Error != nil {
		return apperror.ErrStorage(errors.Wrap(res.Error, "group.Unpin.Delete"))
	}
	if res.RowsAffected > 0 {
		s.notifyPin(ctx, realtime.EventMessageUnpinned, PinChange{GroupID: msg.GroupID, MessageID: msg.ID, ActorID: actorID, At: s.now()})
	}
	return nil
}

func (s *Service) notifyPin(ctx context.Context, event string, change PinChange) {
	if name, err := channel.Group(change.GroupID); err == nil {
		realtime.Notify(ctx, s.bus, name, event, change)
	}
}

func (s *Service) moderatedMessage(ctx context.Context, messageID uint, actorID uint) (*model.GroupMessage, error) {
	msg, err := s.findMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	actor, err := s.member(ctx, msg.GroupID, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanModerate() {
		return nil, apperror.Forbidden("only group owners and admins can pin messages")
	}
	return msg, nil
}

// member loads the membership row, distinguishing a missing group from a
// missing membership.
func (s *Service) member(ctx context.Context, groupID uint, userID uint) (*model.GroupMember, error) {
	if groupID == 0 || userID == 0 {
		return nil, apperror.ErrInvalidID
	}

	m := new(model.GroupMember)
	err := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(m).Error
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.member"))
	}

	var groups int64
	if err := s.db.WithContext(ctx).Model(&model.Group{}).Where("id = ?", groupID).Count(&groups).Error; err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.member.Group"))
	}
	if groups == 0 {
		return nil, apperror.ErrGroupNotFound
	}
	return nil, apperror.ErrNotGroupMember
}

func (s *Service) findMessage(ctx context.Context, messageID uint) (*model.GroupMessage, error) {
	if messageID == 0 {
		return nil, apperror.ErrInvalidID
	}
	msg := new(model.GroupMessage)
	if err := s.db.WithContext(ctx).First(msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrMessageNotFound
		}
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.findMessage"))
	}
	return msg, nil
}

func (s *Service) pinnedIDs(ctx context.Context, groupID uint) (map[uint]bool, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.PinnedMessage{}).
		Where("group_id = ?", groupID).
		Pluck("message_id", &ids).Error
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "group.pinnedIDs"))
	}
	pinned := make(map[uint]bool, len(ids))
	for _, id := range ids {
		pinned[id] = true
	}
	return pinned, nil
}

func (s *Service) reveal(msg *model.GroupMessage, pinned bool) View {
	text, ok := s.cipher.Reveal(msg.Content, msg.IsEncrypted)
	if !ok {
		logger.Warning("group message %d could not be decrypted", msg.ID)
	}
	return toView(msg, text, pinned)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func toView(msg *model.GroupMessage, content string, pinned bool) View {
	return View{
		ID:          msg.ID,
		GroupID:     msg.GroupID,
		SenderID:    msg.SenderID,
		Content:     content,
		MediaURL:    msg.MediaURL,
		MessageType: msg.MessageType,
		ReplyToID:   msg.ReplyToID,
		IsEncrypted: msg.IsEncrypted,
		IsDeleted:   msg.IsDeleted,
		IsPinned:    pinned,
		CreatedAt:   msg.CreatedAt,
	}
}
