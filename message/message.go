// Package message implements private messaging: send, delivery and read
// receipts, soft deletion and conversation retrieval.
//
// Every state change is a conditional single-row (or single-statement)
// update guarded by the owner/participant and the current flag, so
// concurrent duplicates are harmless. Broadcasts happen after the write and
// never fail the operation.
package message

import (
	"context"
	"fmt"
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
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Scope string

const (
	ScopeSelf     Scope = "self"
	ScopeEveryone Scope = "everyone"
)

var logger = log.NewLog("message")

type Service struct {
	db     *gorm.DB
	bus    realtime.Broadcaster
	cipher *utils.Cipher
	clock  clock.Clock
}

func NewService(db *gorm.DB, bus realtime.Broadcaster, cipher *utils.Cipher, clk clock.Clock) *Service {
	return &Service{db: db, bus: bus, cipher: cipher, clock: clk}
}

type SendInput struct {
	SenderID    uint   `json:"-"`
	ReceiverID  uint   `json:"receiverId"`
	Content     string `json:"content"`
	MediaURL    string `json:"mediaUrl"`
	MessageType string `json:"messageType"`
	ReplyToID   *uint  `json:"replyToId"`
}

// View is a message as returned to clients: content is always plaintext
// (or the tombstone / decrypt placeholder).
type View struct {
	ID          uint       `json:"id"`
	SenderID    uint       `json:"senderId"`
	ReceiverID  uint       `json:"receiverId"`
	Content     string     `json:"content"`
	MediaURL    string     `json:"mediaUrl"`
	MessageType string     `json:"messageType"`
	ReplyToID   *uint      `json:"replyToId"`
	IsEncrypted bool       `json:"isEncrypted"`
	IsDelivered bool       `json:"isDelivered"`
	DeliveredAt *time.Time `json:"deliveredAt"`
	IsRead      bool       `json:"isRead"`
	ReadAt      *time.Time `json:"readAt"`
	IsDeleted   bool       `json:"isDeleted"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// SendResult separates "stored" from "announced": Broadcast is false when
// the message is safely stored but live delivery failed.
type SendResult struct {
	Message   View `json:"message"`
	Broadcast bool `json:"broadcast"`
}

type DeliveryReceipt struct {
	MessageID   uint      `json:"messageId"`
	ReceiverID  uint      `json:"receiverId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type ReadReceipt struct {
	MessageID uint      `json:"messageId"`
	ReaderID  uint      `json:"readerId"`
	ReadAt    time.Time `json:"readAt"`
}

type BatchReadReceipt struct {
	ReaderID   uint      `json:"readerId"`
	MessageIDs []uint    `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

type Deletion struct {
	MessageID uint   `json:"messageId"`
	Scope     Scope  `json:"scope"`
	Content   string `json:"content,omitempty"`
}

// Dialog is one entry of a user's conversation list.
type Dialog struct {
	PartnerID   uint  `json:"partnerId"`
	LastMessage View  `json:"lastMessage"`
	UnreadCount int64 `json:"unreadCount"`
}

// Inspection is the moderation view of a message row.
type Inspection struct {
	View
	DeletedForSender   bool `json:"deletedForSender"`
	DeletedForReceiver bool `json:"deletedForReceiver"`
	Decrypted          bool `json:"decrypted"`
}

func (s *Service) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	if in.SenderID == 0 || in.ReceiverID == 0 {
		return nil, apperror.ErrInvalidID
	}
	if in.SenderID == in.ReceiverID {
		return nil, apperror.InvalidArg("cannot send a message to yourself")
	}
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

	if err := s.db.WithContext(ctx).Select("id").First(&model.User{}, in.ReceiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrUserNotFound
		}
		return nil, apperror.ErrSendFailed(errors.Wrap(err, "message.Send.Receiver"))
	}

	if in.ReplyToID != nil {
		parent, err := s.find(ctx, *in.ReplyToID)
		if err != nil {
			return nil, err
		}
		if !parent.Involves(in.SenderID) || !parent.Involves(in.ReceiverID) {
			return nil, apperror.InvalidArg("reply target belongs to another conversation")
		}
	}

	msg := &model.Message{
		SenderID:    in.SenderID,
		ReceiverID:  in.ReceiverID,
		MediaURL:    in.MediaURL,
		MessageType: in.MessageType,
		ReplyToID:   in.ReplyToID,
		CreatedAt:   s.now(),
	}
	if in.Content != "" {
		sealed, err := s.cipher.Encrypt(in.Content)
		if err != nil {
			return nil, apperror.ErrSendFailed(errors.Wrap(err, "message.Send.Encrypt"))
		}
		msg.Content = sealed
		msg.IsEncrypted = true
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, apperror.ErrSendFailed(errors.Wrap(err, "message.Send.Create"))
	}

	// Broadcast the plaintext; the ciphertext only protects the stored row.
	view := toView(msg, in.Content)
	broadcast := true
	if name, err := channel.PrivateChat(msg.SenderID, msg.ReceiverID); err == nil {
		broadcast = realtime.Notify(ctx, s.bus, name, realtime.EventNewMessage, view) && broadcast
	}
	if name, err := channel.UserNotifications(msg.ReceiverID); err == nil {
		broadcast = realtime.Notify(ctx, s.bus, name, realtime.EventNewMessage, view) && broadcast
	}

	return &SendResult{Message: view, Broadcast: broadcast}, nil
}

// MarkDelivered flags a message delivered. Only the recipient may do this;
// repeating it is a no-op and publishes nothing.
func (s *Service) MarkDelivered(ctx context.Context, messageID uint, recipientID uint) (*View, error) {
	msg, err := s.findForRecipient(ctx, messageID, recipientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND receiver_id = ? AND is_delivered = ?", msg.ID, recipientID, false).
		Updates(map[string]any{"is_delivered": true, "delivered_at": now})
	if res.Error != nil {
		return nil, apperror.ErrStorage(errors.Wrap(res.Error, "message.MarkDelivered.Update"))
	}

	if res.RowsAffected > 0 {
		if name, err := channel.User(msg.SenderID); err == nil {
			realtime.Notify(ctx, s.bus, name, realtime.EventMessageDelivered, DeliveryReceipt{
				MessageID:   msg.ID,
				ReceiverID:  recipientID,
				DeliveredAt: now,
			})
		}
	}

	return s.reload(ctx, msg)
}

// MarkRead flags one message read. Read implies delivered, and neither flag
// is ever cleared.
func (s *Service) MarkRead(ctx context.Context, messageID uint, recipientID uint) (*View, error) {
	msg, err := s.findForRecipient(ctx, messageID, recipientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND receiver_id = ? AND is_read = ?", msg.ID, recipientID, false).
		Updates(readUpdates(now))
	if res.Error != nil {
		return nil, apperror.ErrStorage(errors.Wrap(res.Error, "message.MarkRead.Update"))
	}

	if res.RowsAffected > 0 {
		if name, err := channel.User(msg.SenderID); err == nil {
			realtime.Notify(ctx, s.bus, name, realtime.EventMessageRead, ReadReceipt{
				MessageID: msg.ID,
				ReaderID:  recipientID,
				ReadAt:    now,
			})
		}
	}

	return s.reload(ctx, msg)
}

// MarkConversationRead marks every unread message from senderID to
// recipientID read and publishes a single batch receipt.
func (s *Service) MarkConversationRead(ctx context.Context, senderID uint, recipientID uint) (*BatchReadReceipt, error) {
	if senderID == 0 || recipientID == 0 {
		return nil, apperror.ErrInvalidID
	}

	now := s.now()
	receipt := &BatchReadReceipt{ReaderID: recipientID, MessageIDs: []uint{}, ReadAt: now}

	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, recipientID, false).
		Order("id asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "message.MarkConversationRead.Pluck"))
	}
	if len(ids) == 0 {
		return receipt, nil
	}

	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id IN ? AND receiver_id = ? AND is_read = ?", ids, recipientID, false).
		Updates(readUpdates(now))
	if res.Error != nil {
		return nil, apperror.ErrStorage(errors.Wrap(res.Error, "message.MarkConversationRead.Update"))
	}

	receipt.MessageIDs = ids
	if res.RowsAffected > 0 {
		if name, err := channel.User(senderID); err == nil {
			realtime.Notify(ctx, s.bus, name, realtime.EventMessagesRead, receipt)
		}
	}
	return receipt, nil
}

// Delete removes a message for everyone (sender only, content replaced by
// the tombstone) or hides it for the requester alone.
func (s *Service) Delete(ctx context.Context, messageID uint, requesterID uint, scope Scope) (*View, error) {
	if scope != ScopeSelf && scope != ScopeEveryone {
		return nil, apperror.InvalidArg("scope must be self or everyone")
	}

	msg, err := s.find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.Involves(requesterID) {
		return nil, apperror.ErrNotMessageMember
	}

	switch scope {
	case ScopeEveryone:
		if msg.SenderID != requesterID {
			return nil, apperror.Forbidden("only the sender can delete a message for everyone")
		}
		res := s.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND sender_id = ? AND is_deleted = ?", msg.ID, requesterID, false).
			Updates(map[string]any{
				"content":      model.Tombstone,
				"media_url":    "",
				"is_encrypted": false,
				"is_deleted":   true,
			})
		if res.Error != nil {
			return nil, apperror.ErrStorage(errors.Wrap(res.Error, "message.Delete.Everyone"))
		}
		if res.RowsAffected > 0 {
			if name, err := channel.PrivateChat(msg.SenderID, msg.ReceiverID); err == nil {
				realtime.Notify(ctx, s.bus, name, realtime.EventMessageDeleted, Deletion{
					MessageID: msg.ID,
					Scope:     ScopeEveryone,
					Content:   model.Tombstone,
				})
			}
		}

	case ScopeSelf:
		column := "deleted_for_receiver"
		if msg.SenderID == requesterID {
			column = "deleted_for_sender"
		}
		res := s.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND "+column+" = ?", msg.ID, false).
			Update(column, true)
		if res.Error != nil {
			return nil, apperror.ErrStorage(errors.Wrap(res.Error, "message.Delete.Self"))
		}
		if res.RowsAffected > 0 {
			// Only the requester's other devices care.
			if name, err := channel.User(requesterID); err == nil {
				realtime.Notify(ctx, s.bus, name, realtime.EventMessageHidden, Deletion{
					MessageID: msg.ID,
					Scope:     ScopeSelf,
				})
			}
		}
	}

	return s.reload(ctx, msg)
}

// Conversation returns up to limit messages between viewerID and otherID,
// oldest first, older than beforeID when it is set. Messages the viewer
// hid are skipped. A message that fails to decrypt is returned with a
// placeholder instead of failing the page.
func (s *Service) Conversation(ctx context.Context, viewerID uint, otherID uint, limit int, beforeID uint) ([]View, error) {
	if viewerID == 0 || otherID == 0 {
		return nil, apperror.ErrInvalidID
	}
	limit = pageSize(limit)

	query := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ? AND deleted_for_sender = ?) OR (sender_id = ? AND receiver_id = ? AND deleted_for_receiver = ?)",
			viewerID, otherID, false, otherID, viewerID, false)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}

	var rows []model.Message
	if err := query.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "message.Conversation.Find"))
	}

	views := make([]View, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		views = append(views, s.reveal(&rows[i]))
	}
	return views, nil
}

// Conversations lists the latest visible message per partner, newest
// first, with the number of unread messages from that partner.
func (s *Service) Conversations(ctx context.Context, userID uint) ([]Dialog, error) {
	if userID == 0 {
		return nil, apperror.ErrInvalidID
	}

	var latest []uint
	// userID is an integer, so formatting it into the GROUP BY is safe.
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("(sender_id = ? AND deleted_for_sender = ?) OR (receiver_id = ? AND deleted_for_receiver = ?)",
			userID, false, userID, false).
		Group(groupByPartner(userID)).
		Pluck("MAX(id)", &latest).Error
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "message.Conversations.Latest"))
	}
	if len(latest) == 0 {
		return []Dialog{}, nil
	}

	var rows []model.Message
	if err := s.db.WithContext(ctx).Where("id IN ?", latest).Order("id desc").Find(&rows).Error; err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "message.Conversations.Find"))
	}

	var unread []struct {
		SenderID uint
		Count    int64
	}
	err = s.db.WithContext(ctx).Model(&model.Message{}).
		Select("sender_id, COUNT(*) AS count").
		Where("receiver_id = ? AND is_read = ? AND deleted_for_receiver = ?", userID, false, false).
		Group("sender_id").
		Scan(&unread).Error
	if err != nil {
		return nil, apperror.ErrStorage(errors.Wrap(err, "message.Conversations.Unread"))
	}
	counts := make(map[uint]int64, len(unread))
	for _, u := range unread {
		counts[u.SenderID] = u.Count
	}

	dialogs := make([]Dialog, 0, len(rows))
	for i := range rows {
		partner := rows[i].Partner(userID)
		dialogs = append(dialogs, Dialog{
			PartnerID:   partner,
			LastMessage: s.reveal(&rows[i]),
			UnreadCount: counts[partner],
		})
	}
	return dialogs, nil
}

// Inspect returns a message row for moderation regardless of who hid it.
func (s *Service) Inspect(ctx context.Context, messageID uint) (*Inspection, error) {
	msg, err := s.find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	text, ok := s.cipher.Reveal(msg.Content, msg.IsEncrypted)
	return &Inspection{
		View:               toView(msg, text),
		DeletedForSender:   msg.DeletedForSender,
		DeletedForReceiver: msg.DeletedForReceiver,
		Decrypted:          ok,
	}, nil
}

func (s *Service) find(ctx context.Context, messageID uint) (*model.Message, error) {
	if messageID == 0 {
		return nil, apperror.ErrInvalidID
	}
	msg := new(model.Message)
	if err := s.db.WithContext(ctx).First(msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrMessageNotFound
		}
		return nil, apperror.ErrStorage(errors.Wrap(err, "message.find"))
	}
	return msg, nil
}

func (s *Service) findForRecipient(ctx context.Context, messageID uint, recipientID uint) (*model.Message, error) {
	msg, err := s.find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != recipientID {
		if msg.SenderID == recipientID {
			return nil, apperror.Forbidden("only the recipient can acknowledge a message")
		}
		return nil, apperror.ErrNotMessageMember
	}
	return msg, nil
}

func (s *Service) reload(ctx context.Context, msg *model.Message) (*View, error) {
	fresh, err := s.find(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	view := s.reveal(fresh)
	return &view, nil
}

func (s *Service) reveal(msg *model.Message) View {
	text, ok := s.cipher.Reveal(msg.Content, msg.IsEncrypted)
	if !ok {
		logger.Warning("message %d could not be decrypted", msg.ID)
	}
	return toView(msg, text)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func toView(msg *model.Message, content string) View {
	return View{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		ReceiverID:  msg.ReceiverID,
		Content:     content,
		MediaURL:    msg.MediaURL,
		MessageType: msg.MessageType,
		ReplyToID:   msg.ReplyToID,
		IsEncrypted: msg.IsEncrypted,
		IsDelivered: msg.IsDelivered,
		DeliveredAt: msg.DeliveredAt,
		IsRead:      msg.IsRead,
		ReadAt:      msg.ReadAt,
		IsDeleted:   msg.IsDeleted,
		CreatedAt:   msg.CreatedAt,
	}
}

func readUpdates(now time.Time) map[string]any {
	return map[string]any{
		"is_read":      true,
		"read_at":      now,
		"is_delivered": true,
		"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", now),
	}
}

func groupByPartner(userID uint) string {
	return fmt.Sprintf("CASE WHEN sender_id = %d THEN receiver_id ELSE sender_id END", userID)
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
