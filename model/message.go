package model

import "time"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

// IsMessageType reports whether t is one of the known message types.
func IsMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// Tombstone replaces the content of a message deleted for everyone.
const Tombstone = "This message was deleted"

// Message is a private message. Rows are never removed: deleting for
// everyone swaps the content for Tombstone, deleting for one side sets
// that side's visibility flag.
type Message struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	SenderID           uint       `gorm:"not null;index:idx_messages_pair,priority:1" json:"senderId"`
	ReceiverID         uint       `gorm:"not null;index:idx_messages_pair,priority:2;index" json:"receiverId"`
	Sender             User       `gorm:"foreignKey:SenderID" json:"-"`
	Receiver           User       `gorm:"foreignKey:ReceiverID" json:"-"`
	Content            string     `gorm:"type:text;not null;default:''" json:"content"`
	MediaURL           string     `gorm:"not null;default:''" json:"mediaUrl"`
	MessageType        string     `gorm:"not null;default:'text'" json:"messageType"`
	ReplyToID          *uint      `json:"replyToId"`
	IsEncrypted        bool       `gorm:"not null;default:false" json:"isEncrypted"`
	IsDelivered        bool       `gorm:"not null;default:false" json:"isDelivered"`
	DeliveredAt        *time.Time `json:"deliveredAt"`
	IsRead             bool       `gorm:"not null;default:false" json:"isRead"`
	ReadAt             *time.Time `json:"readAt"`
	IsDeleted          bool       `gorm:"not null;default:false" json:"isDeleted"`
	DeletedForSender   bool       `gorm:"not null;default:false" json:"-"`
	DeletedForReceiver bool       `gorm:"not null;default:false" json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Involves reports whether userID is the sender or the receiver.
func (m *Message) Involves(userID uint) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Partner returns the other side of the conversation as seen by userID.
func (m *Message) Partner(userID uint) uint {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// HiddenFor reports whether userID deleted the message for themselves.
func (m *Message) HiddenFor(userID uint) bool {
	return (m.SenderID == userID && m.DeletedForSender) ||
		(m.ReceiverID == userID && m.DeletedForReceiver)
}
