package model

import "time"

const (
	GroupRoleOwner  = "owner"
	GroupRoleAdmin  = "admin"
	GroupRoleMember = "member"
)

type Group struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Name      string        `gorm:"not null" json:"name"`
	OwnerID   uint          `gorm:"not null" json:"ownerId"`
	Members   []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type GroupMember struct {
	GroupID  uint      `gorm:"primaryKey" json:"groupId"`
	UserID   uint      `gorm:"primaryKey" json:"userId"`
	User     User      `gorm:"foreignKey:UserID" json:"-"`
	Role     string    `gorm:"not null;default:'member'" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joinedAt"`
}

// CanModerate reports whether the member may pin or remove other members'
// messages.
func (m *GroupMember) CanModerate() bool {
	return m.Role == GroupRoleOwner || m.Role == GroupRoleAdmin
}

type GroupMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	GroupID     uint      `gorm:"not null;index" json:"groupId"`
	SenderID    uint      `gorm:"not null" json:"senderId"`
	Sender      User      `gorm:"foreignKey:SenderID" json:"-"`
	Content     string    `gorm:"type:text;not null;default:''" json:"content"`
	MediaURL    string    `gorm:"not null;default:''" json:"mediaUrl"`
	MessageType string    `gorm:"not null;default:'text'" json:"messageType"`
	ReplyToID   *uint     `gorm:"index" json:"replyToId"`
	IsEncrypted bool      `gorm:"not null;default:false" json:"isEncrypted"`
	IsDeleted   bool      `gorm:"not null;default:false" json:"isDeleted"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PinnedMessage struct {
	MessageID uint      `gorm:"primaryKey" json:"messageId"`
	GroupID   uint      `gorm:"primaryKey" json:"groupId"`
	PinnedBy  uint      `gorm:"not null" json:"pinnedBy"`
	PinnedAt  time.Time `json:"pinnedAt"`
}
