package model

import "time"

type GroupPresence struct {
	GroupID    uint      `gorm:"primaryKey" json:"groupId"`
	UserID     uint      `gorm:"primaryKey" json:"userId"`
	User       User      `gorm:"foreignKey:UserID" json:"-"`
	IsOnline   bool      `gorm:"not null;default:false" json:"isOnline"`
	LastActive time.Time `gorm:"not null;index" json:"lastActive"`
	SessionID  string    `gorm:"not null;default:''" json:"sessionId"`
}

// TableName keeps the table name readable; the default would be
// group_presences.
func (GroupPresence) TableName() string {
	return "group_presence"
}
