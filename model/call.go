package model

import "time"

const (
	CallTypeVoice = "voice"
	CallTypeVideo = "video"
)

type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallConnected CallStatus = "connected"
	CallRejected  CallStatus = "rejected"
	CallEnded     CallStatus = "ended"
	CallMissed    CallStatus = "missed"
)

type Call struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	CallerID       uint       `gorm:"not null;index" json:"callerId"`
	ReceiverID     uint       `gorm:"not null;index" json:"receiverId"`
	Caller         User       `gorm:"foreignKey:CallerID" json:"-"`
	Receiver       User       `gorm:"foreignKey:ReceiverID" json:"-"`
	CallType       string     `gorm:"not null;default:'voice'" json:"callType"`
	Status         CallStatus `gorm:"not null;default:'ringing';index" json:"status"`
	CallerPeerID   string     `gorm:"not null" json:"callerPeerId"`
	ReceiverPeerID string     `gorm:"not null;default:''" json:"receiverPeerId"`
	StartedAt      *time.Time `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt"`
	// Duration in seconds, fixed when the call reaches a terminal state.
	Duration  int       `gorm:"not null;default:0" json:"duration"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Call) Involves(userID uint) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

// Other returns the participant that is not userID.
func (c *Call) Other(userID uint) uint {
	if c.CallerID == userID {
		return c.ReceiverID
	}
	return c.CallerID
}
