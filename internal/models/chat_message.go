package models

import (
	"fmt"
	"time"
)

// MessageStatus is the lifecycle state of a persisted message.
type MessageStatus string

const (
	StatusSent MessageStatus = "sent"
	StatusRead MessageStatus = "read"
)

// ChatMessage represents a saved chat message in the message log.
// ID, FromUserID, ToUserID and CreatedAt never change after creation;
// Status only moves from sent to read.
type ChatMessage struct {
	// ID is assigned by the store and increases strictly within a channel.
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	// SpaceID is the shared space both participants belong to.
	SpaceID int64 `gorm:"not null;index" json:"spaceId"`
	// ChannelKey identifies the unordered pair of participants.
	ChannelKey string `gorm:"type:varchar(64);not null;index:idx_channel_msg,priority:1" json:"-"`
	FromUserID int64  `gorm:"not null" json:"fromUserId"`
	ToUserID   int64  `gorm:"not null;index:idx_recipient_status,priority:1" json:"toUserId"`
	// Type is the client-defined payload kind ("text", "image", "audio", ...).
	Type     string  `gorm:"type:varchar(32);not null" json:"type"`
	Content  *string `gorm:"type:text" json:"content"`
	MediaURL *string `gorm:"type:text" json:"mediaUrl"`
	// Extra holds opaque client metadata as raw JSON text.
	Extra     *string       `gorm:"type:text" json:"-"`
	Status    MessageStatus `gorm:"type:varchar(16);not null;default:sent;index:idx_recipient_status,priority:2" json:"status"`
	CreatedAt time.Time     `gorm:"not null" json:"createdAt"`
}

// TableName pins the table name regardless of the naming strategy.
func (ChatMessage) TableName() string { return "chat_messages" }

// Channel is the symmetric two-party conversation between A and B.
// A is always the smaller id, so ChannelOf(x, y) == ChannelOf(y, x).
type Channel struct {
	A int64
	B int64
}

// ChannelOf normalizes a user pair into a Channel.
func ChannelOf(userID, otherID int64) Channel {
	if userID > otherID {
		userID, otherID = otherID, userID
	}
	return Channel{A: userID, B: otherID}
}

// Key is the value stored in ChatMessage.ChannelKey.
func (c Channel) Key() string {
	return fmt.Sprintf("%d:%d", c.A, c.B)
}

// Includes reports whether userID is one of the two participants.
func (c Channel) Includes(userID int64) bool {
	return c.A == userID || c.B == userID
}
