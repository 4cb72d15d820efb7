package models

import "time"

// SpaceMember links a user to a shared space. The pairing itself is managed
// outside this service; the chat backend only reads these rows.
type SpaceMember struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	SpaceID  int64     `gorm:"not null;index"`
	UserID   int64     `gorm:"not null;index"`
	Role     string    `gorm:"type:varchar(16)"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

func (SpaceMember) TableName() string { return "space_members" }
