package models

import (
	"time"
)

const (
	MaxMessageLength  = 5000
	MaxReactionLength = 32
)

type Message struct {
	ID        uint       `gorm:"primaryKey"`
	RoomID    uint       `gorm:"not null;index:idx_messages_room_created,priority:1"`
	UserID    uint       `gorm:"not null;index"`
	Content   string     `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time  `gorm:"not null;index:idx_messages_room_created,priority:2"`
	EditedAt  *time.Time
	ReplyToID *uint `gorm:"index"`

	Room      Room              `gorm:"constraint:OnDelete:CASCADE"`
	User      User              `gorm:"constraint:OnDelete:CASCADE"`
	ReplyTo   *Message          `gorm:"foreignKey:ReplyToID;constraint:OnDelete:SET NULL"`
	Media     []MessageMedia    `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	Reactions []MessageReaction `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

// MessageMedia with a nil MessageID is orphaned and may be attached once.
type MessageMedia struct {
	ID         uint   `gorm:"primaryKey"`
	MessageID  *uint  `gorm:"index"`
	UploaderID uint   `gorm:"not null;index"`
	File       string `gorm:"type:varchar(512);not null"`
	CreatedAt  time.Time
}

// MessageReaction holds at most one reaction per user per message.
type MessageReaction struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"not null;uniqueIndex:idx_reaction_message_user"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_reaction_message_user"`
	Value     string `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	User User `gorm:"constraint:OnDelete:CASCADE"`
}

func (m *Message) HasMedia() bool {
	return len(m.Media) > 0
}
