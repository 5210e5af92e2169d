package models

import (
	"fmt"
	"time"
)

type Room struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	AvatarURL   string    `gorm:"type:varchar(512)" json:"avatar"`
	IsPrivate   bool      `gorm:"not null;default:false" json:"is_private"`
	IsDM        bool      `gorm:"not null;default:false;index" json:"is_dm"`
	DMKey       *string   `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	OwnerID     *uint     `gorm:"index" json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`

	Owner *User `gorm:"foreignKey:OwnerID;constraint:OnDelete:SET NULL" json:"-"`
}

// DMKeyFor returns the key identifying the DM room between two users,
// independent of argument order.
func DMKeyFor(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (r *Room) IsOwnedBy(userID uint) bool {
	return r.OwnerID != nil && *r.OwnerID == userID
}

type Membership struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;uniqueIndex:idx_membership_user_room" json:"user_id"`
	RoomID     uint       `gorm:"not null;uniqueIndex:idx_membership_user_room;index" json:"room_id"`
	IsAdmin    bool       `gorm:"not null;default:false" json:"is_admin"`
	LastReadAt *time.Time `json:"last_read_at"`
	CreatedAt  time.Time  `gorm:"index" json:"joined_at"`

	User User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Room Room `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

type Invitation struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RoomID    uint      `gorm:"not null;index" json:"room_id"`
	CreatorID uint      `gorm:"not null" json:"creator_id"`
	Token     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`

	Room Room `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
