package models

import (
	"time"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"type:varchar(150);uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"type:varchar(254)" json:"email,omitempty"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"` // Never expose password hash in JSON
	IsSuperuser  bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Profile *Profile `gorm:"constraint:OnDelete:CASCADE" json:"profile,omitempty"`
}

// Profile is created together with its User, never lazily.
type Profile struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	UserID    uint   `gorm:"uniqueIndex;not null" json:"-"`
	Bio       string `gorm:"type:varchar(128)" json:"bio"`
	AvatarURL string `gorm:"type:varchar(512)" json:"avatar"`
}

// Identity is the authenticated caller as seen by services.
type Identity struct {
	UserID      uint
	Username    string
	IsSuperuser bool
}

func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username, IsSuperuser: u.IsSuperuser}
}

func (u *User) Avatar() string {
	if u.Profile == nil {
		return ""
	}
	return u.Profile.AvatarURL
}
