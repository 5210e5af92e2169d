package testutil

import (
	"testing"
	"time"

	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/utils"
	"gorm.io/gorm"
)

// fixtureHash is not a valid argon2 hash; fixtures that need to log in use
// CreateUserWithPassword.
const fixtureHash = "fixture"

func CreateUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	return createUser(t, db, username, fixtureHash, false)
}

func CreateSuperuser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	return createUser(t, db, username, fixtureHash, true)
}

func CreateUserWithPassword(t *testing.T, db *gorm.DB, username, password string) *models.User {
	t.Helper()
	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	return createUser(t, db, username, hash, false)
}

func createUser(t *testing.T, db *gorm.DB, username, hash string, superuser bool) *models.User {
	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		IsSuperuser:  superuser,
	}
	if err := db.Omit("Profile").Create(user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	profile := &models.Profile{UserID: user.ID}
	if err := db.Create(profile).Error; err != nil {
		t.Fatalf("Failed to create profile for %s: %v", username, err)
	}
	user.Profile = profile
	return user
}

// CreateRoom creates a group room owned by owner, with owner as first member.
func CreateRoom(t *testing.T, db *gorm.DB, name string, owner *models.User, private bool) *models.Room {
	t.Helper()
	room := &models.Room{Name: name, IsPrivate: private, OwnerID: &owner.ID}
	if err := db.Omit("Owner").Create(room).Error; err != nil {
		t.Fatalf("Failed to create room %s: %v", name, err)
	}
	AddMember(t, db, room, owner, false)
	return room
}

func AddMember(t *testing.T, db *gorm.DB, room *models.Room, user *models.User, admin bool) *models.Membership {
	t.Helper()
	m := &models.Membership{UserID: user.ID, RoomID: room.ID, IsAdmin: admin}
	if err := db.Omit("User", "Room").Create(m).Error; err != nil {
		t.Fatalf("Failed to add %s to room %d: %v", user.Username, room.ID, err)
	}
	return m
}

// CreateMessage inserts a message directly, bypassing the pipeline.
func CreateMessage(t *testing.T, db *gorm.DB, room *models.Room, author *models.User, content string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{RoomID: room.ID, UserID: author.ID, Content: content, CreatedAt: at.UTC()}
	if err := db.Omit("Room", "User", "ReplyTo", "Media", "Reactions").Create(msg).Error; err != nil {
		t.Fatalf("Failed to create message: %v", err)
	}
	return msg
}

func CreateOrphanMedia(t *testing.T, db *gorm.DB, uploader *models.User, file string) *models.MessageMedia {
	t.Helper()
	media := &models.MessageMedia{UploaderID: uploader.ID, File: file}
	if err := db.Create(media).Error; err != nil {
		t.Fatalf("Failed to create media: %v", err)
	}
	return media
}
