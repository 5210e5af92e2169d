package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repositories groups the storage collaborators so a service can run
// several of them inside one transaction.
type Repositories struct {
	db          *gorm.DB
	Users       *UserRepository
	Rooms       *RoomRepository
	Memberships *MembershipRepository
	Messages    *MessageRepository
	Invitations *InvitationRepository
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		db:          db,
		Users:       NewUserRepository(db),
		Rooms:       NewRoomRepository(db),
		Memberships: NewMembershipRepository(db),
		Messages:    NewMessageRepository(db),
		Invitations: NewInvitationRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single transaction.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// notFound turns gorm's not-found error into a nil result.
func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
