package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Baaaki/roomcast/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) GetMembership(ctx context.Context, userID, roomID uint) (*models.Membership, error) {
	var m models.Membership
	err := r.db.WithContext(ctx).Where("user_id = ? AND room_id = ?", userID, roomID).First(&m).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetMembership: %w", err)
	}
	return &m, nil
}

// UpsertMembership creates the (user, room) membership if it does not exist.
// The returned bool reports whether a row was created.
func (r *MembershipRepository) UpsertMembership(ctx context.Context, m *models.Membership) (*models.Membership, bool, error) {
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
			DoNothing: true,
		}).
		Create(m)
	if res.Error != nil {
		return nil, false, fmt.Errorf("repository.UpsertMembership: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return m, true, nil
	}

	existing, err := r.GetMembership(ctx, m.UserID, m.RoomID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *MembershipRepository) ListRoomIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Membership{}).
		Where("user_id = ?", userID).
		Order("room_id ASC").
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("repository.ListRoomIDsForUser: %w", err)
	}
	return ids, nil
}

// ListMembers returns memberships of a room in join order.
func (r *MembershipRepository) ListMembers(ctx context.Context, roomID uint) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.WithContext(ctx).
		Preload("User.Profile").
		Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("repository.ListMembers: %w", err)
	}
	return members, nil
}

// FindSuccessor picks the member who inherits ownership: the earliest-joined
// admin, otherwise the earliest-joined member. Returns nil if nobody else is left.
func (r *MembershipRepository) FindSuccessor(ctx context.Context, roomID, leavingUserID uint) (*models.Membership, error) {
	var m models.Membership
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id <> ?", roomID, leavingUserID).
		Order("is_admin DESC, created_at ASC, id ASC").
		First(&m).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.FindSuccessor: %w", err)
	}
	return &m, nil
}

func (r *MembershipRepository) CountMembers(ctx context.Context, roomID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Membership{}).Where("room_id = ?", roomID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("repository.CountMembers: %w", err)
	}
	return count, nil
}

func (r *MembershipRepository) SetLastRead(ctx context.Context, membershipID uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Membership{}).Where("id = ?", membershipID).Update("last_read_at", at).Error
	if err != nil {
		return fmt.Errorf("repository.SetLastRead: %w", err)
	}
	return nil
}

func (r *MembershipRepository) SetAdmin(ctx context.Context, membershipID uint, isAdmin bool) error {
	err := r.db.WithContext(ctx).Model(&models.Membership{}).Where("id = ?", membershipID).Update("is_admin", isAdmin).Error
	if err != nil {
		return fmt.Errorf("repository.SetAdmin: %w", err)
	}
	return nil
}

func (r *MembershipRepository) DeleteMembership(ctx context.Context, membershipID uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Membership{}, membershipID).Error; err != nil {
		return fmt.Errorf("repository.DeleteMembership: %w", err)
	}
	return nil
}
