package repository

import (
	"context"
	"fmt"

	"github.com/Baaaki/roomcast/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func (r *RoomRepository) CreateRoom(ctx context.Context, room *models.Room) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(room).Error; err != nil {
		return fmt.Errorf("repository.CreateRoom: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	return r.first(ctx, "repository.GetRoom", "id = ?", id)
}

func (r *RoomRepository) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	return r.first(ctx, "repository.GetRoomByName", "name = ?", name)
}

func (r *RoomRepository) GetDMRoom(ctx context.Context, key string) (*models.Room, error) {
	return r.first(ctx, "repository.GetDMRoom", "dm_key = ?", key)
}

func (r *RoomRepository) first(ctx context.Context, op, query string, args ...interface{}) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Where(query, args...).First(&room).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &room, nil
}

// ListBrowsableRooms returns public rooms plus every room the user belongs to.
// userID 0 means an anonymous caller and yields public rooms only.
func (r *RoomRepository) ListBrowsableRooms(ctx context.Context, userID uint) ([]models.Room, error) {
	var rooms []models.Room
	db := r.db.WithContext(ctx)
	query := db.Where("is_private = ?", false)
	if userID != 0 {
		member := r.db.Model(&models.Membership{}).Select("room_id").Where("user_id = ?", userID)
		query = db.Where("is_private = ? OR id IN (?)", false, member)
	}
	if err := query.Order("id ASC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("repository.ListBrowsableRooms: %w", err)
	}
	return rooms, nil
}

func (r *RoomRepository) UpdateOwner(ctx context.Context, roomID uint, ownerID *uint) error {
	err := r.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", roomID).Update("owner_id", ownerID).Error
	if err != nil {
		return fmt.Errorf("repository.UpdateOwner: %w", err)
	}
	return nil
}

// DeleteRoom removes the room and everything it owns, children first.
func (r *RoomRepository) DeleteRoom(ctx context.Context, roomID uint) error {
	db := r.db.WithContext(ctx)
	messageIDs := r.db.Model(&models.Message{}).Select("id").Where("room_id = ?", roomID)

	steps := []struct {
		name string
		run  func() error
	}{
		{"reactions", func() error {
			return db.Where("message_id IN (?)", messageIDs).Delete(&models.MessageReaction{}).Error
		}},
		{"media", func() error {
			return db.Where("message_id IN (?)", messageIDs).Delete(&models.MessageMedia{}).Error
		}},
		{"replies", func() error {
			return db.Model(&models.Message{}).Where("room_id = ?", roomID).Update("reply_to_id", nil).Error
		}},
		{"messages", func() error {
			return db.Where("room_id = ?", roomID).Delete(&models.Message{}).Error
		}},
		{"invitations", func() error {
			return db.Where("room_id = ?", roomID).Delete(&models.Invitation{}).Error
		}},
		{"memberships", func() error {
			return db.Where("room_id = ?", roomID).Delete(&models.Membership{}).Error
		}},
		{"room", func() error {
			return db.Delete(&models.Room{}, roomID).Error
		}},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("repository.DeleteRoom %s: %w", step.name, err)
		}
	}
	return nil
}
