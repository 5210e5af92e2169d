package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Baaaki/roomcast/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// withView preloads everything needed to render a message to clients.
func withView(db *gorm.DB) *gorm.DB {
	return db.
		Preload("User.Profile").
		Preload("ReplyTo.User").
		Preload("Media", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Reactions.User")
}

func (r *MessageRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(msg).Error; err != nil {
		return fmt.Errorf("repository.CreateMessage: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := withView(r.db.WithContext(ctx)).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetMessage: %w", err)
	}
	return &msg, nil
}

// ListMessages returns up to limit messages of a room, newest first. When
// before is set only messages strictly older than it are returned.
func (r *MessageRepository) ListMessages(ctx context.Context, roomID uint, before *models.Message, limit int) ([]models.Message, error) {
	var msgs []models.Message
	query := withView(r.db.WithContext(ctx)).Where("room_id = ?", roomID)
	if before != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", before.CreatedAt, before.CreatedAt, before.ID)
	}
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("repository.ListMessages: %w", err)
	}
	return msgs, nil
}

// LatestMessage returns the most recent message of a room, or nil when empty.
func (r *MessageRepository) LatestMessage(ctx context.Context, roomID uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("User").
		Preload("Media").
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.LatestMessage: %w", err)
	}
	return &msg, nil
}

// LatestTimestamp returns the creation time of the newest message in a room.
func (r *MessageRepository) LatestTimestamp(ctx context.Context, roomID uint) (time.Time, bool, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Select("created_at").
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		First(&msg).Error
	if err != nil {
		if notFound(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("repository.LatestTimestamp: %w", err)
	}
	return msg.CreatedAt, true, nil
}

// AttachMedia links orphaned media to a message. Media already linked to a
// message, or uploaded by someone else, is left untouched.
func (r *MessageRepository) AttachMedia(ctx context.Context, messageID, uploaderID uint, mediaIDs []uint) (int64, error) {
	if len(mediaIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.MessageMedia{}).
		Where("id IN ? AND message_id IS NULL AND uploader_id = ?", mediaIDs, uploaderID).
		Update("message_id", messageID)
	if res.Error != nil {
		return 0, fmt.Errorf("repository.AttachMedia: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *MessageRepository) CreateMedia(ctx context.Context, media *models.MessageMedia) error {
	if err := r.db.WithContext(ctx).Create(media).Error; err != nil {
		return fmt.Errorf("repository.CreateMedia: %w", err)
	}
	return nil
}

func (r *MessageRepository) UpdateContent(ctx context.Context, id uint, content string, editedAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"content": content, "edited_at": editedAt}).Error
	if err != nil {
		return fmt.Errorf("repository.UpdateContent: %w", err)
	}
	return nil
}

// DeleteMessage removes a message with its media and reactions. Replies to it
// keep existing with reply_to cleared.
func (r *MessageRepository) DeleteMessage(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Message{}).Where("reply_to_id = ?", id).Update("reply_to_id", nil).Error; err != nil {
		return fmt.Errorf("repository.DeleteMessage replies: %w", err)
	}
	if err := db.Where("message_id = ?", id).Delete(&models.MessageReaction{}).Error; err != nil {
		return fmt.Errorf("repository.DeleteMessage reactions: %w", err)
	}
	if err := db.Where("message_id = ?", id).Delete(&models.MessageMedia{}).Error; err != nil {
		return fmt.Errorf("repository.DeleteMessage media: %w", err)
	}
	if err := db.Delete(&models.Message{}, id).Error; err != nil {
		return fmt.Errorf("repository.DeleteMessage: %w", err)
	}
	return nil
}

// CountUnread counts messages by other users newer than since. A nil since
// counts every message by other users.
func (r *MessageRepository) CountUnread(ctx context.Context, roomID, userID uint, since *time.Time) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Message{}).Where("room_id = ? AND user_id <> ?", roomID, userID)
	if since != nil {
		query = query.Where("created_at > ?", *since)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("repository.CountUnread: %w", err)
	}
	return count, nil
}

// UpsertReaction sets the user's single reaction slot on a message.
func (r *MessageRepository) UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error {
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(reaction).Error
	if err != nil {
		return fmt.Errorf("repository.UpsertReaction: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetReaction(ctx context.Context, id uint) (*models.MessageReaction, error) {
	var reaction models.MessageReaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&reaction).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetReaction: %w", err)
	}
	return &reaction, nil
}

func (r *MessageRepository) GetUserReaction(ctx context.Context, messageID, userID uint) (*models.MessageReaction, error) {
	var reaction models.MessageReaction
	err := r.db.WithContext(ctx).Where("message_id = ? AND user_id = ?", messageID, userID).First(&reaction).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetUserReaction: %w", err)
	}
	return &reaction, nil
}

func (r *MessageRepository) UpdateReaction(ctx context.Context, id uint, value string) error {
	err := r.db.WithContext(ctx).Model(&models.MessageReaction{}).Where("id = ?", id).Update("value", value).Error
	if err != nil {
		return fmt.Errorf("repository.UpdateReaction: %w", err)
	}
	return nil
}

func (r *MessageRepository) DeleteReaction(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.MessageReaction{}, id).Error; err != nil {
		return fmt.Errorf("repository.DeleteReaction: %w", err)
	}
	return nil
}
