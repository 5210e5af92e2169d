package repository

import (
	"context"
	"fmt"

	"github.com/Baaaki/roomcast/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts the user and its profile. Callers wanting atomicity run
// it inside Repositories.Transaction.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User, profile *models.Profile) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(user).Error; err != nil {
		return fmt.Errorf("repository.CreateUser: %w", err)
	}
	profile.UserID = user.ID
	if err := db.Create(profile).Error; err != nil {
		return fmt.Errorf("repository.CreateUser profile: %w", err)
	}
	user.Profile = profile
	return nil
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Profile").Where("username = ?", username).First(&user).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetUserByUsername: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Profile").Where("id = ?", id).First(&user).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetUserByID: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("repository.UsernameExists: %w", err)
	}
	return count > 0, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID uint, bio, avatarURL *string) error {
	updates := map[string]interface{}{}
	if bio != nil {
		updates["bio"] = *bio
	}
	if avatarURL != nil {
		updates["avatar_url"] = *avatarURL
	}
	if len(updates) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("repository.UpdateProfile: %w", err)
	}
	return nil
}
