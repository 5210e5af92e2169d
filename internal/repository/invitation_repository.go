package repository

import (
	"context"
	"fmt"

	"github.com/Baaaki/roomcast/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvitationRepository struct {
	db *gorm.DB
}

func NewInvitationRepository(db *gorm.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

func (r *InvitationRepository) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(inv).Error; err != nil {
		return fmt.Errorf("repository.CreateInvitation: %w", err)
	}
	return nil
}

func (r *InvitationRepository) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	var inv models.Invitation
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&inv).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.GetInvitationByToken: %w", err)
	}
	return &inv, nil
}
