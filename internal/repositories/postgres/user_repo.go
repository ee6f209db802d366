package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
	"gorm.io/gorm"
)

type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (*models.User, error)
	// FamilyMembers lists active members of familyID other than excludeUserID.
	FamilyMembers(ctx context.Context, familyID, excludeUserID int64) ([]models.User, error)
}

type userRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &u, err
}

func (r *userRepo) FamilyMembers(ctx context.Context, familyID, excludeUserID int64) ([]models.User, error) {
	var rows []models.User
	err := r.db.WithContext(ctx).
		Where("family_id = ? AND user_id <> ? AND is_active = ?", familyID, excludeUserID, true).
		Order("user_id").
		Find(&rows).Error
	return rows, err
}
