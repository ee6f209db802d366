package postgres

import (
	"context"
	"time"

	"github.com/yoockh/callguard/internal/models"
	"gorm.io/gorm"
)

type DetectionRepository interface {
	Insert(ctx context.Context, log *models.DetectionLog) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type detectionRepo struct {
	db *gorm.DB
}

func NewDetectionRepo(db *gorm.DB) DetectionRepository {
	return &detectionRepo{db: db}
}

func (r *detectionRepo) Insert(ctx context.Context, log *models.DetectionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *detectionRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.DetectionLog{})
	return res.RowsAffected, res.Error
}
