package postgres

import (
	"context"
	"time"

	"github.com/yoockh/callguard/internal/models"
	"gorm.io/gorm"
)

// AuditRepository is append-only; there is no update path.
type AuditRepository interface {
	Append(ctx context.Context, rec *models.MessageLog) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.MessageLog, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditRepo struct {
	db *gorm.DB
}

func NewAuditRepo(db *gorm.DB) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Append(ctx context.Context, rec *models.MessageLog) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *auditRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]models.MessageLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.MessageLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *auditRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.MessageLog{})
	return res.RowsAffected, res.Error
}
