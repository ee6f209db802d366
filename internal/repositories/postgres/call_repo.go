package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CallRepository interface {
	GetByID(ctx context.Context, callID int64) (*models.CallRecord, error)
	// EnsurePlaceholder creates a minimal call record when none exists.
	// created is true only for the writer that inserted the row.
	EnsurePlaceholder(ctx context.Context, callID, userID int64) (created bool, err error)
	SetDetectedResult(ctx context.Context, callID int64, result string) error
}

type callRepo struct {
	db *gorm.DB
}

func NewCallRepo(db *gorm.DB) CallRepository {
	return &callRepo{db: db}
}

func (r *callRepo) GetByID(ctx context.Context, callID int64) (*models.CallRecord, error) {
	var c models.CallRecord
	err := r.db.WithContext(ctx).Where("call_id = ?", callID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &c, err
}

func (r *callRepo) EnsurePlaceholder(ctx context.Context, callID, userID int64) (bool, error) {
	if _, err := r.GetByID(ctx, callID); err == nil {
		return false, nil
	} else if !errors.Is(err, utils.ErrNotFound) {
		return false, err
	}

	now := time.Now().UTC()
	row := &models.CallRecord{
		CallID:         callID,
		UserID:         userID,
		Platform:       models.PlatformOther,
		StartTime:      now,
		DetectedResult: models.DetectedSafe,
		Placeholder:    true,
		CreatedAt:      now,
	}
	res := insertPlaceholder(r.db.WithContext(ctx), row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// insertPlaceholder inserts row unless call_id already exists. A concurrent
// first job may insert between EnsurePlaceholder's read and here; the
// conflict clause turns the second insert into a no-op with zero rows affected.
func insertPlaceholder(db *gorm.DB, row *models.CallRecord) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoNothing: true,
	}).Create(row)
}

func (r *callRepo) SetDetectedResult(ctx context.Context, callID int64, result string) error {
	return r.db.WithContext(ctx).
		Model(&models.CallRecord{}).
		Where("call_id = ?", callID).
		Update("detected_result", result).Error
}
