package postgres

import (
	"context"

	"github.com/yoockh/callguard/internal/models"
	"gorm.io/gorm"
)

type RiskRuleRepository interface {
	ListActive(ctx context.Context) ([]models.RiskRule, error)
}

type riskRuleRepo struct {
	db *gorm.DB
}

func NewRiskRuleRepo(db *gorm.DB) RiskRuleRepository {
	return &riskRuleRepo{db: db}
}

func (r *riskRuleRepo) ListActive(ctx context.Context) ([]models.RiskRule, error) {
	var rows []models.RiskRule
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("rule_id").
		Find(&rows).Error
	return rows, err
}
