package models

type RiskRule struct {
	RuleID      int64  `gorm:"column:rule_id;primaryKey" json:"rule_id"`
	Keyword     string `gorm:"column:keyword;type:varchar(100)" json:"keyword"`
	RiskLevel   string `gorm:"column:risk_level;type:varchar(20)" json:"risk_level"`
	Action      string `gorm:"column:action;type:varchar(20)" json:"action"`
	Description string `gorm:"column:description;type:text" json:"description"`
	IsActive    bool   `gorm:"column:is_active" json:"is_active"`
}

func (RiskRule) TableName() string { return "risk_rules" }
