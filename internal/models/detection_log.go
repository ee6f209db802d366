package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type DetectionLog struct {
	LogID        int64          `gorm:"column:log_id;primaryKey;autoIncrement" json:"log_id"`
	CallID       int64          `gorm:"column:call_id;index" json:"call_id"`
	JobID        string         `gorm:"column:job_id;type:varchar(36)" json:"job_id"`
	Modality     string         `gorm:"column:modality;type:varchar(10)" json:"modality"`
	IsPositive   bool           `gorm:"column:is_positive" json:"is_positive"`
	Confidence   float64        `gorm:"column:confidence" json:"confidence"`
	RiskLevel    string         `gorm:"column:risk_level;type:varchar(20)" json:"risk_level"`
	ModelVersion string         `gorm:"column:model_version;type:varchar(50)" json:"model_version"`
	Keywords     pq.StringArray `gorm:"column:keywords;type:text[]" json:"keywords,omitempty"`
	Raw          datatypes.JSON `gorm:"column:raw;type:jsonb" json:"raw,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (DetectionLog) TableName() string { return "ai_detection_logs" }
