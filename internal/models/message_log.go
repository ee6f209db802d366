package models

import (
	"time"

	"gorm.io/datatypes"
)

// MessageLog is the durable audit record of one alert decision. Rows are only
// ever inserted; retention deletes whole rows past the horizon.
type MessageLog struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID      int64          `gorm:"column:user_id;index" json:"user_id"`
	CallID      int64          `gorm:"column:call_id;index" json:"call_id"`
	Type        string         `gorm:"column:type;type:varchar(20)" json:"type"`         // alert|info|control
	MsgType     string         `gorm:"column:msg_type;type:varchar(20)" json:"msg_type"` // audio|video|text|rule
	RiskLevel   string         `gorm:"column:risk_level;type:varchar(20)" json:"risk_level"`
	DisplayMode string         `gorm:"column:display_mode;type:varchar(10)" json:"display_mode"`
	Title       string         `gorm:"column:title;type:varchar(100)" json:"title"`
	Content     string         `gorm:"column:content;type:text" json:"content"`
	Confidence  float64        `gorm:"column:confidence" json:"confidence"`
	Details     datatypes.JSON `gorm:"column:details;type:jsonb" json:"details,omitempty"`
	IsRead      bool           `gorm:"column:is_read" json:"is_read"`
	CreatedAt   time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (MessageLog) TableName() string { return "message_logs" }
