package models

import "time"

const (
	PlatformPhone = "phone"
	PlatformOther = "other"

	DetectedSafe       = "safe"
	DetectedSuspicious = "suspicious"
	DetectedFake       = "fake"
)

type CallRecord struct {
	CallID         int64      `gorm:"column:call_id;primaryKey;autoIncrement:false" json:"call_id"`
	UserID         int64      `gorm:"column:user_id;index" json:"user_id"`
	CallerNumber   string     `gorm:"column:caller_number;type:varchar(20)" json:"caller_number,omitempty"`
	Platform       string     `gorm:"column:platform;type:varchar(20)" json:"platform"`
	StartTime      time.Time  `gorm:"column:start_time" json:"start_time"`
	EndTime        *time.Time `gorm:"column:end_time" json:"end_time,omitempty"`
	DetectedResult string     `gorm:"column:detected_result;type:varchar(20)" json:"detected_result"`

	// Placeholder marks rows created by the dispatcher for a call it had never seen.
	Placeholder bool `gorm:"column:placeholder" json:"placeholder"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (CallRecord) TableName() string { return "call_records" }
