package models

import "time"

const (
	EventAlert   = "alert"
	EventInfo    = "info"
	EventControl = "control"

	DisplayToast = "toast"
	DisplayPopup = "popup"

	ActionUpgradeLevel = "upgrade_level"
	ActionLevelSync    = "level_sync"
)

// AlertEvent is what reaches a client, and what the audit trail records.
// Control events additionally carry Action, TargetLevel and Config.
type AlertEvent struct {
	Type        string    `json:"type"`
	MsgType     string    `json:"msg_type,omitempty"`
	Title       string    `json:"title,omitempty"`
	Message     string    `json:"message,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level,omitempty"`
	DisplayMode string    `json:"display_mode,omitempty"`
	CallID      int64     `json:"call_id,omitempty"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`

	Action      string         `json:"action,omitempty"`
	TargetLevel *int           `json:"target_level,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Envelope is the pub/sub wire format between workers and the gateway.
type Envelope struct {
	UserID  int64      `json:"user_id"`
	Payload AlertEvent `json:"payload"`
}

// DefenseLevel values: 0 normal, 1 heightened, 2 active intervention.
const (
	DefenseNormal     = 0
	DefenseHeightened = 1
	DefenseActive     = 2
)

func ValidDefenseLevel(level int) bool { return level >= DefenseNormal && level <= DefenseActive }
