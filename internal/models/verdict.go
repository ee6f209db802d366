package models

import "time"

type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityVideo Modality = "video"
	ModalityText  Modality = "text"

	// MsgTypeRule is the msg_type of alerts raised by a keyword rule rather than a model.
	MsgTypeRule = "rule"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityAudio, ModalityVideo, ModalityText:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Rank orders levels from safe (0) to critical (4); unknown levels rank -1.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskSafe:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return -1
}

// RiskFromConfidence is used when a scorer reports positivity without a level.
func RiskFromConfidence(positive bool, confidence float64) RiskLevel {
	if !positive {
		return RiskSafe
	}
	switch {
	case confidence >= 0.9:
		return RiskCritical
	case confidence >= 0.75:
		return RiskHigh
	case confidence >= 0.6:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RawVerdict is one scorer output for one job. It is consumed once.
type RawVerdict struct {
	CallID       int64     `json:"call_id" bson:"call_id"`
	Modality     Modality  `json:"modality" bson:"modality"`
	IsPositive   bool      `json:"is_positive" bson:"is_positive"`
	Confidence   float64   `json:"confidence" bson:"confidence"`
	RiskLevel    RiskLevel `json:"risk_level" bson:"risk_level"`
	ModelVersion string    `json:"model_version" bson:"model_version"`

	// Rule is set when a keyword rule produced the verdict.
	Rule     *RiskRule `json:"rule,omitempty" bson:"rule,omitempty"`
	Keywords []string  `json:"keywords,omitempty" bson:"keywords,omitempty"`
	Details  string    `json:"details,omitempty" bson:"details,omitempty"`

	ScoredAt time.Time `json:"scored_at" bson:"scored_at"`
}

// Normalize clamps confidence into [0,1] and fills a missing risk level.
func (v *RawVerdict) Normalize() {
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	if !v.RiskLevel.Valid() {
		v.RiskLevel = RiskFromConfidence(v.IsPositive, v.Confidence)
	}
	if !v.IsPositive {
		v.RiskLevel = RiskSafe
	}
}

// MsgType is the msg_type the verdict's alert carries.
func (v *RawVerdict) MsgType() string {
	if v.Rule != nil {
		return MsgTypeRule
	}
	return string(v.Modality)
}
