package services

import "github.com/yoockh/callguard/internal/models"

// Escalation says who hears about a verdict at a given risk level and how
// the client should present it.
type Escalation struct {
	NotifySelf   bool
	NotifyFamily bool
	DisplayMode  string
}

type Policy map[models.RiskLevel]Escalation

// DefaultPolicy pops up and escalates to family from medium upwards.
var DefaultPolicy = Policy{
	models.RiskSafe:     {NotifySelf: true, NotifyFamily: false, DisplayMode: models.DisplayToast},
	models.RiskLow:      {NotifySelf: true, NotifyFamily: false, DisplayMode: models.DisplayToast},
	models.RiskMedium:   {NotifySelf: true, NotifyFamily: true, DisplayMode: models.DisplayPopup},
	models.RiskHigh:     {NotifySelf: true, NotifyFamily: true, DisplayMode: models.DisplayPopup},
	models.RiskCritical: {NotifySelf: true, NotifyFamily: true, DisplayMode: models.DisplayPopup},
}

// For returns the escalation for level. Unknown levels get the safe row.
func (p Policy) For(level models.RiskLevel) Escalation {
	if e, ok := p[level]; ok {
		return e
	}
	return p[models.RiskSafe]
}

// Elevated reports whether level is one the policy escalates to family.
func (p Policy) Elevated(level models.RiskLevel) bool {
	return p.For(level).NotifyFamily
}
