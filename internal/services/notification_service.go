package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/models"
	pgrepo "github.com/yoockh/callguard/internal/repositories/postgres"
	"github.com/yoockh/callguard/internal/utils"
)

// Detection is one verdict that has made it past stability filtering.
type Detection struct {
	CallID     int64
	UserID     int64
	Modality   models.Modality
	MsgType    string // modality or "rule"
	IsRisk     bool
	Confidence float64
	RiskLevel  models.RiskLevel
	Details    string
}

// Publisher hands an event to whichever process holds the user's connection.
type Publisher interface {
	Publish(ctx context.Context, userID int64, ev models.AlertEvent) error
}

// SMSSender is the family notification collaborator. It is best-effort.
type SMSSender interface {
	SendAlert(ctx context.Context, phone, name, riskLevel, timeStr string) bool
}

type NotificationService interface {
	Handle(ctx context.Context, d Detection) error
}

// interventionConfig is what a client receives with an upgrade_level control.
var interventionConfig = map[string]any{
	"video_sample_fps":      5,
	"audio_sample_rate":     16000,
	"show_blocking_warning": true,
	"voice_verification":    true,
}

type notificationService struct {
	audit  pgrepo.AuditRepository
	users  pgrepo.UserRepository
	pub    Publisher
	sms    SMSSender
	policy Policy
	log    *logrus.Logger

	now func() time.Time

	auditFailures atomic.Int64
}

func NewNotificationService(
	audit pgrepo.AuditRepository,
	users pgrepo.UserRepository,
	pub Publisher,
	sms SMSSender,
	policy Policy,
	log *logrus.Logger,
) NotificationService {
	if policy == nil {
		policy = DefaultPolicy
	}
	if log == nil {
		log = logrus.New()
	}
	return &notificationService{
		audit:  audit,
		users:  users,
		pub:    pub,
		sms:    sms,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// Handle builds the alert, records it, delivers it and escalates. Only an
// invalid detection is returned as an error; downstream failures are logged.
func (s *notificationService) Handle(ctx context.Context, d Detection) error {
	const op = "NotificationService.Handle"

	if d.UserID == 0 || !d.Modality.Valid() {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and a valid modality are required", nil)
	}
	if !d.RiskLevel.Valid() {
		d.RiskLevel = models.RiskFromConfidence(d.IsRisk, d.Confidence)
	}
	if d.MsgType == "" {
		d.MsgType = string(d.Modality)
	}

	esc := s.policy.For(d.RiskLevel)
	ev := s.buildEvent(d, esc)

	log := s.log.WithFields(logrus.Fields{
		"user_id":    d.UserID,
		"call_id":    d.CallID,
		"modality":   d.Modality,
		"risk_level": d.RiskLevel,
	})
	metrics.Alerts.WithLabelValues(ev.Type, string(ev.RiskLevel)).Inc()

	s.appendAudit(ctx, log, d, ev)

	if esc.NotifySelf {
		if err := s.pub.Publish(ctx, d.UserID, ev); err != nil {
			log.WithError(err).Warn("alert publish failed")
		}
	}

	if d.IsRisk && esc.NotifyFamily {
		s.notifyFamily(ctx, log, d)
	}

	if upgradesDefense(d, esc) {
		ctrl := s.upgradeEvent(d)
		if err := s.pub.Publish(ctx, d.UserID, ctrl); err != nil {
			log.WithError(err).Warn("upgrade_level publish failed")
		}
	}
	return nil
}

// upgradesDefense holds for a confirmed deepfake video or cloned voice. A
// keyword hit on a transcript is a scam signal, not a synthetic-media one.
func upgradesDefense(d Detection, esc Escalation) bool {
	if !d.IsRisk || !esc.NotifyFamily || d.MsgType == models.MsgTypeRule {
		return false
	}
	return d.Modality == models.ModalityVideo || d.Modality == models.ModalityAudio
}

func (s *notificationService) buildEvent(d Detection, esc Escalation) models.AlertEvent {
	label := modalityLabel(d.Modality)
	ev := models.AlertEvent{
		MsgType:     d.MsgType,
		RiskLevel:   d.RiskLevel,
		DisplayMode: esc.DisplayMode,
		CallID:      d.CallID,
		Confidence:  d.Confidence,
		Timestamp:   s.now().UTC(),
	}
	if d.IsRisk {
		ev.Type = models.EventAlert
		ev.Title = fmt.Sprintf("Suspicious %s detected", label)
		ev.Message = fmt.Sprintf("Possible forged content (confidence: %.2f).", d.Confidence)
		if d.Details != "" {
			ev.Message += " " + d.Details
		}
	} else {
		ev.Type = models.EventInfo
		ev.Title = fmt.Sprintf("%s check passed", strings.ToUpper(label[:1])+label[1:])
		ev.Message = fmt.Sprintf("The call looks safe (confidence: %.2f).", d.Confidence)
	}
	return ev
}

func (s *notificationService) upgradeEvent(d Detection) models.AlertEvent {
	level := models.DefenseActive
	cfg := make(map[string]any, len(interventionConfig))
	for k, v := range interventionConfig {
		cfg[k] = v
	}
	return models.AlertEvent{
		Type:        models.EventControl,
		MsgType:     d.MsgType,
		RiskLevel:   d.RiskLevel,
		CallID:      d.CallID,
		Confidence:  d.Confidence,
		Timestamp:   s.now().UTC(),
		Action:      models.ActionUpgradeLevel,
		TargetLevel: &level,
		Config:      cfg,
	}
}

func (s *notificationService) appendAudit(ctx context.Context, log *logrus.Entry, d Detection, ev models.AlertEvent) {
	details, _ := json.Marshal(map[string]any{
		"modality":  d.Modality,
		"is_risk":   d.IsRisk,
		"details":   d.Details,
		"timestamp": ev.Timestamp,
	})
	rec := &models.MessageLog{
		UserID:      d.UserID,
		CallID:      d.CallID,
		Type:        ev.Type,
		MsgType:     ev.MsgType,
		RiskLevel:   string(ev.RiskLevel),
		DisplayMode: ev.DisplayMode,
		Title:       ev.Title,
		Content:     ev.Message,
		Confidence:  ev.Confidence,
		Details:     datatypes.JSON(details),
		CreatedAt:   ev.Timestamp,
	}

	if err := s.audit.Append(ctx, rec); err != nil {
		n := s.auditFailures.Add(1)
		metrics.AuditFailures.Inc()
		log.WithError(utils.E(utils.CodeUnavailable, "NotificationService.appendAudit", "audit append failed", fmt.Errorf("%w: %v", utils.ErrAuditPersistence, err))).
			WithField("consecutive_failures", n).
			Error("audit record lost")
		return
	}
	s.auditFailures.Store(0)
}

func (s *notificationService) notifyFamily(ctx context.Context, log *logrus.Entry, d Detection) {
	user, err := s.users.GetByID(ctx, d.UserID)
	if err != nil {
		log.WithError(err).Warn("family lookup skipped: user not resolved")
		return
	}
	if user.FamilyID == nil {
		return
	}

	members, err := s.users.FamilyMembers(ctx, *user.FamilyID, d.UserID)
	if err != nil {
		log.WithError(err).Warn("family members lookup failed")
		return
	}

	timeStr := s.now().Format("15:04")
	for _, m := range members {
		if m.Phone == "" {
			continue
		}
		ok := s.sms.SendAlert(ctx, m.Phone, user.DisplayName(), string(d.RiskLevel), timeStr)
		result := "sent"
		if !ok {
			result = "failed"
			log.WithField("member_id", m.UserID).Warn("family sms not sent")
		}
		metrics.SMSSent.WithLabelValues(result).Inc()
	}
}

func modalityLabel(m models.Modality) string {
	switch m {
	case models.ModalityAudio:
		return "voice"
	case models.ModalityVideo:
		return "video"
	default:
		return "message"
	}
}
