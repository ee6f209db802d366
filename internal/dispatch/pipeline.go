package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/providers/scoring"
	pgrepo "github.com/yoockh/callguard/internal/repositories/postgres"
	"github.com/yoockh/callguard/internal/services"
	"github.com/yoockh/callguard/internal/stability"
	"github.com/yoockh/callguard/internal/utils"
)

// Pipeline is what one worker does with one job: make sure the call exists,
// score, record, stabilize video, and hand the outcome to the router.
type Pipeline struct {
	Calls      pgrepo.CallRepository
	Detections pgrepo.DetectionRepository
	Filter     *stability.Filter
	Notifier   services.NotificationService
	Logger     *logrus.Logger
}

type scored struct {
	v   models.RawVerdict
	err error
}

// Run processes job with scorer. When ctx expires before scoring finishes
// the job fails with ErrJobTimeout and nothing is notified.
func (p *Pipeline) Run(ctx context.Context, scorer scoring.Scorer, job models.InferenceJob) (models.RawVerdict, error) {
	const op = "Pipeline.Run"

	log := p.Logger.WithFields(logrus.Fields{
		"job_id":   job.JobID,
		"call_id":  job.CallID,
		"user_id":  job.UserID,
		"modality": job.Modality,
	})

	if err := p.ensureCall(ctx, log, job); err != nil {
		return models.RawVerdict{}, err
	}

	done := make(chan scored, 1)
	go func() {
		v, err := scorer.Score(ctx, job)
		done <- scored{v, err}
	}()

	var res scored
	select {
	case <-ctx.Done():
		return models.RawVerdict{}, timeoutOr(ctx, op)
	case res = <-done:
	}
	if ctx.Err() != nil {
		return models.RawVerdict{}, timeoutOr(ctx, op)
	}
	if res.err != nil {
		return models.RawVerdict{}, utils.E(utils.CodeUnavailable, op, "scoring failed", res.err)
	}

	v := res.v
	v.CallID = job.CallID
	v.Modality = job.Modality
	v.Normalize()

	p.recordDetection(ctx, log, job, v)

	if job.Modality == models.ModalityVideo {
		return v, p.stabilize(ctx, log, job, v)
	}

	p.notify(ctx, log, services.Detection{
		CallID:     job.CallID,
		UserID:     job.UserID,
		Modality:   job.Modality,
		MsgType:    v.MsgType(),
		IsRisk:     v.IsPositive,
		Confidence: v.Confidence,
		RiskLevel:  v.RiskLevel,
		Details:    v.Details,
	})
	if v.IsPositive {
		p.markCall(ctx, log, job.CallID, models.DetectedSuspicious)
	}
	return v, nil
}

// ensureCall creates a placeholder call record for a job whose call is
// unknown. Concurrent first jobs race on insert; the loser just proceeds.
func (p *Pipeline) ensureCall(ctx context.Context, log *logrus.Entry, job models.InferenceJob) error {
	created, err := p.Calls.EnsurePlaceholder(ctx, job.CallID, job.UserID)
	if err != nil {
		return utils.E(utils.CodeInternal, "Pipeline.ensureCall", "could not resolve call",
			fmt.Errorf("%w: %v", utils.ErrUnresolvedCall, err))
	}
	if created {
		metrics.PlaceholderCalls.Inc()
		log.Warn("call record missing, placeholder created")
	}
	return nil
}

// stabilize feeds a video verdict through the filter and notifies only when
// the stabilized state changes.
func (p *Pipeline) stabilize(ctx context.Context, log *logrus.Entry, job models.InferenceJob, v models.RawVerdict) error {
	tr, err := p.Filter.Observe(ctx, job.CallID, v.IsPositive)
	if err != nil {
		return err
	}
	if !tr.Changed() {
		return nil
	}

	alarm := tr.Current == stability.Alarm
	level := models.RiskSafe
	details := fmt.Sprintf("%d of the last video fragments flagged.", tr.Positives)
	if alarm {
		level = v.RiskLevel
		if level.Rank() < models.RiskMedium.Rank() {
			level = models.RiskMedium
		}
	}

	p.notify(ctx, log, services.Detection{
		CallID:     job.CallID,
		UserID:     job.UserID,
		Modality:   job.Modality,
		MsgType:    string(job.Modality),
		IsRisk:     alarm,
		Confidence: v.Confidence,
		RiskLevel:  level,
		Details:    details,
	})

	result := models.DetectedSafe
	if alarm {
		result = models.DetectedFake
	}
	p.markCall(ctx, log, job.CallID, result)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, log *logrus.Entry, d services.Detection) {
	if err := p.Notifier.Handle(ctx, d); err != nil {
		log.WithError(err).Error("notification rejected")
	}
}

func (p *Pipeline) recordDetection(ctx context.Context, log *logrus.Entry, job models.InferenceJob, v models.RawVerdict) {
	if p.Detections == nil {
		return
	}
	raw, _ := json.Marshal(v)
	err := p.Detections.Insert(ctx, &models.DetectionLog{
		CallID:       job.CallID,
		JobID:        job.JobID,
		Modality:     string(job.Modality),
		IsPositive:   v.IsPositive,
		Confidence:   v.Confidence,
		RiskLevel:    string(v.RiskLevel),
		ModelVersion: v.ModelVersion,
		Keywords:     v.Keywords,
		Raw:          datatypes.JSON(raw),
		CreatedAt:    v.ScoredAt,
	})
	if err != nil {
		log.WithError(err).Warn("detection log not written")
	}
}

func (p *Pipeline) markCall(ctx context.Context, log *logrus.Entry, callID int64, result string) {
	if err := p.Calls.SetDetectedResult(ctx, callID, result); err != nil {
		log.WithError(err).Warn("call result not updated")
	}
}

func timeoutOr(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return utils.E(utils.CodeTimeout, op, "job time limit exceeded", utils.ErrJobTimeout)
	}
	return utils.E(utils.CodeUnavailable, op, "job cancelled", ctx.Err())
}
