package scoring

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/providers/llm"
	"github.com/yoockh/callguard/internal/providers/stt"
	"github.com/yoockh/callguard/internal/utils"
)

// Router picks the scoring path per modality:
//
//	text:  keyword rules, then the text classifier, then the model service
//	audio: model service, overridden by a more severe rule hit on the transcript
//	video: model service
//
// Only Model is owned by the Router; Close leaves the shared clients open.
type Router struct {
	Model      Scorer
	Classifier llm.Classifier  // optional
	Rules      *RuleMatcher    // optional
	STT        stt.Transcriber // optional
	Language   string
	Logger     *logrus.Logger
}

func (r *Router) Score(ctx context.Context, job models.InferenceJob) (models.RawVerdict, error) {
	const op = "Router.Score"

	switch job.Modality {
	case models.ModalityText:
		return r.scoreText(ctx, job)
	case models.ModalityAudio:
		return r.scoreAudio(ctx, job)
	case models.ModalityVideo:
		return r.Model.Score(ctx, job)
	default:
		return models.RawVerdict{}, utils.E(utils.CodeInvalidArgument, op, "unknown modality "+string(job.Modality), nil)
	}
}

func (r *Router) scoreText(ctx context.Context, job models.InferenceJob) (models.RawVerdict, error) {
	text := string(job.Payload)

	if r.Rules != nil {
		rule, hits, err := r.Rules.Match(ctx, text)
		if err != nil {
			r.logger().WithError(err).Warn("risk rules unavailable, skipping")
		} else if rule != nil {
			return ruleVerdict(job, rule, hits), nil
		}
	}

	if r.Classifier == nil {
		return r.Model.Score(ctx, job)
	}

	c, err := r.Classifier.Classify(ctx, text)
	if err != nil {
		return models.RawVerdict{}, utils.E(utils.CodeUnavailable, "Router.scoreText", "text classifier failed", err)
	}
	v := models.RawVerdict{
		CallID:       job.CallID,
		Modality:     job.Modality,
		IsPositive:   c.IsScam,
		Confidence:   c.Confidence,
		RiskLevel:    c.RiskLevel,
		ModelVersion: r.Classifier.ModelVersion(),
		Details:      c.Reason,
		ScoredAt:     time.Now().UTC(),
	}
	v.Normalize()
	return v, nil
}

func (r *Router) scoreAudio(ctx context.Context, job models.InferenceJob) (models.RawVerdict, error) {
	v, err := r.Model.Score(ctx, job)
	if err != nil {
		return v, err
	}
	if r.STT == nil || r.Rules == nil {
		return v, nil
	}

	transcript, _, err := r.STT.Transcribe(ctx, job.Payload, r.Language)
	if err != nil {
		r.logger().WithError(err).WithField("call_id", job.CallID).Warn("transcription failed, model verdict only")
		return v, nil
	}
	rule, hits, err := r.Rules.Match(ctx, transcript)
	if err != nil || rule == nil {
		return v, nil
	}

	rv := ruleVerdict(job, rule, hits)
	if v.IsPositive && v.RiskLevel.Rank() >= rv.RiskLevel.Rank() {
		v.Keywords = append(v.Keywords, hits...)
		return v, nil
	}
	return rv, nil
}

func (r *Router) Close() error {
	if r.Model == nil {
		return nil
	}
	return r.Model.Close()
}

func (r *Router) logger() *logrus.Logger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}
