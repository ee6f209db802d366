// Package dispatch queues inference jobs on a Redis stream and runs them on a
// bounded pool of consumers, possibly in another process.
package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/models"
	mongorepo "github.com/yoockh/callguard/internal/repositories/mongo"
	"github.com/yoockh/callguard/internal/utils"
)

const (
	DefaultStream = "detection:jobs"
	DefaultGroup  = "detection-workers"

	// maxBacklog caps the stream; XADD trims approximately past it.
	maxBacklog = 100_000
)

type Dispatcher struct {
	rdb    *redis.Client
	jobs   mongorepo.JobRepository
	stream string
	jobTTL time.Duration
	log    *logrus.Logger
}

func NewDispatcher(rdb *redis.Client, jobs mongorepo.JobRepository, stream string, jobTTL time.Duration, log *logrus.Logger) *Dispatcher {
	if stream == "" {
		stream = DefaultStream
	}
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{rdb: rdb, jobs: jobs, stream: stream, jobTTL: jobTTL, log: log}
}

// Submit records the job as queued and enqueues it. It returns as soon as
// the stream accepted the entry; scoring never happens here.
func (d *Dispatcher) Submit(ctx context.Context, callID, userID int64, modality models.Modality, payload []byte) (string, error) {
	const op = "Dispatcher.Submit"

	if callID <= 0 || userID <= 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "call_id and user_id are required", nil)
	}
	if !modality.Valid() {
		return "", utils.E(utils.CodeInvalidArgument, op, "modality must be audio, video or text", nil)
	}

	now := time.Now().UTC()
	job := models.InferenceJob{
		JobID:       uuid.NewString(),
		CallID:      callID,
		UserID:      userID,
		Modality:    modality,
		Payload:     payload,
		SubmittedAt: now,
	}

	rec := &models.JobRecord{
		JobID:       job.JobID,
		CallID:      callID,
		UserID:      userID,
		Modality:    modality,
		Status:      models.JobQueued,
		SubmittedAt: now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(d.jobTTL),
	}
	if err := d.jobs.Create(ctx, rec); err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to record job", err)
	}

	err := d.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: maxBacklog,
		Approx: true,
		Values: encodeJob(job),
	}).Err()
	if err != nil {
		_ = d.jobs.SetStatus(ctx, job.JobID, models.JobFailed, 0, "enqueue failed")
		metrics.JobsTotal.WithLabelValues(string(modality), string(models.JobFailed)).Inc()
		return "", utils.E(utils.CodeUnavailable, op, "failed to enqueue job", err)
	}

	metrics.JobsTotal.WithLabelValues(string(modality), string(models.JobQueued)).Inc()
	d.log.WithFields(logrus.Fields{
		"job_id":   job.JobID,
		"call_id":  callID,
		"user_id":  userID,
		"modality": modality,
	}).Debug("job queued")
	return job.JobID, nil
}

// Status is a point-in-time read of the job record.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (*models.JobRecord, error) {
	const op = "Dispatcher.Status"

	if jobID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "job_id is required", nil)
	}
	rec, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "job not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to read job", err)
	}
	return rec, nil
}

func encodeJob(j models.InferenceJob) map[string]any {
	return map[string]any{
		"job_id":       j.JobID,
		"call_id":      strconv.FormatInt(j.CallID, 10),
		"user_id":      strconv.FormatInt(j.UserID, 10),
		"modality":     string(j.Modality),
		"payload":      base64.StdEncoding.EncodeToString(j.Payload),
		"submitted_at": strconv.FormatInt(j.SubmittedAt.UnixMilli(), 10),
	}
}

func decodeJob(values map[string]any) (models.InferenceJob, error) {
	get := func(k string) string {
		v, ok := values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	var j models.InferenceJob
	j.JobID = get("job_id")
	j.Modality = models.Modality(get("modality"))
	if j.JobID == "" || !j.Modality.Valid() {
		return j, utils.E(utils.CodeInvalidArgument, "dispatch.decodeJob", "stream entry is missing job_id or modality", nil)
	}

	var err error
	if j.CallID, err = strconv.ParseInt(get("call_id"), 10, 64); err != nil {
		return j, utils.E(utils.CodeInvalidArgument, "dispatch.decodeJob", "bad call_id", err)
	}
	if j.UserID, err = strconv.ParseInt(get("user_id"), 10, 64); err != nil {
		return j, utils.E(utils.CodeInvalidArgument, "dispatch.decodeJob", "bad user_id", err)
	}
	if j.Payload, err = base64.StdEncoding.DecodeString(get("payload")); err != nil {
		return j, utils.E(utils.CodeInvalidArgument, "dispatch.decodeJob", "bad payload", err)
	}
	if ms, err := strconv.ParseInt(get("submitted_at"), 10, 64); err == nil {
		j.SubmittedAt = time.UnixMilli(ms).UTC()
	}
	return j, nil
}
