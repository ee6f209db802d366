package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/providers/scoring"
	mongorepo "github.com/yoockh/callguard/internal/repositories/mongo"
	"github.com/yoockh/callguard/internal/utils"
)

// WorkerPool runs NumWorkers stream consumers. Each consumer owns one scorer
// and runs one job at a time to completion.
type WorkerPool struct {
	Redis     *redis.Client
	Jobs      mongorepo.JobRepository
	Pipeline  *Pipeline
	NewScorer scoring.Factory

	NumWorkers        int
	JobTimeLimit      time.Duration
	MaxTasksPerWorker int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	Block          time.Duration // XREADGROUP block per poll

	wg sync.WaitGroup
}

// settleTimeout bounds the terminal status write and ack, which run detached
// from the pool context so a shutdown still leaves every job terminal.
const settleTimeout = 5 * time.Second

const abandonedMsg = "job abandoned by a stopped worker"

func (p *WorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Jobs == nil || p.Pipeline == nil || p.NewScorer == nil {
		return errors.New("WorkerPool missing dependency: Redis/Jobs/Pipeline/NewScorer must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultStream
	}
	if p.Group == "" {
		p.Group = DefaultGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 8
	}
	if p.JobTimeLimit <= 0 {
		p.JobTimeLimit = 1800 * time.Second
	}
	if p.MaxTasksPerWorker <= 0 {
		p.MaxTasksPerWorker = 200
	}
	if p.Block <= 0 {
		p.Block = 5 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
	if p.Pipeline.Logger == nil {
		p.Pipeline.Logger = p.Logger
	}

	err := p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}

	if n, err := p.reclaimAbandoned(ctx); err != nil {
		p.Logger.WithError(err).Warn("reclaiming abandoned jobs failed")
	} else if n > 0 {
		p.Logger.WithField("jobs", n).Warn("failed jobs abandoned by a previous worker")
	}

	for i := 0; i < p.NumWorkers; i++ {
		scorer, err := p.NewScorer()
		if err != nil {
			return err
		}
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go p.runConsumer(ctx, consumer, scorer)
	}
	return nil
}

// Wait blocks until every consumer has exited.
func (p *WorkerPool) Wait() { p.wg.Wait() }

func (p *WorkerPool) runConsumer(ctx context.Context, consumer string, scorer scoring.Scorer) {
	defer p.wg.Done()
	log := p.Logger.WithField("consumer", consumer)

	tasks := 0
	defer func() { _ = scorer.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    1,
			Block:    p.Block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.WithError(err).Warn("stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				timedOut := p.handleMsg(ctx, scorer, msg)
				p.ack(ctx, msg.ID)
				tasks++

				// a timed-out scorer may still be busy; never reuse it
				if timedOut || tasks >= p.MaxTasksPerWorker {
					if next, err := p.recycle(log, scorer, tasks); err == nil {
						scorer = next
						tasks = 0
					}
				}
			}
		}
	}
}

func (p *WorkerPool) ack(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := p.Redis.XAck(ctx, p.Stream, p.Group, id).Err(); err != nil {
		p.Logger.WithError(err).WithField("redis_id", id).Warn("stream ack failed")
	}
}

// reclaimAbandoned claims entries that stayed pending longer than the job time
// limit, which only happens when their consumer died mid-job, and fails them.
// They are not rerun: the live call has moved on.
func (p *WorkerPool) reclaimAbandoned(ctx context.Context) (int, error) {
	consumer := p.ConsumerPrefix + "-reclaim"
	start, n := "0-0", 0
	for {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.JobTimeLimit,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			return n, err
		}
		for _, msg := range msgs {
			if job, err := decodeJob(msg.Values); err == nil && !p.settled(ctx, job.JobID) {
				p.settle(ctx, job, nil, errors.New(abandonedMsg))
				n++
			}
			p.ack(ctx, msg.ID)
		}
		if next == "0-0" || next == "" || len(msgs) == 0 {
			return n, nil
		}
		start = next
	}
}

// settled reports whether the job already reached a terminal status, which
// happens when its consumer died between the status write and the ack.
func (p *WorkerPool) settled(ctx context.Context, jobID string) bool {
	rec, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return rec.Status.Terminal()
}

// settle writes a job's terminal status.
func (p *WorkerPool) settle(ctx context.Context, job models.InferenceJob, verdict *models.RawVerdict, jobErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	status, progress, msg := models.JobSucceeded, 100, ""
	if jobErr != nil {
		status, msg = models.JobFailed, jobErr.Error()
	} else if err := p.Jobs.SetResult(ctx, job.JobID, verdict); err != nil {
		p.Logger.WithError(err).WithField("job_id", job.JobID).Warn("job result write failed")
	}
	if err := p.Jobs.SetStatus(ctx, job.JobID, status, progress, msg); err != nil {
		p.Logger.WithError(err).WithField("job_id", job.JobID).Error("terminal job status write failed")
	}
	metrics.JobsTotal.WithLabelValues(string(job.Modality), string(status)).Inc()
}

func (p *WorkerPool) recycle(log *logrus.Entry, old scoring.Scorer, tasks int) (scoring.Scorer, error) {
	next, err := p.NewScorer()
	if err != nil {
		log.WithError(err).Error("scorer rebuild failed, keeping the old one")
		return nil, err
	}
	_ = old.Close()
	log.WithField("tasks", tasks).Info("scorer recycled")
	return next, nil
}

// handleMsg runs one job and records its terminal status. It reports whether
// the job hit its time limit.
func (p *WorkerPool) handleMsg(ctx context.Context, scorer scoring.Scorer, msg redis.XMessage) bool {
	job, err := decodeJob(msg.Values)
	if err != nil {
		p.Logger.WithError(err).WithField("redis_id", msg.ID).Warn("dropping malformed job")
		return false
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id": msg.ID,
		"job_id":   job.JobID,
		"call_id":  job.CallID,
		"modality": job.Modality,
	})

	start := time.Now()
	_ = p.Jobs.SetStatus(ctx, job.JobID, models.JobProcessing, 10, "")

	jobCtx, cancel := context.WithTimeout(ctx, p.JobTimeLimit)
	verdict, err := p.Pipeline.Run(jobCtx, scorer, job)
	cancel()

	metrics.JobDuration.WithLabelValues(string(job.Modality)).Observe(time.Since(start).Seconds())

	if err != nil {
		timedOut := errors.Is(err, utils.ErrJobTimeout)
		log.WithError(err).WithField("timed_out", timedOut).Error("job failed")
		p.settle(ctx, job, nil, err)
		return timedOut
	}

	p.settle(ctx, job, &verdict, nil)
	log.WithField("took_ms", time.Since(start).Milliseconds()).Debug("job done")
	return false
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}
