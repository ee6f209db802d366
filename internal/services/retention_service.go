package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	pgrepo "github.com/yoockh/callguard/internal/repositories/postgres"
	"github.com/yoockh/callguard/internal/utils"
)

// RetentionService deletes audit and detection logs past the horizon.
type RetentionService struct {
	Audit      pgrepo.AuditRepository
	Detections pgrepo.DetectionRepository
	Horizon    time.Duration
	Interval   time.Duration
	Logger     *logrus.Logger

	now func() time.Time
}

// PurgeOnce runs a single pass and returns the number of rows removed.
func (s *RetentionService) PurgeOnce(ctx context.Context) (int64, error) {
	const op = "RetentionService.PurgeOnce"

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	horizon := s.Horizon
	if horizon <= 0 {
		horizon = 30 * 24 * time.Hour
	}
	cutoff := now().UTC().Add(-horizon)

	audits, err := s.Audit.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to purge audit records", err)
	}
	detections, err := s.Detections.PurgeBefore(ctx, cutoff)
	if err != nil {
		return audits, utils.E(utils.CodeInternal, op, "failed to purge detection logs", err)
	}
	return audits + detections, nil
}

// Run purges immediately and then on every interval until ctx is done.
func (s *RetentionService) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	log := s.Logger
	if log == nil {
		log = logrus.New()
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		n, err := s.PurgeOnce(ctx)
		if err != nil {
			log.WithError(err).Error("retention pass failed")
		} else {
			log.WithField("deleted", n).Info("retention pass done")
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
