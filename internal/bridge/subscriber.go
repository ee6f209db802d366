package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

// Gateway is the receiving side of the bridge.
type Gateway interface {
	Deliver(userID int64, ev models.AlertEvent) bool
	SetDefenseLevel(ctx context.Context, userID int64, level int, cfg map[string]any) error
}

type Subscriber struct {
	rdb     *redis.Client
	channel string
	gw      Gateway
	log     *logrus.Logger

	// ready is closed once the first subscription is confirmed.
	ready chan struct{}
}

func NewSubscriber(rdb *redis.Client, channel string, gw Gateway, log *logrus.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.New()
	}
	return &Subscriber{rdb: rdb, channel: channel, gw: gw, log: log, ready: make(chan struct{})}
}

// Ready is closed after the subscriber first receives the subscribe confirmation.
func (s *Subscriber) Ready() <-chan struct{} { return s.ready }

// Run subscribes and dispatches until ctx is done. A lost connection is
// logged and the subscription re-established with exponential backoff.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	first := true
	for {
		err := s.session(ctx, &first, bo)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		s.log.WithError(errors.Join(utils.ErrBridgeUnavailable, err)).
			WithField("retry_in", wait.String()).
			Warn("alert subscription lost")
		metrics.BridgeReconnects.Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) session(ctx context.Context, first *bool, bo backoff.BackOff) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	bo.Reset()
	if *first {
		*first = false
		close(s.ready)
	}
	s.log.WithField("channel", s.channel).Info("subscribed to alert channel")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		s.dispatch(ctx, msg.Payload)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, raw string) {
	var env models.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.log.WithError(err).Warn("dropping malformed envelope")
		return
	}
	log := s.log.WithFields(logrus.Fields{"user_id": env.UserID, "type": env.Payload.Type})

	ev := env.Payload
	if ev.Type == models.EventControl && ev.Action == models.ActionUpgradeLevel && ev.TargetLevel != nil {
		if err := s.gw.SetDefenseLevel(ctx, env.UserID, *ev.TargetLevel, ev.Config); err != nil {
			log.WithError(err).Warn("defense level update failed")
		}
		return
	}

	if !s.gw.Deliver(env.UserID, ev) {
		log.Debug("user offline, audit is the record")
	}
}
