// Package bridge carries alert and control events from worker processes to
// the gateway process over Redis Pub/Sub. There is no replay: a message
// published while no gateway is subscribed is gone.
package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/callguard/internal/metrics"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

const DefaultChannel = "fraud_alerts"

type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, userID int64, ev models.AlertEvent) error {
	const op = "Publisher.Publish"

	b, err := json.Marshal(models.Envelope{UserID: userID, Payload: ev})
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode envelope", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		metrics.BridgePublished.WithLabelValues("error").Inc()
		return utils.E(utils.CodeUnavailable, op, "publish failed", errors.Join(utils.ErrBridgeUnavailable, err))
	}
	metrics.BridgePublished.WithLabelValues("ok").Inc()
	return nil
}
