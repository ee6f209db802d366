// Package sms hands family fraud alerts to the SMS gateway service.
package sms

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Sender is best-effort: false means the message did not leave this process.
type Sender interface {
	SendAlert(ctx context.Context, phone, name, riskLevel, timeStr string) bool
}

const templateFraudAlert = "fraud_alert"

// Message is the body the SMS gateway consumes.
type Message struct {
	Template  string            `json:"template"`
	Phone     string            `json:"phone"`
	Params    map[string]string `json:"params"`
	CreatedAt time.Time         `json:"created_at"`
}

// Publisher is the part of *amqp.Channel the sender uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitSender struct {
	ch         Publisher
	exchange   string
	routingKey string
	log        *logrus.Logger
}

func NewRabbitSender(ch Publisher, exchange, routingKey string, log *logrus.Logger) *RabbitSender {
	if log == nil {
		log = logrus.New()
	}
	return &RabbitSender{ch: ch, exchange: exchange, routingKey: routingKey, log: log}
}

func (s *RabbitSender) SendAlert(ctx context.Context, phone, name, riskLevel, timeStr string) bool {
	body, err := json.Marshal(Message{
		Template: templateFraudAlert,
		Phone:    phone,
		Params: map[string]string{
			"name":       name,
			"risk_level": riskLevel,
			"time":       timeStr,
		},
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return false
	}

	err = s.ch.PublishWithContext(ctx,
		s.exchange,   // exchange
		s.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		s.log.WithError(err).WithField("phone", maskPhone(phone)).Warn("sms publish failed")
		return false
	}
	return true
}

// LogSender only logs. Used when no broker is configured.
type LogSender struct {
	Logger *logrus.Logger
}

func (s LogSender) SendAlert(_ context.Context, phone, name, riskLevel, timeStr string) bool {
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"phone":      maskPhone(phone),
			"name":       name,
			"risk_level": riskLevel,
			"time":       timeStr,
		}).Info("sms (log only)")
	}
	return true
}

func maskPhone(p string) string {
	if len(p) < 7 {
		return "****"
	}
	return p[:3] + "****" + p[len(p)-4:]
}
