package config

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	RabbitConn    *amqp.Connection
	RabbitChannel *amqp.Channel
)

// InitRabbitMQ opens the channel the SMS sender publishes on and declares its
// exchange. An empty URL leaves SMS in log-only mode.
func InitRabbitMQ(s RabbitMQSettings) error {
	if s.URL == "" {
		return nil
	}
	if s.Exchange == "" {
		return errors.New("rabbitmq.exchange is required when rabbitmq.url is set")
	}

	conn, err := amqp.Dial(s.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	err = ch.ExchangeDeclare(
		s.Exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	RabbitConn = conn
	RabbitChannel = ch
	return nil
}

func CloseRabbitMQ() {
	if RabbitChannel != nil {
		_ = RabbitChannel.Close()
	}
	if RabbitConn != nil {
		_ = RabbitConn.Close()
	}
}
