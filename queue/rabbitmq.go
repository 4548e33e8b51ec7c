// Package queue holds the RabbitMQ publisher for guardian alerts and an
// in-process FIFO used as a delivery backlog.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

// DefaultAlertQueue is the queue guardian alerts are published to.
const DefaultAlertQueue = "guardian.alerts"

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQProducer publishes guardian alerts as persistent JSON messages.
type RabbitMQProducer struct {
	conn  *amqp.Connection
	ch    channel
	queue string
}

// NewRabbitMQProducer connects and declares the durable alert queue.
func NewRabbitMQProducer(url, queueName string) (*RabbitMQProducer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	p, err := newProducer(ch, queueName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newProducer(ch channel, queueName string) (*RabbitMQProducer, error) {
	if queueName == "" {
		queueName = DefaultAlertQueue
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &RabbitMQProducer{ch: ch, queue: queueName}, nil
}

// Name identifies the sink in logs and metrics.
func (p *RabbitMQProducer) Name() string {
	return "rabbitmq"
}

// Send publishes one alert.
func (p *RabbitMQProducer) Send(ctx context.Context, alert model.GuardianAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    alert.ID,
			Timestamp:    time.Now(),
			Type:         "guardian.alert",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *RabbitMQProducer) Close() error {
	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
