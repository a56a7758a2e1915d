package flow

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type runMessage struct {
	RunID string `json:"run_id"`
}

// RunPublisher enqueues run ids on a durable RabbitMQ queue.
type RunPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewRunPublisher(conn *amqp.Connection, queueName string) *RunPublisher {
	return &RunPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *RunPublisher) PublishRun(ctx context.Context, runID string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(runMessage{RunID: runID})
	if err != nil {
		return fmt.Errorf("marshal run message failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish run failed: %w", err)
	}
	return nil
}
