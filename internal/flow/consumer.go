package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer drains the run queue and drives runs through the engine.
// Throttled or retrying runs are acknowledged and republished after
// their delay so the broker never holds unacked messages for long.
type Consumer struct {
	conn      *amqp.Connection
	engine    *Engine
	publisher Publisher
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, engine *Engine, publisher Publisher, queueName string) *Consumer {
	return &Consumer{
		conn:      conn,
		engine:    engine,
		publisher: publisher,
		queueName: queueName,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	ch, err := c.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open consumer channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare consumer queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var msg runMessage
				if err := json.Unmarshal(d.Body, &msg); err != nil || msg.RunID == "" {
					log.Printf("consumer decode run message failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}

				retry, err := c.engine.ExecuteRun(workerCtx, msg.RunID)
				if err != nil {
					log.Printf("consumer execute run %s failed: %v", msg.RunID, err)
					_ = d.Nack(false, false)
					continue
				}
				if retry != nil {
					c.republishAfter(workerCtx, msg.RunID, retry.Delay)
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (c *Consumer) republishAfter(ctx context.Context, runID string, delay time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := c.publisher.PublishRun(ctx, runID); err != nil {
			log.Printf("republish run %s failed: %v", runID, err)
		}
	}()
}

func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
