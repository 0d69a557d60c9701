package transport

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/habitloop/notifier/internal/models"
)

// QueuePublisher hands deliveries to a downstream gateway via RabbitMQ.
type QueuePublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

// NewQueuePublisher connects to RabbitMQ and declares a durable queue.
func NewQueuePublisher(url, queueName string) (*QueuePublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &QueuePublisher{
		conn:    conn,
		channel: ch,
		queue:   q,
	}, nil
}

func (p *QueuePublisher) Supports(channel string) bool {
	return channel == models.ChannelQueue
}

type queueMessage struct {
	RecipientID string            `json:"recipient_id"`
	DeviceToken string            `json:"device_token,omitempty"`
	Email       string            `json:"email,omitempty"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Type        string            `json:"type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (p *QueuePublisher) Deliver(ctx context.Context, rec *models.Recipient, payload *Payload) error {
	body, err := json.Marshal(queueMessage{
		RecipientID: rec.ID,
		DeviceToken: rec.DeviceToken,
		Email:       rec.Email,
		Title:       payload.Title,
		Message:     payload.Message,
		Type:        payload.Type,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",           // exchange
		p.queue.Name, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.queue.Name, err)
	}
	return nil
}

func (p *QueuePublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
