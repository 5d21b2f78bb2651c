package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Konveyer/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunQueued   MessageType = "run.queued"
	MessageTypeTIQueued    MessageType = "ti.queued"
	MessageTypeTICompleted MessageType = "ti.completed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunQueuedPayload — payload для сообщения о новом запуске dag.
type RunQueuedPayload struct {
	DagID string `json:"dag_id"`
	RunID string `json:"run_id"`
}

// TIQueuedPayload — payload для сообщения об экземпляре задачи,
// отданном на выполнение.
type TIQueuedPayload struct {
	DagID    string `json:"dag_id"`
	RunID    string `json:"run_id"`
	TaskID   string `json:"task_id"`
	MapIndex int    `json:"map_index"`
}

// TICompletedPayload — payload для сообщения о завершённом экземпляре.
type TICompletedPayload struct {
	DagID     string         `json:"dag_id"`
	RunID     string         `json:"run_id"`
	TaskID    string         `json:"task_id"`
	MapIndex  int            `json:"map_index"`
	TryNumber int            `json:"try_number"`
	State     domain.TIState `json:"state"` // SUCCESS или FAILED
	Error     string         `json:"error,omitempty"`

	// Retryable — провал допускает повторную попытку
	// (учитывается retry policy, включая on_status для http задач).
	Retryable bool `json:"retryable,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRunQueued публикует событие о запуске dag, ожидающем обработки.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunQueued(ctx context.Context, dagID, runID string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunQueued,
		Payload:   RunQueuedPayload{DagID: dagID, RunID: runID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyQueued, msg)
}

// PublishTIQueued публикует событие об экземпляре задачи, отданном
// диспетчером на выполнение. Потребитель: Worker.
func (p *Publisher) PublishTIQueued(ctx context.Context, payload TIQueuedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTIQueued,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTIs, RoutingKeyQueued, msg)
}

// PublishTICompleted публикует событие о завершённом экземпляре задачи.
// Потребитель: Orchestrator.
func (p *Publisher) PublishTICompleted(ctx context.Context, payload TICompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTICompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTIs, RoutingKeyCompleted, msg)
}
