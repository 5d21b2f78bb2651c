package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — обработчик сообщения одного типа.
// Возвращённая ошибка ведёт к nack по политике маршрута.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — конверт сообщения.
	Message Message

	// Payload — payload, разобранный Decode-функцией маршрута.
	Payload any

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Route — правила обработки одного типа сообщения.
type Route struct {
	// Decode разбирает payload до вызова обработчика. Сообщение
	// с битым payload уходит в DLQ: повтор его не исправит.
	Decode func(msg *Message) (any, error)

	// Handle получает Delivery с заполненным Payload.
	Handle Handler

	// Requeue — возвращать ли сообщение в очередь при ошибке Handle.
	// false для событий, которые переоткроет polling fallback:
	// горячий цикл redelivery им ни к чему.
	Requeue bool
}

// DecodeAs возвращает Decode-функцию маршрута для payload типа T.
func DecodeAs[T any]() func(*Message) (any, error) {
	return func(msg *Message) (any, error) {
		return ParsePayload[T](msg)
	}
}

// Consumer потребляет сообщения из очереди RabbitMQ и разводит их
// по маршрутам согласно типу.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	routes   map[MessageType]Route
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Routes — обработка по типу сообщения. Сообщение без маршрута
	// считается ядовитым и уходит в DLQ.
	Routes map[MessageType]Route

	// Prefetch — количество сообщений для предварительной загрузки.
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		routes:   cfg.Routes,
		prefetch: prefetch,
	}
}

// Start запускает потребление сообщений. Блокирует до отмены контекста,
// переживая реконнекты соединения.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.openStream()
		if err != nil {
			c.logger.Error("failed to open consume stream", "queue", c.queue, "error", err)
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consumer started", "queue", c.queue)

		if err := c.drain(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.queue)
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// openStream настраивает канал и начинает потребление.
func (c *Consumer) openStream() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (ack после обработки)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// awaitReconnect ждёт восстановления соединения или отмены контекста.
func (c *Consumer) awaitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
		return nil
	}
}

// drain обрабатывает сообщения до закрытия канала.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			c.dispatch(ctx, raw)
		}
	}
}

// dispatch разбирает конверт и отдаёт сообщение маршруту его типа.
//
// Ядовитые сообщения (битый конверт, неизвестный тип, нечитаемый
// payload) уходят в DLQ без requeue. Ошибка обработчика nack'ается
// по политике Requeue маршрута.
func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message body",
			"queue", c.queue,
			"error", err,
			"body", string(raw.Body),
		)
		raw.Nack(false, false)
		return
	}

	route, ok := c.routes[msg.Type]
	if !ok {
		c.logger.Error("no route for message type",
			"queue", c.queue,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		raw.Nack(false, false)
		return
	}

	var payload any
	if route.Decode != nil {
		var err error
		payload, err = route.Decode(&msg)
		if err != nil {
			c.logger.Error("failed to decode payload",
				"queue", c.queue,
				"message_id", msg.ID,
				"type", msg.Type,
				"error", err,
			)
			raw.Nack(false, false)
			return
		}
	}

	c.logger.Debug("received message",
		"queue", c.queue,
		"message_id", msg.ID,
		"type", msg.Type,
	)

	if err := route.Handle(ctx, &Delivery{Message: msg, Payload: payload, Raw: raw}); err != nil {
		c.logger.Error("handler failed",
			"queue", c.queue,
			"message_id", msg.ID,
			"type", msg.Type,
			"requeue", route.Requeue,
			"error", err,
		)
		raw.Nack(false, route.Requeue)
		return
	}

	raw.Ack(false)
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload после чтения из JSON — map; round trip приводит его к T
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
