package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns Exchange = "konveyer.runs"
	ExchangeTIs  Exchange = "konveyer.tis"
	ExchangeDLQ  Exchange = "konveyer.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsQueued   Queue = "runs.queued"
	QueueTIsQueued    Queue = "tis.queued"
	QueueTIsCompleted Queue = "tis.completed"
	QueueDLQTIs       Queue = "dlq.tis"
)

// Routing keys.
const (
	RoutingKeyQueued    RoutingKey = "queued"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQTIs    RoutingKey = "tis"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		if err := bindQueues(ch); err != nil {
			return err
		}
		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, "direct"},
		{ExchangeTIs, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTIs),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// runs.queued — без DLQ (запуски обрабатываются один раз)
		{QueueRunsQueued, nil},

		// tis.queued — с DLQ (экземпляры задач после исчерпания retry)
		{QueueTIsQueued, dlqArgs},

		// tis.completed — без DLQ (события завершения)
		{QueueTIsCompleted, nil},

		// dlq.tis — сама DLQ очередь
		{QueueDLQTIs, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsQueued, RoutingKeyQueued, ExchangeRuns},
		{QueueTIsQueued, RoutingKeyQueued, ExchangeTIs},
		{QueueTIsCompleted, RoutingKeyCompleted, ExchangeTIs},
		{QueueDLQTIs, RoutingKeyDLQTIs, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Konveyer RabbitMQ Topology:

    konveyer.runs (direct)
    └── runs.queued [routing: queued]
            Consumer: Orchestrator

    konveyer.tis (direct)
    ├── tis.queued [routing: queued]
    │       Consumer: Worker
    │       DLQ: dlq.tis
    └── tis.completed [routing: completed]
            Consumer: Orchestrator

    konveyer.dlq (direct)
    └── dlq.tis [routing: tis]
            Manual processing
  `
}
