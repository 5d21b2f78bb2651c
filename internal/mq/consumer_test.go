package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

// testAcker фиксирует ack/nack вместо реального AMQP канала.
type testAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *testAcker) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *testAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *testAcker) Reject(tag uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func testConsumer(t *testing.T, routes map[MessageType]Route) *Consumer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewConsumer(nil, logger, ConsumerConfig{
		Queue:  "test.queue",
		Routes: routes,
	})
}

func rawDelivery(t *testing.T, msg *Message, acker *testAcker) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return amqp.Delivery{Acknowledger: acker, Body: body}
}

func TestConsumer_Dispatch_Success(t *testing.T) {
	var got RunQueuedPayload
	c := testConsumer(t, map[MessageType]Route{
		MessageTypeRunQueued: {
			Decode: DecodeAs[RunQueuedPayload](),
			Handle: func(ctx context.Context, d *Delivery) error {
				got = d.Payload.(RunQueuedPayload)
				return nil
			},
		},
	})

	acker := &testAcker{}
	c.dispatch(context.Background(), rawDelivery(t, &Message{
		ID:      "m1",
		Type:    MessageTypeRunQueued,
		Payload: RunQueuedPayload{DagID: "etl", RunID: "r1"},
	}, acker))

	if !acker.acked {
		t.Error("processed message should be acked")
	}
	if got.DagID != "etl" || got.RunID != "r1" {
		t.Errorf("payload should be decoded before the handler: %+v", got)
	}
}

func TestConsumer_Dispatch_HandlerErrorRequeuePolicy(t *testing.T) {
	fail := func(ctx context.Context, d *Delivery) error {
		return errors.New("db unavailable")
	}

	cases := []struct {
		name    string
		requeue bool
	}{
		{"requeue", true},
		{"drop", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testConsumer(t, map[MessageType]Route{
				MessageTypeTICompleted: {
					Decode:  DecodeAs[TICompletedPayload](),
					Handle:  fail,
					Requeue: tc.requeue,
				},
			})

			acker := &testAcker{}
			c.dispatch(context.Background(), rawDelivery(t, &Message{
				ID:      "m2",
				Type:    MessageTypeTICompleted,
				Payload: TICompletedPayload{DagID: "etl", RunID: "r1", TaskID: "load"},
			}, acker))

			if !acker.nacked {
				t.Fatal("failed message should be nacked")
			}
			if acker.requeue != tc.requeue {
				t.Errorf("expected requeue=%v, got %v", tc.requeue, acker.requeue)
			}
		})
	}
}

func TestConsumer_Dispatch_MalformedBody(t *testing.T) {
	c := testConsumer(t, map[MessageType]Route{
		MessageTypeRunQueued: {
			Decode: DecodeAs[RunQueuedPayload](),
			Handle: func(ctx context.Context, d *Delivery) error {
				t.Error("handler should not run for malformed body")
				return nil
			},
		},
	})

	acker := &testAcker{}
	c.dispatch(context.Background(), amqp.Delivery{
		Acknowledger: acker,
		Body:         []byte("not json"),
	})

	if !acker.nacked || acker.requeue {
		t.Errorf("malformed body should go to DLQ: nacked=%v requeue=%v", acker.nacked, acker.requeue)
	}
}

func TestConsumer_Dispatch_UnknownType(t *testing.T) {
	c := testConsumer(t, map[MessageType]Route{
		MessageTypeRunQueued: {
			Decode: DecodeAs[RunQueuedPayload](),
			Handle: func(ctx context.Context, d *Delivery) error { return nil },
		},
	})

	acker := &testAcker{}
	c.dispatch(context.Background(), rawDelivery(t, &Message{
		ID:   "m3",
		Type: MessageType("ti.unknown"),
	}, acker))

	if !acker.nacked || acker.requeue {
		t.Errorf("message without route should go to DLQ: nacked=%v requeue=%v", acker.nacked, acker.requeue)
	}
}

func TestConsumer_Dispatch_DecodeFailure(t *testing.T) {
	c := testConsumer(t, map[MessageType]Route{
		MessageTypeTIQueued: {
			Decode: DecodeAs[TIQueuedPayload](),
			Handle: func(ctx context.Context, d *Delivery) error {
				t.Error("handler should not run for undecodable payload")
				return nil
			},
			Requeue: true,
		},
	})

	// Payload-строка не разбирается в структуру
	acker := &testAcker{}
	c.dispatch(context.Background(), rawDelivery(t, &Message{
		ID:      "m4",
		Type:    MessageTypeTIQueued,
		Payload: "garbage",
	}, acker))

	if !acker.nacked || acker.requeue {
		t.Errorf("undecodable payload should go to DLQ even on a requeue route: nacked=%v requeue=%v",
			acker.nacked, acker.requeue)
	}
}

func TestParsePayload(t *testing.T) {
	msg := &Message{
		Type: MessageTypeTICompleted,
		Payload: map[string]any{
			"dag_id":     "etl",
			"run_id":     "r1",
			"task_id":    "load",
			"map_index":  float64(2),
			"try_number": float64(1),
			"state":      "FAILED",
			"retryable":  true,
		},
	}

	payload, err := ParsePayload[TICompletedPayload](msg)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.TaskID != "load" || payload.MapIndex != 2 || !payload.Retryable {
		t.Errorf("unexpected payload: %+v", payload)
	}
}
