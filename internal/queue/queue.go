package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"buddyband/internal/retry"
)

// Message types.
const (
	TypeTelemetry = "telemetry"
)

// Message represents work to be processed.
type Message struct {
	Type string `msgpack:"type"`
	Body []byte `msgpack:"body"`
}

// NewMessage encodes v with msgpack into a message of type typ.
func NewMessage(typ string, v any) (Message, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Body: body}, nil
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return msgpack.Unmarshal(m.Body, v)
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers. It is closed when ctx is done.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue of msgpack-encoded
// messages.
type RedisQueue struct {
	client *redis.Client
	key    string
	log    *zap.Logger
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string, log *zap.Logger) *RedisQueue {
	if key == "" {
		key = "buddyband:telemetry"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisQueue{client: client, key: key, log: log}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	b, err := msgpack.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, b).Err()
}

// Consume streams messages using BRPOP. Undecodable entries are logged and
// dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		var backoff retry.Backoff
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				q.log.Warn("queue pop failed", zap.String("key", q.key), zap.Error(err))
				if !backoff.Wait(ctx) {
					return
				}
				continue
			}
			backoff.Reset()
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := msgpack.Unmarshal([]byte(res[1]), &msg); err != nil {
				q.log.Warn("dropping undecodable message", zap.String("key", q.key), zap.Error(err))
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
