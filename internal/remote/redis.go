package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"buddyband/internal/retry"
)

const maxTxRetries = 5

// RedisBackend stores each collection in a hash, one JSON document per
// field, and announces changes on a pub/sub channel per collection.
type RedisBackend struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisBackend builds a backend on an existing client.
func NewRedisBackend(client *redis.Client, prefix string, log *zap.Logger) *RedisBackend {
	if prefix == "" {
		prefix = "buddyband"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBackend{client: client, prefix: prefix, log: log}
}

func (b *RedisBackend) hashKey(collection string) string {
	return b.prefix + ":" + collection
}

func (b *RedisBackend) channel(collection string) string {
	return b.prefix + ":changes:" + collection
}

// Load reads the whole hash.
func (b *RedisBackend) Load(ctx context.Context, collection string) (Snapshot, error) {
	vals, err := b.client.HGetAll(ctx, b.hashKey(collection)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", collection, err)
	}
	records := make([]Record, 0, len(vals))
	for k, v := range vals {
		records = append(records, Record{Key: k, Data: json.RawMessage(v)})
	}
	sortRecords(records)
	return Snapshot{Collection: collection, Records: records}, nil
}

// Get reads one hash field.
func (b *RedisBackend) Get(ctx context.Context, collection, key string) (json.RawMessage, bool, error) {
	v, err := b.client.HGet(ctx, b.hashKey(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return json.RawMessage(v), true, nil
}

// Watch subscribes to the collection's change channel. The subscription is
// confirmed before returning so permission or connection failures surface
// immediately.
func (b *RedisBackend) Watch(ctx context.Context, collection string) (<-chan Notice, error) {
	ps := b.client.Subscribe(ctx, b.channel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	out := make(chan Notice)
	go func() {
		defer close(out)
		defer ps.Close()
		var backoff retry.Backoff
		for {
			_, err := ps.ReceiveMessage(ctx)
			n := Notice{}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				n.Err = err
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
			if err == nil {
				backoff.Reset()
				continue
			}
			// go-redis reconnects on the next receive.
			if !backoff.Wait(ctx) {
				return
			}
		}
	}()
	return out, nil
}

// Update performs an optimistic read-merge-write of one document and
// publishes a change notice in the same transaction.
func (b *RedisBackend) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	hk := b.hashKey(collection)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, hk, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		doc, err := mergeDoc(cur, fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hk, key, doc)
			pipe.Publish(ctx, b.channel(collection), key)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, hk)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			b.log.Debug("redis update conflict, retrying", zap.String("key", key), zap.Int("attempt", i+1))
			continue
		}
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	return fmt.Errorf("update %s/%s: too many conflicts", collection, key)
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBackend) Close() error { return nil }
