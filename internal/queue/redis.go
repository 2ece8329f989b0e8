package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on a Redis list plus hash per queue.
type RedisBroker struct {
	client redis.UniversalClient
}

// NewRedisBroker wraps an existing Redis client.
func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Enqueue(ctx context.Context, queue, itemID string, data []byte, ttl time.Duration) error {
	pipe := b.client.TxPipeline()
	// Remove any prior occurrence so a re-run replaces rather than duplicates.
	pipe.LRem(ctx, idsKey(queue), 0, itemID)
	pipe.RPush(ctx, idsKey(queue), itemID)
	pipe.HSet(ctx, dataKey(queue), itemID, data)
	if ttl > 0 {
		pipe.Expire(ctx, idsKey(queue), ttl)
		pipe.Expire(ctx, dataKey(queue), ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Peek(ctx context.Context, queue string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return b.client.LRange(ctx, idsKey(queue), 0, int64(n-1)).Result()
}

func (b *RedisBroker) GetData(ctx context.Context, queue, itemID string) ([]byte, bool, error) {
	data, err := b.client.HGet(ctx, dataKey(queue), itemID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *RedisBroker) Size(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, idsKey(queue)).Result()
}

func (b *RedisBroker) Dequeue(ctx context.Context, queue, itemID string) error {
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, idsKey(queue), 0, itemID)
	pipe.HDel(ctx, dataKey(queue), itemID)
	_, err := pipe.Exec(ctx)
	return err
}
