// Package queue provides the durable, at-least-once results queue used to
// hand backtest output to downstream consumers. Queues are namespaced under
// "queue:" and hold an id list in FIFO order plus a per-item data map.
package queue

import (
	"context"
	"time"
)

// Namespace prefixes every queue key.
const Namespace = "queue:"

// Broker is the queue contract consumed by the results writer and the
// phase-2 portfolio manager.
//
// Enqueue is an idempotent upsert: pushing the same itemID twice leaves one
// pending item carrying the second payload, with the TTL refreshed on both
// the id list and the data entry.
type Broker interface {
	Enqueue(ctx context.Context, queue, itemID string, data []byte, ttl time.Duration) error
	Peek(ctx context.Context, queue string, n int) ([]string, error)
	GetData(ctx context.Context, queue, itemID string) ([]byte, bool, error)
	Size(ctx context.Context, queue string) (int64, error)
	Dequeue(ctx context.Context, queue, itemID string) error
}

func idsKey(queue string) string  { return Namespace + queue + ":ids" }
func dataKey(queue string) string { return Namespace + queue + ":data" }
