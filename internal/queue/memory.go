package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker used when no Redis address is
// configured and throughout the test suite. TTLs apply per queue, matching
// the Redis implementation's whole-structure expiry.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

type memQueue struct {
	ids  []string
	data map[string][]byte
	exp  time.Time
}

// NewMemoryBroker returns an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memQueue)}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue, itemID string, data []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.live(queue)
	if q == nil {
		q = &memQueue{data: make(map[string][]byte)}
		b.queues[queue] = q
	}
	for i, id := range q.ids {
		if id == itemID {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	q.ids = append(q.ids, itemID)
	q.data[itemID] = append([]byte(nil), data...)
	if ttl > 0 {
		q.exp = time.Now().Add(ttl)
	}
	return nil
}

func (b *MemoryBroker) Peek(ctx context.Context, queue string, n int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.live(queue)
	if q == nil || n <= 0 {
		return nil, nil
	}
	if n > len(q.ids) {
		n = len(q.ids)
	}
	return append([]string(nil), q.ids[:n]...), nil
}

func (b *MemoryBroker) GetData(ctx context.Context, queue, itemID string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.live(queue)
	if q == nil {
		return nil, false, nil
	}
	data, ok := q.data[itemID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (b *MemoryBroker) Size(ctx context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.live(queue)
	if q == nil {
		return 0, nil
	}
	return int64(len(q.ids)), nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context, queue, itemID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.live(queue)
	if q == nil {
		return nil
	}
	for i, id := range q.ids {
		if id == itemID {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	delete(q.data, itemID)
	return nil
}

// live returns the queue if present and unexpired. Callers hold the mutex.
func (b *MemoryBroker) live(queue string) *memQueue {
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	if !q.exp.IsZero() && time.Now().After(q.exp) {
		delete(b.queues, queue)
		return nil
	}
	return q
}
