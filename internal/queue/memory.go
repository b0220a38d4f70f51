// internal/queue/memory.go
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
)

// Handler processes one task. A non-nil return triggers a retry.
type Handler func(ctx context.Context, msg Message) error

// MemoryQueue is a capacity-bounded in-process queue. It preserves
// at-least-once delivery and bounded retry with backoff, so a
// single-process deployment can run without a broker.
type MemoryQueue struct {
	mu       sync.Mutex
	topics   map[string]chan Message
	capacity int
	retries  int
	backoff  time.Duration
	log      zerolog.Logger
	wg       sync.WaitGroup
	done     chan struct{}
}

func NewMemoryQueue(capacity int, log zerolog.Logger) *MemoryQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryQueue{
		topics:   make(map[string]chan Message),
		capacity: capacity,
		retries:  3,
		backoff:  500 * time.Millisecond,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (q *MemoryQueue) topic(name string) chan Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan Message, q.capacity)
		q.topics[name] = ch
	}
	return ch
}

// Publish enqueues without blocking; a full topic surfaces Backpressure so
// the caller can retry with backoff.
func (q *MemoryQueue) Publish(_ context.Context, topic string, msg Message) error {
	select {
	case q.topic(topic) <- msg:
		return nil
	default:
		return &apperrors.BackpressureError{Topic: topic}
	}
}

// Subscribe starts one consumer goroutine for the topic. Failed tasks are
// retried in place with linear backoff, then dropped after the retry budget.
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler Handler) {
	ch := q.topic(topic)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case msg := <-ch:
				q.process(ctx, topic, msg, handler)
			}
		}
	}()
}

func (q *MemoryQueue) process(ctx context.Context, topic string, msg Message, handler Handler) {
	for attempt := 0; attempt <= q.retries; attempt++ {
		msg.Attempt = attempt
		err := handler(ctx, msg)
		if err == nil {
			return
		}
		q.log.Warn().Err(err).Str("topic", topic).Int64("tender_id", msg.TenderID).
			Int("attempt", attempt+1).Msg("task failed")
		if attempt == q.retries {
			q.log.Error().Str("topic", topic).Int64("tender_id", msg.TenderID).
				Msg("task dropped after retry budget")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt+1) * q.backoff):
		}
	}
}

func (q *MemoryQueue) Close() error {
	close(q.done)
	q.wg.Wait()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
