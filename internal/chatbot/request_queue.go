package chatbot

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lexmarket/chatbot/internal/metrics"
)

// RequestQueue collapses concurrent calls that share a key into one
// execution. Every caller of a key observes the same outcome.
type RequestQueue struct {
	group   singleflight.Group
	metrics *metrics.Client

	mu      sync.Mutex
	pending map[string]uint64
	seq     uint64
}

// NewRequestQueue creates an empty queue. m may be nil.
func NewRequestQueue(m *metrics.Client) *RequestQueue {
	return &RequestQueue{
		metrics: m,
		pending: make(map[string]uint64),
	}
}

// Enqueue runs fn under key unless a call for key is already in flight, in
// which case it waits for that call and returns its result. If ctx ends
// first, Enqueue returns ctx.Err(); the shared call keeps running for the
// other waiters.
func (q *RequestQueue) Enqueue(ctx context.Context, key string, fn func() (Payload, error)) (Payload, error) {
	if q.Pending(key) {
		q.metrics.DedupHit()
	}

	ch := q.group.DoChan(key, func() (result any, err error) {
		token := q.track(key)
		defer q.untrack(key, token)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("request %q panicked: %v", key, r)
			}
		}()
		return fn()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Payload{}, res.Err
		}
		payload, _ := res.Val.(Payload)
		return payload, nil
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}

// Pending reports whether a call for key has started and not yet settled.
func (q *RequestQueue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[key]
	return ok
}

// Len returns the number of in-flight keys.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Cancel forgets key so the next Enqueue starts a fresh call. It does not
// abort the running call; use Transport.Cancel for that.
func (q *RequestQueue) Cancel(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.group.Forget(key)
	delete(q.pending, key)
}

// CancelAll forgets every tracked key.
func (q *RequestQueue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key := range q.pending {
		q.group.Forget(key)
	}
	clear(q.pending)
}

func (q *RequestQueue) track(key string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.pending[key] = q.seq
	return q.seq
}

// untrack removes key only if it still belongs to the call holding token.
func (q *RequestQueue) untrack(key string, token uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[key] == token {
		delete(q.pending, key)
	}
}
