package reconcile

import (
	"sync"
	"time"

	"txledger/internal/retry"
)

type opKind string

const (
	opCreate opKind = "create"
	opPatch  opKind = "patch"
)

type queueEntry struct {
	attempts int
	next     time.Time
	lastErr  string
}

type queueKey struct {
	op opKind
	id string
}

// retryQueue holds backoff bookkeeping for failed backend writes. It is
// bounded: when full, the entry due soonest is evicted, which
// only resets that identifier's backoff.
type retryQueue struct {
	mu      sync.Mutex
	size    int
	backoff *retry.Retry
	now     func() time.Time
	entries map[queueKey]*queueEntry
}

func newRetryQueue(size int, backoff *retry.Retry) *retryQueue {
	if size <= 0 {
		size = 256
	}
	return &retryQueue{
		size:    size,
		backoff: backoff,
		now:     time.Now,
		entries: make(map[queueKey]*queueEntry),
	}
}

// due reports whether a write for id may be attempted now.
func (q *retryQueue) due(op opKind, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[queueKey{op, id}]
	return !ok || !q.now().Before(e.next)
}

// failed records a failed attempt and schedules the next one.
func (q *retryQueue) failed(op opKind, id string, err error) *queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := queueKey{op, id}
	e, ok := q.entries[key]
	if !ok {
		if len(q.entries) >= q.size {
			q.evictLocked()
		}
		e = &queueEntry{}
		q.entries[key] = e
	}
	e.attempts++
	e.next = q.now().Add(q.backoff.Delay(e.attempts))
	if err != nil {
		e.lastErr = err.Error()
	}
	cp := *e
	return &cp
}

func (q *retryQueue) succeeded(op opKind, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, queueKey{op, id})
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *retryQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[queueKey]*queueEntry)
}

func (q *retryQueue) evictLocked() {
	var oldest queueKey
	var oldestNext time.Time
	first := true
	for k, e := range q.entries {
		if first || e.next.Before(oldestNext) {
			oldest, oldestNext, first = k, e.next, false
		}
	}
	delete(q.entries, oldest)
}
