// Package dlq holds events a sink failed to deliver after exhausting
// retries. It is in-memory and best-effort (process-local, not a
// durability mechanism): on restart its contents are gone, same as the
// bounded queues upstream of it.
package dlq

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// ReprocessCallback re-attempts delivery of a dead-lettered event. It is
// invoked by Reprocess, never automatically.
type ReprocessCallback func(event types.Event, failedSink string) error

type Entry struct {
	Event      types.Event
	Error      string
	FailedSink string
	RetryCount int
	Timestamp  time.Time
}

type Config struct {
	MaxEntries int
}

// Queue is a bounded, ring-buffer-style holding area: once MaxEntries is
// reached, the oldest entry is evicted to make room for the newest.
type Queue struct {
	mu        sync.Mutex
	cfg       Config
	logger    *logrus.Logger
	entries   []Entry
	callback  ReprocessCallback
	evictions int64
}

func NewQueue(cfg Config, logger *logrus.Logger) *Queue {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	return &Queue{cfg: cfg, logger: logger, entries: make([]Entry, 0, cfg.MaxEntries)}
}

func (q *Queue) SetReprocessCallback(cb ReprocessCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callback = cb
}

// Add stores event after failedSink exhausted its retries for it.
func (q *Queue) Add(event types.Event, errMsg, failedSink string, retryCount int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.cfg.MaxEntries {
		q.entries = q.entries[1:]
		q.evictions++
	}
	q.entries = append(q.entries, Entry{
		Event:      event.Clone(),
		Error:      errMsg,
		FailedSink: failedSink,
		RetryCount: retryCount,
		Timestamp:  time.Now(),
	})

	if q.logger != nil {
		q.logger.WithFields(logrus.Fields{"sink": failedSink, "error": errMsg}).Warn("dlq: event dead-lettered")
	}
}

// Len returns the number of entries currently held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Reprocess attempts redelivery of every held entry via the registered
// callback, removing entries that succeed.
func (q *Queue) Reprocess() (succeeded, failed int) {
	q.mu.Lock()
	cb := q.callback
	entries := make([]Entry, len(q.entries))
	copy(entries, q.entries)
	q.mu.Unlock()

	if cb == nil {
		return 0, 0
	}

	remaining := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := cb(e.Event, e.FailedSink); err != nil {
			remaining = append(remaining, e)
			failed++
			continue
		}
		succeeded++
	}

	q.mu.Lock()
	q.entries = remaining
	q.mu.Unlock()
	return succeeded, failed
}

type Stats struct {
	Entries   int
	Evictions int64
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Entries: len(q.entries), Evictions: q.evictions}
}
