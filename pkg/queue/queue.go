// Package queue implements the per-kind batching queue: a bounded,
// append-only buffer that seals records into batches by size or age and
// signals backpressure when full.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/relay/pkg/telemetry"
)

// ErrOverload signals that the queue holds queue_capacity records and the
// caller must retry later. The caller's data is never silently dropped.
var ErrOverload = ewrap.New("telemetry queue at capacity")

// ErrClosed signals that the queue no longer accepts records because the
// pipeline is draining or stopped.
var ErrClosed = ewrap.New("telemetry queue closed")

// Config bounds one queue.
type Config struct {
	Kind          telemetry.Kind
	MaxBatchSize  int
	MaxBatchAge   time.Duration
	QueueCapacity int
}

// Queue buffers records of a single kind and seals them into immutable
// batches. Append and seal share one mutex: exactly one seal wins for a
// given open batch, and an append racing a seal lands in the next batch.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	open     []telemetry.Record
	firstAt  time.Time
	seq      uint64
	pending  int
	closed   bool
	ageTimer *time.Timer

	out chan telemetry.Batch
}

// New constructs a queue for the given kind and bounds.
func New(cfg Config) (*Queue, error) {
	if cfg.MaxBatchSize <= 0 {
		return nil, ewrap.New("max batch size must be positive")
	}

	if cfg.MaxBatchAge <= 0 {
		return nil, ewrap.New("max batch age must be positive")
	}

	if cfg.QueueCapacity < cfg.MaxBatchSize {
		return nil, ewrap.New("queue capacity must be at least the max batch size")
	}

	return &Queue{
		cfg: cfg,
		// Every sealed batch holds at least one record and at most
		// QueueCapacity records are pending, so a channel with one slot
		// per record can never block the sealer.
		out: make(chan telemetry.Batch, cfg.QueueCapacity),
	}, nil
}

// Kind returns the telemetry kind this queue buffers.
func (q *Queue) Kind() telemetry.Kind {
	return q.cfg.Kind
}

// Append adds one record to the open batch. It returns ErrOverload when
// the queue is at capacity and ErrClosed once the queue stops accepting.
func (q *Queue) Append(record telemetry.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if q.pending >= q.cfg.QueueCapacity {
		return ErrOverload
	}

	q.open = append(q.open, record)
	q.pending++

	if len(q.open) == 1 {
		q.firstAt = time.Now()
		q.armTimerLocked()
	}

	if len(q.open) >= q.cfg.MaxBatchSize {
		q.sealLocked()
	}

	return nil
}

// Next blocks until a sealed batch is available, the context is canceled,
// or the queue is closed and fully drained. The second return value is
// false when no more batches will arrive.
func (q *Queue) Next(ctx context.Context) (telemetry.Batch, bool) {
	select {
	case <-ctx.Done():
		return telemetry.Batch{}, false
	case batch, ok := <-q.out:
		if !ok {
			return telemetry.Batch{}, false
		}

		q.mu.Lock()
		q.pending -= batch.Len()
		q.mu.Unlock()

		return batch, true
	}
}

// Flush seals the open batch regardless of size and age thresholds.
// Used by the supervisor when draining.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sealLocked()
}

// Close stops accepting records, seals any open batch, and closes the
// batch stream once drained.
func (q *Queue) Close() {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return
	}

	q.closed = true
	q.sealLocked()
	q.mu.Unlock()

	close(q.out)
}

// Pending reports the records currently buffered (open batch plus sealed
// batches not yet consumed).
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending
}

func (q *Queue) armTimerLocked() {
	target := q.seq

	if q.ageTimer != nil {
		q.ageTimer.Stop()
	}

	q.ageTimer = time.AfterFunc(q.cfg.MaxBatchAge, func() {
		q.sealByAge(target)
	})
}

// sealByAge fires from the age timer. The seal only proceeds when the
// batch the timer was armed for is still open; otherwise a size seal or
// flush already won the race.
func (q *Queue) sealByAge(target uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.seq != target || len(q.open) == 0 {
		return
	}

	q.sealLocked()
}

func (q *Queue) sealLocked() {
	if len(q.open) == 0 {
		return
	}

	if q.ageTimer != nil {
		q.ageTimer.Stop()
		q.ageTimer = nil
	}

	batch := telemetry.Batch{
		Kind:      q.cfg.Kind,
		Seq:       q.seq,
		CreatedAt: time.Now(),
		Records:   q.open,
	}

	q.seq++
	q.open = nil

	q.out <- batch
}
