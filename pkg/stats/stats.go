// Package stats holds the process-wide pipeline counters. One Pipeline
// instance is constructed by the supervisor at startup and injected into
// every stage; all fields are updated atomically and read lock-free by
// the introspection endpoints.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/relay/pkg/telemetry"
)

// KindCounters tracks the per-kind ingestion and processing flow.
type KindCounters struct {
	Ingested       atomic.Int64
	Rejected       atomic.Int64
	Overloaded     atomic.Int64
	BatchesSealed  atomic.Int64
	Processed      atomic.Int64
	DroppedBatches atomic.Int64
	DroppedRecords atomic.Int64
}

// SinkCounters tracks one sink's delivery outcomes.
type SinkCounters struct {
	ExportedBatches     atomic.Int64
	ExportedRecords     atomic.Int64
	RetriedAttempts     atomic.Int64
	DeadLettered        atomic.Int64
	DeadLetterRecords   atomic.Int64
	QueueDrops          atomic.Int64
	BreakerOpens        atomic.Int64
	BreakerShortCircuit atomic.Int64
}

// DeadLetter summarizes one batch that exhausted its retries.
type DeadLetter struct {
	Sink     string    `json:"sink"`
	Kind     string    `json:"kind"`
	BatchSeq uint64    `json:"batch_seq"`
	Records  int       `json:"records"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Pipeline aggregates every counter the relay exposes. Kind and sink maps
// are fixed at construction, so concurrent readers never race with map
// writes.
type Pipeline struct {
	kinds map[telemetry.Kind]*KindCounters
	sinks map[string]*SinkCounters

	mu         sync.Mutex
	deadLetter []DeadLetter
	dlCap      int
}

// NewPipeline builds the counter set for the configured sinks.
func NewPipeline(sinkNames []string, deadLetterHistory int) *Pipeline {
	kinds := make(map[telemetry.Kind]*KindCounters, len(telemetry.Kinds()))
	for _, kind := range telemetry.Kinds() {
		kinds[kind] = &KindCounters{}
	}

	sinks := make(map[string]*SinkCounters, len(sinkNames))
	for _, name := range sinkNames {
		sinks[name] = &SinkCounters{}
	}

	if deadLetterHistory < 0 {
		deadLetterHistory = 0
	}

	return &Pipeline{
		kinds: kinds,
		sinks: sinks,
		dlCap: deadLetterHistory,
	}
}

// Kind returns the counters for one telemetry kind. Unknown kinds return
// a discarded counter set rather than nil so callers never branch.
func (p *Pipeline) Kind(kind telemetry.Kind) *KindCounters {
	if c, ok := p.kinds[kind]; ok {
		return c
	}

	return &KindCounters{}
}

// Sink returns the counters for one sink by name.
func (p *Pipeline) Sink(name string) *SinkCounters {
	if c, ok := p.sinks[name]; ok {
		return c
	}

	return &SinkCounters{}
}

// SinkNames lists the configured sink names.
func (p *Pipeline) SinkNames() []string {
	names := make([]string, 0, len(p.sinks))
	for name := range p.sinks {
		names = append(names, name)
	}

	return names
}

// RecordDeadLetter appends a dead-letter summary, evicting the oldest
// entry once the history cap is reached.
func (p *Pipeline) RecordDeadLetter(entry DeadLetter) {
	if p.dlCap == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.deadLetter = append(p.deadLetter, entry)
	if len(p.deadLetter) > p.dlCap {
		p.deadLetter = p.deadLetter[len(p.deadLetter)-p.dlCap:]
	}
}

// DeadLetters returns a copy of the retained dead-letter summaries,
// newest last.
func (p *Pipeline) DeadLetters() []DeadLetter {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]DeadLetter, len(p.deadLetter))
	copy(out, p.deadLetter)

	return out
}

// KindSnapshot is a point-in-time read of one kind's counters.
type KindSnapshot struct {
	Ingested       int64 `json:"ingested"`
	Rejected       int64 `json:"rejected"`
	Overloaded     int64 `json:"overloaded"`
	BatchesSealed  int64 `json:"batches_sealed"`
	Processed      int64 `json:"processed"`
	DroppedBatches int64 `json:"dropped_batches"`
	DroppedRecords int64 `json:"dropped_records"`
}

// SinkSnapshot is a point-in-time read of one sink's counters.
type SinkSnapshot struct {
	ExportedBatches     int64 `json:"exported_batches"`
	ExportedRecords     int64 `json:"exported_records"`
	RetriedAttempts     int64 `json:"retried_attempts"`
	DeadLettered        int64 `json:"dead_lettered"`
	DeadLetterRecords   int64 `json:"dead_letter_records"`
	QueueDrops          int64 `json:"queue_drops"`
	BreakerOpens        int64 `json:"breaker_opens"`
	BreakerShortCircuit int64 `json:"breaker_short_circuit"`
}

// SnapshotKind reads one kind's counters.
func (p *Pipeline) SnapshotKind(kind telemetry.Kind) KindSnapshot {
	c := p.Kind(kind)

	return KindSnapshot{
		Ingested:       c.Ingested.Load(),
		Rejected:       c.Rejected.Load(),
		Overloaded:     c.Overloaded.Load(),
		BatchesSealed:  c.BatchesSealed.Load(),
		Processed:      c.Processed.Load(),
		DroppedBatches: c.DroppedBatches.Load(),
		DroppedRecords: c.DroppedRecords.Load(),
	}
}

// SnapshotSink reads one sink's counters.
func (p *Pipeline) SnapshotSink(name string) SinkSnapshot {
	c := p.Sink(name)

	return SinkSnapshot{
		ExportedBatches:     c.ExportedBatches.Load(),
		ExportedRecords:     c.ExportedRecords.Load(),
		RetriedAttempts:     c.RetriedAttempts.Load(),
		DeadLettered:        c.DeadLettered.Load(),
		DeadLetterRecords:   c.DeadLetterRecords.Load(),
		QueueDrops:          c.QueueDrops.Load(),
		BreakerOpens:        c.BreakerOpens.Load(),
		BreakerShortCircuit: c.BreakerShortCircuit.Load(),
	}
}
