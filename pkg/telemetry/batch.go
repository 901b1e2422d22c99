package telemetry

import "time"

// Batch is an ordered run of records of a single kind, sealed by the
// batching queue. A sealed batch is never appended to again; processors
// derive new batches that keep the kind and sequence number.
type Batch struct {
	Kind      Kind
	Seq       uint64
	CreatedAt time.Time
	Records   []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}

// Derive returns a batch with the same identity but a new record set.
// Used by processors, which may shrink or rewrite records but never
// reorder them or change the batch kind.
func (b Batch) Derive(records []Record) Batch {
	return Batch{
		Kind:      b.Kind,
		Seq:       b.Seq,
		CreatedAt: b.CreatedAt,
		Records:   records,
	}
}
