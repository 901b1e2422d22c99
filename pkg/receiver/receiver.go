// Package receiver accepts telemetry pushes, validates and normalizes
// records, and feeds them into the per-kind batching queues. Validation
// is per record: one malformed record never rejects its siblings.
package receiver

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/relay/pkg/queue"
	"github.com/hyp3rd/relay/pkg/stats"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// ErrSchema signals that a payload could not be parsed at all. The
// caller's request is rejected; nothing enters the pipeline.
var ErrSchema = ewrap.New("payload cannot be parsed")

// Result reports the outcome of one ingest call: how many records were
// accepted and why the others were rejected.
type Result struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Rejection explains why one record was refused.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Receiver normalizes pushed payloads into the batching queues.
type Receiver struct {
	queues   map[telemetry.Kind]*queue.Queue
	counters *stats.Pipeline
	draining atomic.Bool
}

// New constructs a receiver over the per-kind queues.
func New(queues map[telemetry.Kind]*queue.Queue, counters *stats.Pipeline) *Receiver {
	return &Receiver{
		queues:   queues,
		counters: counters,
	}
}

// SetDraining stops the receiver from accepting new records. Callers are
// told to retry against another instance.
func (r *Receiver) SetDraining() {
	r.draining.Store(true)
}

// Draining reports whether the receiver has stopped accepting records.
func (r *Receiver) Draining() bool {
	return r.draining.Load()
}

// Ingest decodes a pushed payload of the given kind. Individually
// malformed records are counted and reported without failing the call;
// a full queue aborts with queue.ErrOverload, reporting the records that
// were accepted before the queue filled so the caller can resend the
// remainder.
func (r *Receiver) Ingest(ctx context.Context, kind telemetry.Kind, payload []byte) (Result, error) {
	kindCounters := r.counters.Kind(kind)

	if r.draining.Load() {
		return Result{}, queue.ErrClosed
	}

	target, ok := r.queues[kind]
	if !ok {
		return Result{}, ewrap.Wrapf(ErrSchema, "no pipeline for kind %q", kind)
	}

	records, err := decodePayload(payload)
	if err != nil {
		kindCounters.Rejected.Add(1)

		return Result{}, err
	}

	result := Result{}
	observed := time.Now()

	for idx, raw := range records {
		select {
		case <-ctx.Done():
			return result, ewrap.Wrap(ctx.Err(), "ingest canceled")
		default:
		}

		record, err := telemetry.UnmarshalRecord(raw, kind, observed)
		if err != nil {
			kindCounters.Rejected.Add(1)
			result.Rejected = append(result.Rejected, Rejection{
				Index:  idx,
				Reason: err.Error(),
			})

			continue
		}

		err = target.Append(record)
		if err != nil {
			if errors.Is(err, queue.ErrOverload) {
				kindCounters.Overloaded.Add(1)
			}

			return result, err
		}

		result.Accepted++
		kindCounters.Ingested.Add(1)
	}

	return result, nil
}

func decodePayload(payload []byte) ([][]byte, error) {
	envelope, err := telemetry.UnmarshalPayload(payload)
	if err != nil {
		return nil, ewrap.Wrap(ErrSchema, err.Error())
	}

	records := make([][]byte, 0, len(envelope.Records))
	for _, raw := range envelope.Records {
		records = append(records, raw)
	}

	return records, nil
}
