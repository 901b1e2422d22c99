package processor

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// sampler keeps a deterministic fraction of records. Spans hash on their
// trace id, so every span of one trace receives the same keep/drop
// decision; metrics and logs hash on stable record identity instead.
type sampler struct {
	ratio     float64
	seed      uint64
	threshold uint64
}

func newSampler(spec config.ProcessorSpec) (Processor, error) {
	ratio := spec.Ratio

	var threshold uint64
	if ratio >= 1 {
		threshold = math.MaxUint64
	} else {
		threshold = uint64(ratio * float64(math.MaxUint64))
	}

	return &sampler{
		ratio:     ratio,
		seed:      spec.Seed,
		threshold: threshold,
	}, nil
}

// Name implements Processor.
func (*sampler) Name() string {
	return "sample"
}

// Process implements Processor.
func (s *sampler) Process(batch telemetry.Batch) (telemetry.Batch, error) {
	if s.ratio >= 1 {
		return batch, nil
	}

	kept := make([]telemetry.Record, 0, batch.Len())

	for _, record := range batch.Records {
		if s.keep(record) {
			kept = append(kept, record)
		}
	}

	return batch.Derive(kept), nil
}

func (s *sampler) keep(record telemetry.Record) bool {
	digest := xxhash.New()

	var seedBytes [8]byte

	binary.BigEndian.PutUint64(seedBytes[:], s.seed)
	_, _ = digest.Write(seedBytes[:])

	if record.Kind == telemetry.KindSpans && record.Span != nil {
		traceID := record.Span.TraceID
		_, _ = digest.Write(traceID[:])
	} else {
		_, _ = digest.WriteString(record.Resource.Service)
		_, _ = digest.WriteString(record.Resource.Instance)

		var timeBytes [8]byte

		binary.BigEndian.PutUint64(timeBytes[:], uint64(record.Time.UnixNano()))
		_, _ = digest.Write(timeBytes[:])

		switch {
		case record.Metric != nil:
			_, _ = digest.WriteString(record.Metric.Name)
		case record.Log != nil:
			_, _ = digest.WriteString(record.Log.Body)
		}
	}

	return digest.Sum64() <= s.threshold
}
