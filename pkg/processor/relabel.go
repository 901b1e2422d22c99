package processor

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// relabeler renames and removes record attributes. Records themselves are
// never dropped; untouched records are carried through unchanged.
type relabeler struct {
	rename map[string]string
	drop   map[string]struct{}
}

func newRelabeler(spec config.ProcessorSpec) (Processor, error) {
	rename := make(map[string]string, len(spec.Rename))
	for old, next := range spec.Rename {
		rename[old] = next
	}

	drop := make(map[string]struct{}, len(spec.Drop))
	for _, key := range spec.Drop {
		drop[key] = struct{}{}
	}

	return &relabeler{
		rename: rename,
		drop:   drop,
	}, nil
}

// Name implements Processor.
func (*relabeler) Name() string {
	return "relabel"
}

// Process implements Processor.
func (r *relabeler) Process(batch telemetry.Batch) (telemetry.Batch, error) {
	out := make([]telemetry.Record, 0, batch.Len())

	for _, record := range batch.Records {
		out = append(out, r.relabel(record))
	}

	return batch.Derive(out), nil
}

func (r *relabeler) relabel(record telemetry.Record) telemetry.Record {
	if !r.touches(record.Attributes) {
		return record
	}

	attrs := make([]attribute.KeyValue, 0, len(record.Attributes))

	for _, attr := range record.Attributes {
		key := string(attr.Key)
		if _, dropped := r.drop[key]; dropped {
			continue
		}

		if next, ok := r.rename[key]; ok {
			attr.Key = attribute.Key(next)
		}

		attrs = append(attrs, attr)
	}

	return record.WithAttributes(attrs)
}

func (r *relabeler) touches(attrs []attribute.KeyValue) bool {
	for _, attr := range attrs {
		key := string(attr.Key)
		if _, ok := r.drop[key]; ok {
			return true
		}

		if _, ok := r.rename[key]; ok {
			return true
		}
	}

	return false
}
