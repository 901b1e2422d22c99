package processor

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

const (
	actionDrop = "drop"
	actionKeep = "keep"
)

// filter removes records whose attributes match (action drop) or fail to
// match (action keep) the configured key-value pairs. A record matches
// when every configured pair is present with the given value.
type filter struct {
	match  map[string]string
	action string
}

func newFilter(spec config.ProcessorSpec) (Processor, error) {
	action := strings.ToLower(spec.Action)
	if action == "" {
		action = actionDrop
	}

	match := make(map[string]string, len(spec.Match))
	for key, value := range spec.Match {
		match[key] = value
	}

	return &filter{
		match:  match,
		action: action,
	}, nil
}

// Name implements Processor.
func (*filter) Name() string {
	return "filter"
}

// Process implements Processor.
func (f *filter) Process(batch telemetry.Batch) (telemetry.Batch, error) {
	kept := make([]telemetry.Record, 0, batch.Len())

	for _, record := range batch.Records {
		matched := f.matches(record.Attributes)
		if (f.action == actionDrop) != matched {
			kept = append(kept, record)
		}
	}

	return batch.Derive(kept), nil
}

func (f *filter) matches(attrs []attribute.KeyValue) bool {
	for key, want := range f.match {
		found := false

		for _, attr := range attrs {
			if string(attr.Key) == key && attr.Value.Emit() == want {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}
