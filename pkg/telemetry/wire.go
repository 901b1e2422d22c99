package telemetry

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Payload is the self-describing wire envelope pushed at the ingestion
// endpoint and emitted toward HTTP sinks. Each record is decoded
// individually so one malformed record never rejects its siblings.
type Payload struct {
	Records []json.RawMessage `json:"records"`
}

// UnmarshalPayload decodes the ingestion envelope without touching the
// individual records.
func UnmarshalPayload(data []byte) (Payload, error) {
	var payload Payload

	err := json.Unmarshal(data, &payload)
	if err != nil {
		return Payload{}, ewrap.Wrap(err, "decode payload envelope")
	}

	return payload, nil
}

// wireRecord is the JSON shape of one record. The kind discriminator
// arrives out of band (ingest URL, batch envelope), so only the fields of
// the matching kind are read.
type wireRecord struct {
	TimeUnixNano int64           `json:"time_unix_nano"`
	Resource     wireResource    `json:"resource"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`

	TraceID      string `json:"trace_id,omitempty"`
	SpanID       string `json:"span_id,omitempty"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	SpanName     string `json:"span_name,omitempty"`
	DurationNano int64  `json:"duration_nano,omitempty"`
	Status       string `json:"status,omitempty"`

	MetricName string  `json:"metric_name,omitempty"`
	Value      float64 `json:"value,omitempty"`
	MetricType string  `json:"metric_type,omitempty"`
	UpperBound float64 `json:"upper_bound,omitempty"`

	Severity string `json:"severity,omitempty"`
	Body     string `json:"body,omitempty"`
}

type wireResource struct {
	Service  string `json:"service"`
	Instance string `json:"instance,omitempty"`
}

// UnmarshalRecord decodes one wire record of the given kind and validates
// it against the boundary invariants.
func UnmarshalRecord(raw []byte, kind Kind, observed time.Time) (Record, error) {
	var wire wireRecord

	err := json.Unmarshal(raw, &wire)
	if err != nil {
		return Record{}, ewrap.Wrap(err, "decode record")
	}

	attrs, err := decodeAttributes(wire.Attributes)
	if err != nil {
		return Record{}, err
	}

	record := Record{
		Kind:     kind,
		Time:     time.Unix(0, wire.TimeUnixNano),
		Observed: observed,
		Resource: Resource{
			Service:  wire.Resource.Service,
			Instance: wire.Resource.Instance,
		},
		Attributes: attrs,
	}

	if wire.TimeUnixNano == 0 {
		record.Time = time.Time{}
	}

	switch kind {
	case KindSpans:
		span, err := decodeSpan(wire)
		if err != nil {
			return Record{}, err
		}

		record.Span = span
	case KindMetrics:
		record.Metric = &Metric{
			Name:       wire.MetricName,
			Value:      wire.Value,
			Type:       MetricType(wire.MetricType),
			UpperBound: wire.UpperBound,
		}
	case KindLogs:
		record.Log = &Log{
			Severity: Severity(wire.Severity),
			Body:     wire.Body,
		}
	}

	err = record.Validate()
	if err != nil {
		return Record{}, err
	}

	return record, nil
}

func decodeSpan(wire wireRecord) (*Span, error) {
	traceID, err := trace.TraceIDFromHex(wire.TraceID)
	if err != nil {
		return nil, ewrap.Wrap(err, "parse trace id")
	}

	spanID, err := trace.SpanIDFromHex(wire.SpanID)
	if err != nil {
		return nil, ewrap.Wrap(err, "parse span id")
	}

	span := &Span{
		TraceID:  traceID,
		SpanID:   spanID,
		Name:     wire.SpanName,
		Duration: time.Duration(wire.DurationNano),
		Status:   SpanStatus(wire.Status),
	}

	if span.Status == "" {
		span.Status = StatusUnset
	}

	if wire.ParentSpanID != "" {
		parent, err := trace.SpanIDFromHex(wire.ParentSpanID)
		if err != nil {
			return nil, ewrap.Wrap(err, "parse parent span id")
		}

		span.ParentSpanID = parent
	}

	return span, nil
}

// decodeAttributes maps a JSON object onto typed attributes. Integers
// are distinguished from floats via json.Number; keys are sorted so the
// decoded order is stable.
func decodeAttributes(raw json.RawMessage) ([]attribute.KeyValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	values := map[string]any{}

	err := decoder.Decode(&values)
	if err != nil {
		return nil, ewrap.Wrap(err, "decode attributes")
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))

	for _, key := range keys {
		attr, err := toAttribute(key, values[key])
		if err != nil {
			return nil, err
		}

		attrs = append(attrs, attr)
	}

	return attrs, nil
}

func toAttribute(key string, value any) (attribute.KeyValue, error) {
	switch typed := value.(type) {
	case string:
		return attribute.String(key, typed), nil
	case bool:
		return attribute.Bool(key, typed), nil
	case json.Number:
		if intVal, err := typed.Int64(); err == nil {
			return attribute.Int64(key, intVal), nil
		}

		floatVal, err := typed.Float64()
		if err != nil {
			return attribute.KeyValue{}, ewrap.Wrapf(err, "attribute %q is not numeric", key)
		}

		return attribute.Float64(key, floatVal), nil
	default:
		return attribute.KeyValue{}, ewrap.Newf("attribute %q has unsupported type", key)
	}
}

// BatchEnvelope is the wire form of a sealed batch pushed at HTTP sinks.
type BatchEnvelope struct {
	Kind    string            `json:"kind"`
	Seq     uint64            `json:"seq"`
	Records []json.RawMessage `json:"records"`
}

// MarshalBatch serializes a batch into its sink wire form.
func MarshalBatch(batch Batch) ([]byte, error) {
	records := make([]json.RawMessage, 0, batch.Len())

	for idx, record := range batch.Records {
		raw, err := MarshalRecord(record)
		if err != nil {
			return nil, ewrap.Wrapf(err, "marshal record %d", idx)
		}

		records = append(records, raw)
	}

	data, err := json.Marshal(BatchEnvelope{
		Kind:    string(batch.Kind),
		Seq:     batch.Seq,
		Records: records,
	})
	if err != nil {
		return nil, ewrap.Wrap(err, "marshal batch envelope")
	}

	return data, nil
}

// MarshalRecord serializes one record into its wire form.
func MarshalRecord(record Record) ([]byte, error) {
	wire := wireRecord{
		TimeUnixNano: record.Time.UnixNano(),
		Resource: wireResource{
			Service:  record.Resource.Service,
			Instance: record.Resource.Instance,
		},
	}

	if len(record.Attributes) > 0 {
		attrs := make(map[string]any, len(record.Attributes))
		for _, attr := range record.Attributes {
			attrs[string(attr.Key)] = attr.Value.AsInterface()
		}

		raw, err := json.Marshal(attrs)
		if err != nil {
			return nil, ewrap.Wrap(err, "marshal attributes")
		}

		wire.Attributes = raw
	}

	switch {
	case record.Span != nil:
		wire.TraceID = record.Span.TraceID.String()
		wire.SpanID = record.Span.SpanID.String()
		wire.SpanName = record.Span.Name
		wire.DurationNano = int64(record.Span.Duration)
		wire.Status = string(record.Span.Status)

		if record.Span.ParentSpanID.IsValid() {
			wire.ParentSpanID = record.Span.ParentSpanID.String()
		}
	case record.Metric != nil:
		wire.MetricName = record.Metric.Name
		wire.Value = record.Metric.Value
		wire.MetricType = string(record.Metric.Type)
		wire.UpperBound = record.Metric.UpperBound
	case record.Log != nil:
		wire.Severity = string(record.Log.Severity)
		wire.Body = record.Log.Body
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, ewrap.Wrap(err, "marshal record")
	}

	return data, nil
}
