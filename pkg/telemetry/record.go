// Package telemetry defines the internal record model shared by every
// pipeline stage: spans, metric points, and log lines normalized into a
// single tagged Record type.
package telemetry

import (
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Kind discriminates the three telemetry record families.
type Kind string

const (
	// KindSpans identifies distributed-trace spans.
	KindSpans Kind = "spans"
	// KindMetrics identifies metric data points.
	KindMetrics Kind = "metrics"
	// KindLogs identifies log lines.
	KindLogs Kind = "logs"
)

// Kinds lists every supported kind in pipeline order.
func Kinds() []Kind {
	return []Kind{KindSpans, KindMetrics, KindLogs}
}

// ParseKind resolves a kind from its wire spelling.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(raw)) {
	case KindSpans:
		return KindSpans, nil
	case KindMetrics:
		return KindMetrics, nil
	case KindLogs:
		return KindLogs, nil
	default:
		return "", ewrap.Newf("unknown telemetry kind %q", raw)
	}
}

// Resource identifies the entity that produced a record.
type Resource struct {
	Service  string
	Instance string
}

// Empty reports whether the resource carries no identity.
func (r Resource) Empty() bool {
	return r.Service == ""
}

// SpanStatus is the terminal state reported for a span.
type SpanStatus string

const (
	// StatusUnset marks spans that reported no explicit status.
	StatusUnset SpanStatus = "unset"
	// StatusOK marks successfully completed spans.
	StatusOK SpanStatus = "ok"
	// StatusError marks failed spans.
	StatusError SpanStatus = "error"
)

// Span carries the trace-specific fields of a record.
type Span struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Name         string
	Duration     time.Duration
	Status       SpanStatus
}

// MetricType classifies a metric data point.
type MetricType string

const (
	// MetricCounter is a monotonically increasing value.
	MetricCounter MetricType = "counter"
	// MetricGauge is a point-in-time value.
	MetricGauge MetricType = "gauge"
	// MetricHistogramBucket is one cumulative histogram bucket.
	MetricHistogramBucket MetricType = "histogram_bucket"
)

// Metric carries the metric-specific fields of a record.
type Metric struct {
	Name  string
	Value float64
	Type  MetricType
	// UpperBound is the bucket boundary for histogram_bucket points.
	UpperBound float64
}

// Severity orders log lines by importance.
type Severity string

const (
	// SeverityDebug is the lowest log severity.
	SeverityDebug Severity = "debug"
	// SeverityInfo is the routine log severity.
	SeverityInfo Severity = "info"
	// SeverityWarn flags recoverable anomalies.
	SeverityWarn Severity = "warn"
	// SeverityError flags failures.
	SeverityError Severity = "error"
	// SeverityFatal flags failures that terminated the producer.
	SeverityFatal Severity = "fatal"
)

// Log carries the log-specific fields of a record.
type Log struct {
	Severity Severity
	Body     string
}

// Record is the normalized telemetry unit flowing through the pipeline.
// Exactly one of Span, Metric, or Log is populated, matching Kind.
// Records are immutable once they enter a sealed batch; processors that
// rewrite attributes operate on copies.
type Record struct {
	Kind       Kind
	Time       time.Time
	Observed   time.Time
	Resource   Resource
	Attributes []attribute.KeyValue

	Span   *Span
	Metric *Metric
	Log    *Log
}

// Validate asserts the boundary invariants the receiver enforces before a
// record may enter a queue.
func (r Record) Validate() error {
	if r.Resource.Empty() {
		return ewrap.New("record resource service name is required")
	}

	if r.Time.IsZero() {
		return ewrap.New("record timestamp is required")
	}

	switch r.Kind {
	case KindSpans:
		return r.validateSpan()
	case KindMetrics:
		return r.validateMetric()
	case KindLogs:
		return r.validateLog()
	default:
		return ewrap.Newf("unknown record kind %q", r.Kind)
	}
}

func (r Record) validateSpan() error {
	if r.Span == nil {
		return ewrap.New("span record is missing span fields")
	}

	if !r.Span.TraceID.IsValid() {
		return ewrap.New("span trace id is malformed")
	}

	if !r.Span.SpanID.IsValid() {
		return ewrap.New("span id is malformed")
	}

	switch r.Span.Status {
	case StatusUnset, StatusOK, StatusError:
	default:
		return ewrap.Newf("unknown span status %q", r.Span.Status)
	}

	return nil
}

func (r Record) validateMetric() error {
	if r.Metric == nil {
		return ewrap.New("metric record is missing metric fields")
	}

	if r.Metric.Name == "" {
		return ewrap.New("metric name is required")
	}

	switch r.Metric.Type {
	case MetricCounter, MetricGauge, MetricHistogramBucket:
	default:
		return ewrap.Newf("unknown metric type %q", r.Metric.Type)
	}

	return nil
}

func (r Record) validateLog() error {
	if r.Log == nil {
		return ewrap.New("log record is missing log fields")
	}

	switch r.Log.Severity {
	case SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityFatal:
	default:
		return ewrap.Newf("unknown log severity %q", r.Log.Severity)
	}

	return nil
}

// WithAttributes returns a copy of the record carrying the supplied
// attribute set. The original record is left untouched.
func (r Record) WithAttributes(attrs []attribute.KeyValue) Record {
	clone := r
	clone.Attributes = attrs

	return clone
}
