package selfobs

import (
	"context"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StageInfo describes one instrumented pipeline operation, such as a
// delivery attempt toward a sink or a processor pass.
type StageInfo struct {
	Stage      string
	Target     string
	Kind       string
	Attributes []attribute.KeyValue
}

// Helper wraps pipeline operations with spans and RED metrics. A nil
// Helper is valid and executes the operation unobserved.
type Helper struct {
	tracer  trace.Tracer
	opCount metric.Int64Counter
	opTime  metric.Float64Histogram
}

// NewHelper constructs an instrumentation helper from the runtime
// providers.
func NewHelper(rt *Runtime) (*Helper, error) {
	if rt == nil {
		return nil, ewrap.New("self telemetry runtime is nil")
	}

	tracer := rt.TracerProvider().Tracer("relay/pipeline")
	meter := rt.MeterProvider().Meter("relay/pipeline")

	count, err := meter.Int64Counter(
		"pipeline.operation.count",
		metric.WithDescription("Number of pipeline operations executed"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create operation counter")
	}

	latency, err := meter.Float64Histogram(
		"pipeline.operation.duration_ms",
		metric.WithDescription("Latency of pipeline operations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create operation latency histogram")
	}

	return &Helper{
		tracer:  tracer,
		opCount: count,
		opTime:  latency,
	}, nil
}

// Instrument executes fn while recording a span and RED metrics for the
// operation.
func (h *Helper) Instrument(ctx context.Context, info StageInfo, fn func(context.Context) error) error {
	if h == nil {
		return fn(ctx)
	}

	ctx, span := h.tracer.Start(ctx, spanName(info))
	start := time.Now()

	attrs := stageAttributes(info)
	span.SetAttributes(attrs...)

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()

	duration := float64(time.Since(start)) / float64(time.Millisecond)
	h.opTime.Record(ctx, duration, metric.WithAttributes(attrs...))

	countAttrs := append([]attribute.KeyValue{}, attrs...)
	countAttrs = append(countAttrs, attribute.String("pipeline.result", resultTag(err)))
	h.opCount.Add(ctx, 1, metric.WithAttributes(countAttrs...))

	return err
}

func spanName(info StageInfo) string {
	if info.Target != "" {
		return info.Stage + ":" + info.Target
	}

	return info.Stage
}

func stageAttributes(info StageInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.stage", info.Stage),
	}
	if info.Target != "" {
		attrs = append(attrs, attribute.String("pipeline.target", info.Target))
	}

	if info.Kind != "" {
		attrs = append(attrs, attribute.String("telemetry.kind", info.Kind))
	}

	return append(attrs, info.Attributes...)
}

func resultTag(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
