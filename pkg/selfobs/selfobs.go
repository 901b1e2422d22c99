// Package selfobs wires the relay's own telemetry: OTel tracer and meter
// providers shipping over OTLP, plus instrumentation helpers used by the
// pipeline stages. The relay is itself an observable service; when
// telemetry is disabled the helpers degrade to no-ops.
package selfobs

import (
	"context"
	"errors"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tnoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/hyp3rd/relay/pkg/config"
)

// Runtime owns the relay's telemetry providers and their exporters.
type Runtime struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	sdkTracer *sdktrace.TracerProvider
	sdkMeter  *sdkmetric.MeterProvider
	reader    *sdkmetric.PeriodicReader
}

// NewRuntime builds the self-telemetry providers from configuration.
// When telemetry is disabled the returned runtime hands out no-op
// providers, so callers never branch.
func NewRuntime(ctx context.Context, cfg config.Config) (*Runtime, error) {
	if !cfg.Telemetry.Enabled {
		return &Runtime{
			tracerProvider: tnoop.NewTracerProvider(),
			meterProvider:  mnoop.NewMeterProvider(),
		}, nil
	}

	if cfg.Telemetry.OTLP == nil {
		return nil, ewrap.New("telemetry.otlp section is required when telemetry is enabled")
	}

	res, err := buildResource(ctx, cfg.Service)
	if err != nil {
		return nil, ewrap.Wrap(err, "build resource")
	}

	traceExp, err := newTraceExporter(ctx, cfg.Telemetry.OTLP)
	if err != nil {
		return nil, ewrap.Wrap(err, "build trace exporter")
	}

	metricExp, err := newMetricExporter(ctx, cfg.Telemetry.OTLP)
	if err != nil {
		return nil, ewrap.Wrap(err, "build metric exporter")
	}

	reader := sdkmetric.NewPeriodicReader(metricExp)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Runtime{
		tracerProvider: tp,
		meterProvider:  mp,
		sdkTracer:      tp,
		sdkMeter:       mp,
		reader:         reader,
	}, nil
}

// TracerProvider returns the active tracer provider.
func (r *Runtime) TracerProvider() trace.TracerProvider {
	return r.tracerProvider
}

// MeterProvider returns the active meter provider.
func (r *Runtime) MeterProvider() metric.MeterProvider {
	return r.meterProvider
}

// Shutdown flushes and releases the providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.sdkTracer != nil {
		err := r.sdkTracer.Shutdown(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if r.sdkMeter != nil {
		err := r.sdkMeter.Shutdown(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return ewrap.Wrap(errors.Join(errs...), "shutdown self telemetry")
	}

	return nil
}

func buildResource(ctx context.Context, svc config.ServiceConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(svc.Name),
		semconv.ServiceInstanceIDKey.String(svc.InstanceID),
		semconv.DeploymentEnvironmentKey.String(svc.Environment),
	}

	for k, v := range svc.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	envRes, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, ewrap.Wrap(err, "create environment resource")
	}

	merged, err := resource.Merge(resource.Default(), envRes)
	if err != nil {
		return nil, ewrap.Wrap(err, "merge environment resource")
	}

	merged, err = resource.Merge(merged, resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, ewrap.Wrap(err, "merge attribute resource")
	}

	return merged, nil
}
