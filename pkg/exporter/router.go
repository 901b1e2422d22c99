package exporter

import (
	"context"
	"errors"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/logging"
	"github.com/hyp3rd/relay/pkg/selfobs"
	"github.com/hyp3rd/relay/pkg/stats"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// Router fans each processed batch out to every sink of the matching
// kind. Sinks are fully independent: each has its own worker, queue,
// retry policy, and breaker.
type Router struct {
	workers map[telemetry.Kind][]*sinkWorker
	all     []*sinkWorker
}

// NewRouter builds sinks and their workers from configuration.
func NewRouter(
	specs []config.SinkSpec,
	pipeline *stats.Pipeline,
	logger logging.Adapter,
	helper *selfobs.Helper,
) (*Router, error) {
	if logger == nil {
		logger = logging.NewNoopAdapter()
	}

	router := &Router{
		workers: map[telemetry.Kind][]*sinkWorker{},
	}

	for _, spec := range specs {
		spec = config.ApplySinkDefaults(spec)

		sink, err := NewSink(spec)
		if err != nil {
			return nil, ewrap.Wrapf(err, "build sink %q", spec.Name)
		}

		worker := newSinkWorker(sink, spec, pipeline, logger, helper)
		router.workers[sink.Kind()] = append(router.workers[sink.Kind()], worker)
		router.all = append(router.all, worker)
	}

	return router, nil
}

// Start launches one delivery goroutine per sink. The context bounds
// in-flight exports: cancellation abandons the current attempt.
func (r *Router) Start(ctx context.Context) {
	for _, worker := range r.all {
		worker.start(ctx)
	}
}

// Dispatch routes a batch to every sink of its kind without blocking.
func (r *Router) Dispatch(ctx context.Context, batch telemetry.Batch) {
	for _, worker := range r.workers[batch.Kind] {
		worker.dispatch(ctx, batch)
	}
}

// SinkNames lists the configured sinks in configuration order.
func (r *Router) SinkNames() []string {
	names := make([]string, 0, len(r.all))
	for _, worker := range r.all {
		names = append(names, worker.sink.Name())
	}

	return names
}

// Close stops intake on every worker, waits for in-flight deliveries,
// and shuts the sinks down.
func (r *Router) Close(ctx context.Context) error {
	for _, worker := range r.all {
		worker.close()
	}

	var errs []error

	for _, worker := range r.all {
		err := worker.sink.Shutdown(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return ewrap.Wrap(errors.Join(errs...), "shutdown sinks")
	}

	return nil
}
