package exporter

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/logging"
	"github.com/hyp3rd/relay/pkg/selfobs"
	"github.com/hyp3rd/relay/pkg/stats"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// sinkWorker owns delivery for one sink: a bounded inbox of batches, the
// retry loop, and the circuit breaker. One slow sink only ever fills its
// own inbox.
type sinkWorker struct {
	sink     Sink
	spec     config.SinkSpec
	breaker  *breaker
	counters *stats.SinkCounters
	pipeline *stats.Pipeline
	logger   logging.Adapter
	helper   *selfobs.Helper

	in   chan telemetry.Batch
	wg   sync.WaitGroup
	once sync.Once
}

func newSinkWorker(
	sink Sink,
	spec config.SinkSpec,
	pipeline *stats.Pipeline,
	logger logging.Adapter,
	helper *selfobs.Helper,
) *sinkWorker {
	counters := pipeline.Sink(sink.Name())

	return &sinkWorker{
		sink:     sink,
		spec:     spec,
		counters: counters,
		pipeline: pipeline,
		logger:   logger,
		helper:   helper,
		breaker: newBreaker(spec.Breaker.FailureThreshold, spec.Breaker.Cooldown, func() {
			counters.BreakerOpens.Add(1)
		}),
		in: make(chan telemetry.Batch, spec.QueueBatches),
	}
}

func (w *sinkWorker) start(ctx context.Context) {
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		for batch := range w.in {
			w.deliver(ctx, batch)
		}
	}()
}

// dispatch hands a batch to the worker without blocking. A full inbox
// means the sink is too far behind; the batch is dropped for this sink
// only, with explicit accounting.
func (w *sinkWorker) dispatch(ctx context.Context, batch telemetry.Batch) {
	select {
	case w.in <- batch:
	default:
		w.counters.QueueDrops.Add(1)
		w.logger.Warn(ctx, "sink queue full, batch dropped",
			attribute.String("sink", w.sink.Name()),
			attribute.Int64("batch_seq", int64(batch.Seq)),
			attribute.Int("records", batch.Len()),
		)
	}
}

// close stops intake and waits for the in-flight delivery to finish.
func (w *sinkWorker) close() {
	w.once.Do(func() {
		close(w.in)
	})

	w.wg.Wait()
}

// deliver runs the retry loop for one batch. Exhausted retries, permanent
// rejections, an open breaker, and drain-deadline cancellation all end in
// dead-lettering; none of them affect other batches or sinks.
func (w *sinkWorker) deliver(ctx context.Context, batch telemetry.Batch) {
	if !w.breaker.Allow() {
		w.counters.BreakerShortCircuit.Add(1)
		w.deadLetter(ctx, batch, nil, "circuit open")

		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.spec.Retry.InitialInterval
	policy.MaxInterval = w.spec.Retry.MaxInterval
	policy.MaxElapsedTime = w.spec.Retry.MaxElapsedTime
	policy.Reset()

	attempt := &ExportAttempt{
		Sink:     w.sink.Name(),
		BatchSeq: batch.Seq,
	}

	for {
		attempt.Attempts++

		err := w.exportOnce(ctx, batch)
		if err == nil {
			w.breaker.Success()
			w.counters.ExportedBatches.Add(1)
			w.counters.ExportedRecords.Add(int64(batch.Len()))

			return
		}

		attempt.LastErr = err
		w.breaker.Failure()

		if IsPermanent(err) {
			w.deadLetter(ctx, batch, attempt, "permanent rejection")

			return
		}

		if attempt.Attempts >= w.spec.Retry.MaxAttempts {
			w.deadLetter(ctx, batch, attempt, "retries exhausted")

			return
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			w.deadLetter(ctx, batch, attempt, "retry window exhausted")

			return
		}

		attempt.NextRetryAt = time.Now().Add(wait)
		w.counters.RetriedAttempts.Add(1)

		select {
		case <-ctx.Done():
			w.deadLetter(ctx, batch, attempt, "drain deadline")

			return
		case <-time.After(wait):
		}

		if !w.breaker.Allow() {
			w.counters.BreakerShortCircuit.Add(1)
			w.deadLetter(ctx, batch, attempt, "circuit open")

			return
		}
	}
}

func (w *sinkWorker) exportOnce(ctx context.Context, batch telemetry.Batch) error {
	attemptCtx := ctx
	if w.spec.Timeout > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, w.spec.Timeout)
		defer cancel()
	}

	info := selfobs.StageInfo{
		Stage:  "export",
		Target: w.sink.Name(),
		Kind:   string(batch.Kind),
	}

	return w.helper.Instrument(attemptCtx, info, func(ctx context.Context) error {
		return w.sink.Export(ctx, batch)
	})
}

func (w *sinkWorker) deadLetter(ctx context.Context, batch telemetry.Batch, attempt *ExportAttempt, reason string) {
	w.counters.DeadLettered.Add(1)
	w.counters.DeadLetterRecords.Add(int64(batch.Len()))

	entry := stats.DeadLetter{
		Sink:     w.sink.Name(),
		Kind:     string(batch.Kind),
		BatchSeq: batch.Seq,
		Records:  batch.Len(),
		Reason:   reason,
		At:       time.Now().UTC(),
	}
	w.pipeline.RecordDeadLetter(entry)

	var lastErr error
	if attempt != nil {
		lastErr = attempt.LastErr
	}

	w.logger.Error(ctx, lastErr, "batch dead-lettered",
		attribute.String("sink", w.sink.Name()),
		attribute.String("kind", string(batch.Kind)),
		attribute.Int64("batch_seq", int64(batch.Seq)),
		attribute.Int("records", batch.Len()),
		attribute.String("reason", reason),
	)
}
