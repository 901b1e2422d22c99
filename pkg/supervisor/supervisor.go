// Package supervisor assembles and runs the pipeline: per-kind batching
// queues feeding processor loops, the exporter router, the ingestion and
// introspection servers. It owns the lifecycle from Running through
// Draining to Stopped.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/exporter"
	"github.com/hyp3rd/relay/pkg/introspect"
	"github.com/hyp3rd/relay/pkg/logging"
	"github.com/hyp3rd/relay/pkg/processor"
	"github.com/hyp3rd/relay/pkg/queue"
	"github.com/hyp3rd/relay/pkg/receiver"
	"github.com/hyp3rd/relay/pkg/selfobs"
	"github.com/hyp3rd/relay/pkg/stats"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// ErrDrainDeadline signals that queued telemetry could not be flushed
// within the configured drain timeout. The process should exit non-zero
// so the loss is visible to the operator.
var ErrDrainDeadline = ewrap.New("drain deadline exceeded, queued telemetry lost")

// State is the supervisor lifecycle state.
type State int32

// Lifecycle states. Transitions are one-way.
const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

// String returns the state name used in status snapshots.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Supervisor wires the pipeline stages together and drives their
// lifecycle.
type Supervisor struct {
	cfg      config.Config
	logger   logging.Adapter
	helper   *selfobs.Helper
	counters *stats.Pipeline

	queues   map[telemetry.Kind]*queue.Queue
	chain    *processor.Chain
	router   *exporter.Router
	receiver *receiver.Receiver
	ingest   *receiver.Server
	status   *introspect.Server

	state     atomic.Int32
	startTime time.Time

	procCtx    context.Context
	procCancel context.CancelFunc
	loops      sync.WaitGroup
	start      sync.Once
	stop       sync.Once
}

// New builds the full pipeline from configuration. Nothing runs until
// Start is called.
func New(cfg config.Config, logger logging.Adapter, runtime *selfobs.Runtime) (*Supervisor, error) {
	if logger == nil {
		logger = logging.NewNoopAdapter()
	}

	var helper *selfobs.Helper

	if runtime != nil {
		var err error

		helper, err = selfobs.NewHelper(runtime)
		if err != nil {
			return nil, ewrap.Wrap(err, "build instrumentation helper")
		}
	}

	queues := make(map[telemetry.Kind]*queue.Queue, len(telemetry.Kinds()))

	for _, kind := range telemetry.Kinds() {
		q, err := queue.New(queue.Config{
			Kind:          kind,
			MaxBatchSize:  cfg.Pipeline.MaxBatchSize,
			MaxBatchAge:   cfg.Pipeline.MaxBatchAge,
			QueueCapacity: cfg.Pipeline.QueueCapacity,
		})
		if err != nil {
			return nil, ewrap.Wrapf(err, "build %s queue", kind)
		}

		queues[kind] = q
	}

	chain, err := processor.NewChain(cfg.Processors)
	if err != nil {
		return nil, ewrap.Wrap(err, "build processor chain")
	}

	sinkNames := make([]string, 0, len(cfg.Sinks))
	for _, spec := range cfg.Sinks {
		sinkNames = append(sinkNames, spec.Name)
	}

	counters := stats.NewPipeline(sinkNames, cfg.Introspection.DeadLetterHistory)

	router, err := exporter.NewRouter(cfg.Sinks, counters, logger, helper)
	if err != nil {
		return nil, ewrap.Wrap(err, "build exporter router")
	}

	rcv := receiver.New(queues, counters)

	sup := &Supervisor{
		cfg:      cfg,
		logger:   logger,
		helper:   helper,
		counters: counters,
		queues:   queues,
		chain:    chain,
		router:   router,
		receiver: rcv,
		ingest:   receiver.NewServer(cfg.Receiver, rcv, logger),
	}

	if cfg.Introspection.Enabled {
		status, err := introspect.NewServer(cfg.Introspection, sup, counters, logger)
		if err != nil {
			return nil, ewrap.Wrap(err, "build introspection server")
		}

		sup.status = status
	}

	return sup, nil
}

// Receiver exposes the ingestion entry point for in-process callers.
func (s *Supervisor) Receiver() *receiver.Receiver {
	return s.receiver
}

// Counters exposes the pipeline counters.
func (s *Supervisor) Counters() *stats.Pipeline {
	return s.counters
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Start launches the sink workers, the per-kind processing loops, and the
// HTTP servers. It returns once everything is serving.
func (s *Supervisor) Start(ctx context.Context) error {
	var startErr error

	s.start.Do(func() {
		s.startTime = time.Now().UTC()

		// Processing outlives the caller's context so a canceled Start
		// context cannot abort the drain. Shutdown cancels it after the
		// drain deadline.
		s.procCtx, s.procCancel = context.WithCancel(context.Background())

		s.router.Start(s.procCtx)

		for _, q := range s.queues {
			s.loops.Add(1)

			go s.processLoop(q)
		}

		err := s.ingest.Start(ctx)
		if err != nil {
			startErr = ewrap.Wrap(err, "start ingestion server")

			return
		}

		if s.status != nil {
			err = s.status.Start(ctx)
			if err != nil {
				startErr = ewrap.Wrap(err, "start introspection server")

				return
			}
		}

		s.logger.Info(ctx, "pipeline running",
			attribute.String("receiver", s.cfg.Receiver.HTTPAddr),
			attribute.Int("processors", s.chain.Len()),
			attribute.Int("sinks", len(s.cfg.Sinks)),
		)
	})

	return startErr
}

// processLoop consumes sealed batches from one queue, runs the processor
// chain, and fans the survivors out to the sinks. A processor failure
// drops that batch only.
func (s *Supervisor) processLoop(q *queue.Queue) {
	defer s.loops.Done()

	kindCounters := s.counters.Kind(q.Kind())

	for {
		batch, ok := q.Next(s.procCtx)
		if !ok {
			return
		}

		kindCounters.BatchesSealed.Add(1)

		processed, err := s.processBatch(batch)
		if err != nil {
			kindCounters.DroppedBatches.Add(1)
			kindCounters.DroppedRecords.Add(int64(batch.Len()))
			s.logger.Error(s.procCtx, err, "batch dropped by processor chain",
				attribute.String("kind", string(batch.Kind)),
				attribute.Int64("batch_seq", int64(batch.Seq)),
				attribute.Int("records", batch.Len()),
			)

			continue
		}

		kindCounters.Processed.Add(1)

		if processed.Len() == 0 {
			continue
		}

		s.router.Dispatch(s.procCtx, processed)
	}
}

func (s *Supervisor) processBatch(batch telemetry.Batch) (telemetry.Batch, error) {
	info := selfobs.StageInfo{
		Stage: "process",
		Kind:  string(batch.Kind),
	}

	out := batch

	err := s.helper.Instrument(s.procCtx, info, func(context.Context) error {
		var procErr error

		out, procErr = s.chain.Process(batch)

		return procErr
	})
	if err != nil {
		return telemetry.Batch{}, err
	}

	return out, nil
}

// Shutdown drains the pipeline: the receiver stops accepting, open
// batches are sealed and flushed through the processors and sinks, and
// the servers stop. Telemetry still queued when the drain deadline
// expires is abandoned and reported via ErrDrainDeadline.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.stop.Do(func() {
		s.state.Store(int32(StateDraining))
		s.receiver.SetDraining()

		s.logger.Info(ctx, "pipeline draining",
			attribute.String("drain_timeout", s.cfg.Pipeline.DrainTimeout.String()),
		)

		err := s.ingest.Shutdown(ctx)
		if err != nil {
			shutdownErr = err
		}

		for _, q := range s.queues {
			q.Close()
		}

		deadline := time.NewTimer(s.cfg.Pipeline.DrainTimeout)
		defer deadline.Stop()

		done := make(chan struct{})

		var closeErr error

		go func() {
			s.loops.Wait()
			closeErr = s.router.Close(ctx)
			close(done)
		}()

		select {
		case <-done:
		case <-deadline.C:
			shutdownErr = ErrDrainDeadline

			// Cancel processing so workers stuck in retry loops give up
			// instead of holding the drain open, then let them finish
			// dead-lettering.
			s.cancelProcessing()
			<-done
		}

		if closeErr != nil && shutdownErr == nil {
			shutdownErr = closeErr
		}

		s.cancelProcessing()

		if s.status != nil {
			err = s.status.Shutdown(ctx)
			if err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}

		s.state.Store(int32(StateStopped))
		s.logger.Info(ctx, "pipeline stopped")
	})

	return shutdownErr
}

// cancelProcessing is safe to call before Start and more than once.
func (s *Supervisor) cancelProcessing() {
	if s.procCancel != nil {
		s.procCancel()
	}
}

// Snapshot implements introspect.SnapshotProvider.
func (s *Supervisor) Snapshot() introspect.Snapshot {
	kinds := make(map[string]stats.KindSnapshot, len(s.queues))
	for _, kind := range telemetry.Kinds() {
		kinds[string(kind)] = s.counters.SnapshotKind(kind)
	}

	sinks := make(map[string]stats.SinkSnapshot, len(s.cfg.Sinks))
	for _, spec := range s.cfg.Sinks {
		sinks[spec.Name] = s.counters.SnapshotSink(spec.Name)
	}

	return introspect.Snapshot{
		ServiceName: s.cfg.Service.Name,
		InstanceID:  s.cfg.Service.InstanceID,
		Environment: s.cfg.Service.Environment,
		State:       s.State().String(),
		StartTime:   s.startTime,
		Kinds:       kinds,
		Sinks:       sinks,
		DeadLetters: s.counters.DeadLetters(),
	}
}
