// Package exporter implements the fan-out side of the pipeline: one
// independent worker per configured sink, each with its own bounded
// queue, retry policy, and circuit breaker, so a slow or down sink never
// delays its siblings.
package exporter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// Sink delivers sealed batches to one destination.
type Sink interface {
	Name() string
	Kind() telemetry.Kind
	Export(ctx context.Context, batch telemetry.Batch) error
	Shutdown(ctx context.Context) error
}

// ExportAttempt tracks one sink's delivery state for one batch. It lives
// from dispatch until successful delivery or dead-lettering.
type ExportAttempt struct {
	Sink        string
	BatchSeq    uint64
	Attempts    int
	LastErr     error
	NextRetryAt time.Time
}

type permanentError struct {
	err error
}

// Permanent marks a transport error as not worth retrying, such as a
// rejection the sink will repeat on every attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Error implements error.
func (p *permanentError) Error() string {
	return p.err.Error()
}

// Unwrap implements errors.Wrapper.
func (p *permanentError) Unwrap() error {
	return p.err
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var target *permanentError

	return errors.As(err, &target)
}

// NewSink builds a sink from its spec. The sink set is closed: http and
// kafka.
func NewSink(spec config.SinkSpec) (Sink, error) {
	kind, err := telemetry.ParseKind(spec.Kind)
	if err != nil {
		return nil, ewrap.Wrapf(err, "sink %q", spec.Name)
	}

	switch strings.ToLower(spec.Type) {
	case "", "http":
		return newHTTPSink(spec, kind)
	case "kafka":
		return newKafkaSink(spec, kind)
	default:
		return nil, ewrap.Newf("sink %q has unknown type %q", spec.Name, spec.Type)
	}
}
