// Package processor implements the ordered chain of stateless batch
// transformations: attribute filtering, deterministic sampling, and
// relabeling. Processors never reorder records and never change a
// record's kind; a failing processor drops its batch without stopping
// the chain for later batches.
package processor

import (
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// Processor transforms one batch into a derived batch of the same kind
// and sequence number.
type Processor interface {
	Name() string
	Process(batch telemetry.Batch) (telemetry.Batch, error)
}

// Chain applies processors in configuration order.
type Chain struct {
	processors []Processor
}

// NewChain builds the chain from the configured specs. The processor set
// is closed: filter, sample, and relabel.
func NewChain(specs []config.ProcessorSpec) (*Chain, error) {
	processors := make([]Processor, 0, len(specs))

	for idx, spec := range specs {
		proc, err := fromSpec(spec)
		if err != nil {
			return nil, ewrap.Wrapf(err, "build processor %d", idx)
		}

		processors = append(processors, proc)
	}

	return &Chain{processors: processors}, nil
}

func fromSpec(spec config.ProcessorSpec) (Processor, error) {
	switch strings.ToLower(spec.Type) {
	case "filter":
		return newFilter(spec)
	case "sample":
		return newSampler(spec)
	case "relabel":
		return newRelabeler(spec)
	default:
		return nil, ewrap.Newf("unknown processor type %q", spec.Type)
	}
}

// Process runs the batch through every processor in order. An error from
// any processor aborts the batch; the caller drops it and continues with
// the next one.
func (c *Chain) Process(batch telemetry.Batch) (telemetry.Batch, error) {
	for _, proc := range c.processors {
		out, err := proc.Process(batch)
		if err != nil {
			return telemetry.Batch{}, ewrap.Wrapf(err, "processor %q", proc.Name())
		}

		if out.Kind != batch.Kind || out.Seq != batch.Seq {
			return telemetry.Batch{}, ewrap.Newf("processor %q changed batch identity", proc.Name())
		}

		batch = out
	}

	return batch, nil
}

// Len returns the number of processors in the chain.
func (c *Chain) Len() int {
	return len(c.processors)
}
