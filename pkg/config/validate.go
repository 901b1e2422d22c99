package config

import "github.com/hyp3rd/ewrap"

// Validate asserts that the config meets baseline expectations. A config
// that fails validation is a fatal startup condition.
func Validate(cfg Config) error {
	if cfg.Service.Name == "" {
		return invalidConfigError("service.name is required")
	}

	if cfg.Pipeline.MaxBatchSize <= 0 {
		return invalidConfigError("pipeline.max_batch_size must be positive")
	}

	if cfg.Pipeline.MaxBatchAge <= 0 {
		return invalidConfigError("pipeline.max_batch_age must be positive")
	}

	if cfg.Pipeline.QueueCapacity < cfg.Pipeline.MaxBatchSize {
		return invalidConfigError("pipeline.queue_capacity must be at least pipeline.max_batch_size")
	}

	if cfg.Receiver.HTTPAddr == "" {
		return invalidConfigError("receiver.http_addr is required")
	}

	if len(cfg.Sinks) == 0 {
		return invalidConfigError("at least one sink is required")
	}

	seen := map[string]struct{}{}

	for idx, sink := range cfg.Sinks {
		err := validateSink(idx, sink, seen)
		if err != nil {
			return err
		}
	}

	for idx, proc := range cfg.Processors {
		err := validateProcessor(idx, proc)
		if err != nil {
			return err
		}
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.OTLP == nil || cfg.Telemetry.OTLP.Endpoint == "" {
			return invalidConfigError("telemetry.otlp.endpoint is required when telemetry is enabled")
		}
	}

	return nil
}

func validateSink(idx int, sink SinkSpec, seen map[string]struct{}) error {
	if sink.Name == "" {
		return invalidConfigError("sinks[%d].name is required", idx)
	}

	if _, dup := seen[sink.Name]; dup {
		return invalidConfigError("duplicate sink name %q", sink.Name)
	}

	seen[sink.Name] = struct{}{}

	switch sink.Kind {
	case "spans", "metrics", "logs":
	default:
		return invalidConfigError("sinks[%d].kind must be spans, metrics, or logs, got %q", idx, sink.Kind)
	}

	switch sink.Type {
	case "", "http":
		if sink.Endpoint == "" {
			return invalidConfigError("sinks[%d].endpoint is required for http sinks", idx)
		}
	case "kafka":
		if sink.Endpoint == "" {
			return invalidConfigError("sinks[%d].endpoint (broker address) is required for kafka sinks", idx)
		}

		if sink.Topic == "" {
			return invalidConfigError("sinks[%d].topic is required for kafka sinks", idx)
		}
	default:
		return invalidConfigError("sinks[%d].type must be http or kafka, got %q", idx, sink.Type)
	}

	return nil
}

func validateProcessor(idx int, proc ProcessorSpec) error {
	switch proc.Type {
	case "filter":
		if len(proc.Match) == 0 {
			return invalidConfigError("processors[%d].match is required for filter processors", idx)
		}

		switch proc.Action {
		case "", "drop", "keep":
		default:
			return invalidConfigError("processors[%d].action must be drop or keep, got %q", idx, proc.Action)
		}
	case "sample":
		if proc.Ratio <= 0 || proc.Ratio > 1 {
			return invalidConfigError("processors[%d].ratio must be within (0,1], got %f", idx, proc.Ratio)
		}
	case "relabel":
		if len(proc.Rename) == 0 && len(proc.Drop) == 0 {
			return invalidConfigError("processors[%d] relabel requires rename or drop entries", idx)
		}
	default:
		return invalidConfigError("processors[%d].type must be filter, sample, or relabel, got %q", idx, proc.Type)
	}

	return nil
}

func invalidConfigError(format string, args ...any) error {
	return ewrap.Newf("invalid configuration: "+format, args...)
}
