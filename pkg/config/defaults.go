package config

import (
	"time"

	"github.com/google/uuid"

	"github.com/hyp3rd/relay/internal/constants"
)

const (
	defaultMaxBatchSize  = 512
	defaultMaxBatchAge   = 5 * time.Second
	defaultQueueCapacity = 8192
	defaultMaxBodyBytes  = 4 << 20

	defaultRetryAttempts  = 5
	defaultRetryInterval  = 500 * time.Millisecond
	defaultRetryMax       = 5 * time.Second
	defaultRetryElapsed   = time.Minute
	defaultBreakerFails   = 5
	defaultBreakerCool    = 30 * time.Second
	defaultSinkQueue      = 64
	defaultDeadLetterKeep = 32
)

// DefaultConfig returns a Config populated with production-safe defaults.
// Sinks are intentionally empty: a relay with nowhere to export is a
// configuration error caught by Validate.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "relay",
			InstanceID:  uuid.NewString(),
			Environment: "development",
			Attributes:  map[string]string{},
		},
		Pipeline: PipelineConfig{
			MaxBatchSize:  defaultMaxBatchSize,
			MaxBatchAge:   defaultMaxBatchAge,
			QueueCapacity: defaultQueueCapacity,
			DrainTimeout:  constants.DefaultDrainTimeout,
		},
		Receiver: ReceiverConfig{
			HTTPAddr:     "127.0.0.1:4318",
			MaxBodyBytes: defaultMaxBodyBytes,
			ReadTimeout:  constants.DefaultTimeout,
		},
		Introspection: IntrospectionConfig{
			Enabled:           true,
			HTTPAddr:          "127.0.0.1:14271",
			DeadLetterHistory: defaultDeadLetterKeep,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			OTLP: &OTLPConfig{
				Protocol: "grpc",
				Endpoint: "localhost:4317",
				Timeout:  2 * constants.DefaultTimeout,
				TLS: TLSConfig{
					Insecure: true,
				},
				Insecure:    true,
				Compression: "gzip",
			},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Adapter:     "slog",
			SampleRatio: 1.0,
		},
	}
}

// DefaultRetry returns the retry policy applied to sinks that omit one.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:     defaultRetryAttempts,
		InitialInterval: defaultRetryInterval,
		MaxInterval:     defaultRetryMax,
		MaxElapsedTime:  defaultRetryElapsed,
	}
}

// DefaultBreaker returns the breaker policy applied to sinks that omit one.
func DefaultBreaker() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: defaultBreakerFails,
		Cooldown:         defaultBreakerCool,
	}
}

// ApplySinkDefaults fills the optional sink knobs left empty by the
// operator.
func ApplySinkDefaults(spec SinkSpec) SinkSpec {
	if spec.Type == "" {
		spec.Type = "http"
	}

	if spec.Timeout <= 0 {
		spec.Timeout = constants.DefaultTimeout
	}

	if spec.Retry == (RetryConfig{}) {
		spec.Retry = DefaultRetry()
	}

	if spec.Retry.MaxAttempts <= 0 {
		spec.Retry.MaxAttempts = defaultRetryAttempts
	}

	if spec.Retry.InitialInterval <= 0 {
		spec.Retry.InitialInterval = defaultRetryInterval
	}

	if spec.Retry.MaxInterval <= 0 {
		spec.Retry.MaxInterval = defaultRetryMax
	}

	if spec.Breaker == (BreakerConfig{}) {
		spec.Breaker = DefaultBreaker()
	}

	if spec.QueueBatches <= 0 {
		spec.QueueBatches = defaultSinkQueue
	}

	return spec
}
