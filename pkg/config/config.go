// Package config defines the configuration structures for the relay pipeline.
package config

import (
	"time"
)

// Config is the canonical configuration consumed by the relay supervisor.
// It is loaded once at startup and immutable for the process lifetime;
// configuration changes require a restart.
type Config struct {
	Service       ServiceConfig       `yaml:"service"       json:"service"`
	Pipeline      PipelineConfig      `yaml:"pipeline"      json:"pipeline"`
	Receiver      ReceiverConfig      `yaml:"receiver"      json:"receiver"`
	Processors    []ProcessorSpec     `yaml:"processors"    json:"processors"`
	Sinks         []SinkSpec          `yaml:"sinks"         json:"sinks"`
	Introspection IntrospectionConfig `yaml:"introspection" json:"introspection"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"     json:"telemetry"`
	Logging       LoggingConfig       `yaml:"logging"       json:"logging"`
}

// ServiceConfig captures the relay's own identity, propagated as resource
// attributes on self-telemetry and status snapshots.
type ServiceConfig struct {
	Name        string            `yaml:"name"        json:"name"`
	InstanceID  string            `yaml:"instance_id" json:"instance_id"`
	Environment string            `yaml:"environment" json:"environment"`
	Attributes  map[string]string `yaml:"attributes"  json:"attributes"`
}

// PipelineConfig bounds batching and buffering per telemetry kind.
type PipelineConfig struct {
	MaxBatchSize  int           `yaml:"max_batch_size" json:"max_batch_size"`
	MaxBatchAge   time.Duration `yaml:"max_batch_age"  json:"max_batch_age"`
	QueueCapacity int           `yaml:"queue_capacity" json:"queue_capacity"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"  json:"drain_timeout"`
}

// ReceiverConfig configures the ingestion endpoint.
type ReceiverConfig struct {
	HTTPAddr     string        `yaml:"http_addr"      json:"http_addr"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   json:"read_timeout"`
}

// ProcessorSpec selects and parameterizes one processor in the chain.
// Type is one of "filter", "sample", or "relabel"; the remaining fields
// apply to the matching type only.
type ProcessorSpec struct {
	Type string `yaml:"type" json:"type"`

	// filter
	Match  map[string]string `yaml:"match"  json:"match"`
	Action string            `yaml:"action" json:"action"`

	// sample
	Ratio float64 `yaml:"ratio" json:"ratio"`
	Seed  uint64  `yaml:"seed"  json:"seed"`

	// relabel
	Rename map[string]string `yaml:"rename" json:"rename"`
	Drop   []string          `yaml:"drop"   json:"drop"`
}

// SinkSpec configures one export destination.
type SinkSpec struct {
	Name     string        `yaml:"name"     json:"name"`
	Kind     string        `yaml:"kind"     json:"kind"`
	Type     string        `yaml:"type"     json:"type"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Topic    string        `yaml:"topic"    json:"topic"`
	Timeout  time.Duration `yaml:"timeout"  json:"timeout"`
	Retry    RetryConfig   `yaml:"retry"    json:"retry"`
	Breaker  BreakerConfig `yaml:"breaker"  json:"breaker"`
	// QueueBatches bounds the sink's private dispatch queue so one slow
	// sink cannot backpressure its siblings.
	QueueBatches int `yaml:"queue_batches" json:"queue_batches"`
}

// RetryConfig specifies the per-sink retry policy.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"     json:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"     json:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" json:"max_elapsed_time"`
}

// BreakerConfig specifies the per-sink circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"          json:"cooldown"`
}

// IntrospectionConfig toggles the status and metrics endpoints.
type IntrospectionConfig struct {
	Enabled   bool   `yaml:"enabled"    json:"enabled"`
	HTTPAddr  string `yaml:"http_addr"  json:"http_addr"`
	AuthToken string `yaml:"auth_token" json:"auth_token"`
	// DeadLetterHistory caps the dead-letter summaries retained for the
	// status snapshot.
	DeadLetterHistory int `yaml:"dead_letter_history" json:"dead_letter_history"`
}

// TelemetryConfig controls the relay's own OTLP self-telemetry.
type TelemetryConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	OTLP    *OTLPConfig `yaml:"otlp"    json:"otlp"`
}

// OTLPConfig defines both gRPC and HTTP self-telemetry export settings.
type OTLPConfig struct {
	Protocol    string            `yaml:"protocol"    json:"protocol"`
	Endpoint    string            `yaml:"endpoint"    json:"endpoint"`
	Insecure    bool              `yaml:"insecure"    json:"insecure"`
	Headers     map[string]string `yaml:"headers"     json:"headers"`
	Timeout     time.Duration     `yaml:"timeout"     json:"timeout"`
	TLS         TLSConfig         `yaml:"tls"         json:"tls"`
	Compression string            `yaml:"compression" json:"compression"`
}

// TLSConfig encapsulates TLS dial settings.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file"   json:"ca_file"`
	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file"  json:"key_file"`
	Insecure bool   `yaml:"insecure"  json:"insecure"`
}

// LoggingConfig controls structured log behavior.
type LoggingConfig struct {
	Level       string  `yaml:"level"        json:"level"`
	Format      string  `yaml:"format"       json:"format"`
	Adapter     string  `yaml:"adapter"      json:"adapter"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
}
