// Package constants provides common constants used across the relay project.
package constants

import "time"

const (
	// DefaultTimeout is the default timeout for requests.
	DefaultTimeout = 5 * time.Second
	// DefaultShutdownTimeout is the default timeout for shutdown operations.
	DefaultShutdownTimeout = 30 * time.Second
	// DefaultDrainTimeout bounds how long the supervisor waits for buffered
	// batches and in-flight exports during graceful shutdown.
	DefaultDrainTimeout = 20 * time.Second
)
