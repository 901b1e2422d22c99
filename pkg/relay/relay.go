// Package relay provides initialization and lifecycle management for the
// telemetry relay pipeline. Most callers use the relay binary; embedding
// applications use Init directly.
package relay

import (
	"context"
	"errors"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/logging"
	"github.com/hyp3rd/relay/pkg/selfobs"
	"github.com/hyp3rd/relay/pkg/supervisor"
)

// Client owns an assembled pipeline and its self-telemetry runtime.
type Client struct {
	cfg        config.Config
	logger     logging.Adapter
	runtime    *selfobs.Runtime
	supervisor *supervisor.Supervisor
}

// Init loads configuration, builds the self-telemetry runtime, and
// assembles the pipeline. Callers must invoke Shutdown when finished.
func Init(ctx context.Context, opts ...Option) (*Client, error) {
	settings := defaultOptions()
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := settings.loadConfig(ctx)
	if err != nil {
		return nil, ewrap.Wrap(err, "load config")
	}

	logger := settings.logger
	if !settings.loggerOverride {
		logger = logging.FromConfig(cfg.Logging)
	}

	if logger == nil {
		logger = logging.NewNoopAdapter()
	}

	runtime, err := selfobs.NewRuntime(ctx, cfg)
	if err != nil {
		return nil, ewrap.Wrap(err, "init self telemetry")
	}

	sup, err := supervisor.New(cfg, logger, runtime)
	if err != nil {
		shutdownErr := runtime.Shutdown(ctx)
		if shutdownErr != nil {
			logger.Error(ctx, shutdownErr, "shutdown self telemetry after init failure")
		}

		return nil, ewrap.Wrap(err, "assemble pipeline")
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		runtime:    runtime,
		supervisor: sup,
	}, nil
}

// Start launches the pipeline and returns once it is serving.
func (c *Client) Start(ctx context.Context) error {
	return c.supervisor.Start(ctx)
}

// Run starts the pipeline and blocks until the context is canceled, then
// drains and shuts everything down. The returned error includes
// supervisor.ErrDrainDeadline when queued telemetry was lost.
func (c *Client) Run(ctx context.Context) error {
	err := c.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	// Draining happens on a fresh context: the canceled run context
	// would abort the flush it is supposed to bound.
	return c.Shutdown(context.Background())
}

// Shutdown drains the pipeline and releases the telemetry providers.
func (c *Client) Shutdown(ctx context.Context) error {
	drainErr := c.supervisor.Shutdown(ctx)
	telemetryErr := c.runtime.Shutdown(ctx)

	if drainErr != nil || telemetryErr != nil {
		return errors.Join(drainErr, telemetryErr)
	}

	return nil
}

// Config returns the active configuration.
func (c *Client) Config() config.Config {
	return c.cfg
}

// Supervisor exposes the pipeline supervisor for advanced integrations.
func (c *Client) Supervisor() *supervisor.Supervisor {
	return c.supervisor
}
