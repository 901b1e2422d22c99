package relay

import (
	"context"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/logging"
)

// Option mutates initialization settings.
type Option func(*options)

type options struct {
	overrideConfig *config.Config
	loaders        []config.Loader
	logger         logging.Adapter
	loggerOverride bool
}

func defaultOptions() options {
	return options{
		loaders: []config.Loader{
			config.FileLoader{},
			config.EnvLoader{},
		},
		logger: nil,
	}
}

func (o options) loadConfig(ctx context.Context) (config.Config, error) {
	if o.overrideConfig != nil {
		return *o.overrideConfig, nil
	}

	return config.Load(ctx, o.loaders...)
}

// WithConfig provides a fully resolved configuration and bypasses loaders.
func WithConfig(cfg config.Config) Option {
	return func(opt *options) {
		opt.overrideConfig = &cfg
	}
}

// WithLoaders replaces the default loader chain.
func WithLoaders(loaders ...config.Loader) Option {
	return func(opt *options) {
		opt.loaders = append([]config.Loader{}, loaders...)
	}
}

// WithLogger specifies the logging adapter used for pipeline events.
func WithLogger(adapter logging.Adapter) Option {
	return func(opt *options) {
		opt.logger = adapter
		opt.loggerOverride = true
	}
}
