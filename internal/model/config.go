package model

import (
	"github.com/apex/log"
	"github.com/ooni/ovpndata/internal/runtimex"
)

// Config contains options to initialize a data channel.
type Config struct {
	// options contains the negotiated data channel options.
	options *DataChannelOptions

	// logger will be used to log events.
	logger Logger
}

// NewConfig returns a Config ready to intialize a data channel.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		options: NewDataChannelOptions(""),
		logger:  log.Log,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option is an option you can pass to initialize a data channel.
type Option func(config *Config)

// WithConfigFile configures DataChannelOptions parsed from the given file.
func WithConfigFile(configPath string) Option {
	return func(config *Config) {
		opts, err := ReadConfigFile(configPath)
		runtimex.PanicOnError(err, "cannot parse config file")
		config.options = opts
	}
}

// WithDataChannelOptions configures the passed [DataChannelOptions].
func WithDataChannelOptions(opts *DataChannelOptions) Option {
	return func(config *Config) {
		runtimex.Assert(opts != nil, "options cannot be nil")
		config.options = opts
	}
}

// WithLogger configures the passed [Logger].
func WithLogger(logger Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() Logger {
	return c.logger
}

// DataChannelOptions returns the configured data channel options.
func (c *Config) DataChannelOptions() *DataChannelOptions {
	return c.options
}
