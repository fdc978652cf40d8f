package server

import (
	"log/slog"

	"github.com/evanrel/capshare/pkg/registry"
)

// defaultMaxUploadBytes caps upload request bodies at 32 MiB.
const defaultMaxUploadBytes = 32 << 20

// Config holds server configuration.
type Config struct {
	Registry       *registry.Registry
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// Option configures the server.
type Option func(*Config)

// WithRegistry sets the object registry. Required.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Config) {
		c.Registry = r
	}
}

// WithLogger sets the request logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMaxUploadBytes bounds the accepted upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(c *Config) {
		c.MaxUploadBytes = n
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{MaxUploadBytes: defaultMaxUploadBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
