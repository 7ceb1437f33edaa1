package sqlite

import "time"

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds SQLite configuration.
type ClientConfig struct {
	Path        string
	BusyTimeout time.Duration
	WAL         bool
}

// WithPath sets the database file path.
func WithPath(path string) ClientOption {
	return func(c *ClientConfig) {
		c.Path = path
	}
}

// WithBusyTimeout sets the busy timeout applied on open.
func WithBusyTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.BusyTimeout = d
	}
}

// WithWAL enables WAL journal mode.
func WithWAL(enabled bool) ClientOption {
	return func(c *ClientConfig) {
		c.WAL = enabled
	}
}
