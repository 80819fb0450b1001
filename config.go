package strata

import (
	"time"

	"github.com/strata-db/strata/engine"
)

// Config covers every row of spec §6's Configuration table. Unlike the
// teacher's CLI flag/env/yaml layering (internal/app/settings.go, which
// is CLI-specific and does not survive the transform — see DESIGN.md),
// this is a library: configuration is a plain struct built with Option
// functional options.
type Config struct {
	DatabasePath string
	OpenFlags    engine.OpenFlags

	StoreDateTimeAsTicks bool

	BusyTimeout time.Duration
	PageSize    int

	Trace              bool
	Tracer             func(sql string)
	TraceTime          bool
	TraceTimeExceeding time.Duration

	MinPoolSize int
	MaxPoolSize int

	DatabaseWriteLockTimeout time.Duration
	RetryAttempts            int

	Logger Logger
}

// defaultConfig mirrors sqlite-net's documented defaults: ticks on,
// 5s busy timeout, a 1..5 reader pool, a 30s write-lock timeout, and the
// spec's literal 10-attempt retry loop.
func defaultConfig() Config {
	return Config{
		StoreDateTimeAsTicks:     true,
		BusyTimeout:              5 * time.Second,
		MinPoolSize:              1,
		MaxPoolSize:              5,
		DatabaseWriteLockTimeout: 30 * time.Second,
		RetryAttempts:            10,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithDatabasePath sets the file path, ":memory:", or a "file:...?mode=memory" URI.
func WithDatabasePath(path string) Option { return func(c *Config) { c.DatabasePath = path } }

// WithOpenFlags sets the engine open-flag bitset.
func WithOpenFlags(flags engine.OpenFlags) Option { return func(c *Config) { c.OpenFlags = flags } }

// WithStoreDateTimeAsTicks toggles spec §4.3's date-time binding rule.
func WithStoreDateTimeAsTicks(v bool) Option { return func(c *Config) { c.StoreDateTimeAsTicks = v } }

// WithBusyTimeout sets the duration forwarded to the engine's busy handler.
func WithBusyTimeout(d time.Duration) Option { return func(c *Config) { c.BusyTimeout = d } }

// WithPageSize sets PRAGMA page_size, applied only on a fresh database.
func WithPageSize(n int) Option { return func(c *Config) { c.PageSize = n } }

// WithTrace arms a per-command trace sink.
func WithTrace(sink func(sql string)) Option {
	return func(c *Config) { c.Trace = true; c.Tracer = sink }
}

// WithTraceTimeExceeding arms elapsed-time trace lines for commands
// slower than threshold.
func WithTraceTimeExceeding(threshold time.Duration) Option {
	return func(c *Config) { c.TraceTime = true; c.TraceTimeExceeding = threshold }
}

// WithPoolSize sets the reader pool bounds.
func WithPoolSize(min, max int) Option {
	return func(c *Config) { c.MinPoolSize = min; c.MaxPoolSize = max }
}

// WithWriteLockTimeout sets how long getWriteConnectionLock blocks before
// failing *write-lock-timeout*.
func WithWriteLockTimeout(d time.Duration) Option {
	return func(c *Config) { c.DatabaseWriteLockTimeout = d }
}

// WithRetryAttempts overrides the retry loop's attempt count (spec §4.8
// default is 10).
func WithRetryAttempts(n int) Option { return func(c *Config) { c.RetryAttempts = n } }

// WithLogger installs a Logger for manager-level events (spec §6
// "log sink with severity Debug/Info/Warning/Fatal").
func WithLogger(l Logger) Option { return func(c *Config) { c.Logger = l } }

// NewConfig builds a Config from defaultConfig plus opts, in order.
func NewConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
