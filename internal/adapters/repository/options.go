package repository

import (
	"time"

	"github.com/okian/cognicare/pkg/logger"
)

// Pool defaults for SQL stores.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

type sqlOptions struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	pingTimeout time.Duration
	logger      logger.Logger
	now         func() time.Time
}

// Option configures a SQL store or the memory store where it applies.
type Option func(*sqlOptions)

// WithMaxOpenConns caps open connections.
func WithMaxOpenConns(n int) Option {
	return func(o *sqlOptions) {
		if n > 0 {
			o.maxOpen = n
		}
	}
}

// WithMaxIdleConns caps idle connections.
func WithMaxIdleConns(n int) Option {
	return func(o *sqlOptions) {
		if n >= 0 {
			o.maxIdle = n
		}
	}
}

// WithConnMaxLifetime recycles connections after d.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *sqlOptions) {
		if d > 0 {
			o.maxLifetime = d
		}
	}
}

// WithPingTimeout bounds the connectivity check in Open.
func WithPingTimeout(d time.Duration) Option {
	return func(o *sqlOptions) {
		if d > 0 {
			o.pingTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *sqlOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *sqlOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) sqlOptions {
	o := sqlOptions{
		maxOpen:     DefaultMaxOpenConns,
		maxIdle:     DefaultMaxIdleConns,
		maxLifetime: DefaultConnMaxLifetime,
		pingTimeout: DefaultPingTimeout,
		logger:      logger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
