// Package tracking reports internal faults to Sentry.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/pkg/logger"
)

// ErrInit is returned when the Sentry client cannot be created.
var ErrInit = errors.New("sentry init failed")

// Config selects the Sentry project. An empty DSN disables tracking.
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// Tracker sends events through its own hub. A nil or disabled Tracker is a no-op.
type Tracker struct {
	hub    *sentry.Hub
	logger logger.Logger
}

// Option configures New.
type Option func(*sentry.ClientOptions)

// WithBeforeSend adds a hook that runs after header scrubbing. Returning nil
// drops the event.
func WithBeforeSend(fn func(*sentry.Event) *sentry.Event) Option {
	return func(o *sentry.ClientOptions) {
		prev := o.BeforeSend
		o.BeforeSend = func(e *sentry.Event, h *sentry.EventHint) *sentry.Event {
			if prev != nil {
				if e = prev(e, h); e == nil {
					return nil
				}
			}
			return fn(e)
		}
	}
}

// New creates a Tracker. With no DSN the returned Tracker is disabled.
func New(cfg Config, log logger.Logger, opts ...Option) (*Tracker, error) {
	if log == nil {
		log = logger.Nop()
	}
	ctx := context.Background()
	if cfg.DSN == "" {
		log.Info(ctx, "sentry DSN not configured, error tracking disabled")
		return &Tracker{logger: log}, nil
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	co := sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  rate,
		BeforeSend:  scrub,
	}
	for _, opt := range opts {
		opt(&co)
	}

	client, err := sentry.NewClient(co)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	log.Info(ctx, "sentry initialized", logger.String("environment", cfg.Environment))
	return &Tracker{hub: sentry.NewHub(client, sentry.NewScope()), logger: log}, nil
}

// scrub removes credentials and identities from request data.
func scrub(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request != nil && event.Request.Headers != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
		delete(event.Request.Headers, "X-Subject")
	}
	event.User = sentry.User{}
	return event
}

// Enabled reports whether events are sent.
func (t *Tracker) Enabled() bool {
	return t != nil && t.hub != nil
}

// Capture sends err when its kind is internal and reports whether it did.
// User-correctable and upstream failures are not faults of this service.
func (t *Tracker) Capture(ctx context.Context, err error, tags map[string]string) bool {
	if !t.Enabled() || err == nil || failure.KindOf(err) != failure.ErrInternal {
		return false
	}
	hub := t.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("kind", failure.Label(err))
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
	t.logger.Debug(ctx, "fault captured", logger.Error(err))
	return true
}

// Recover captures a panic value, flushes, and re-panics. Use it deferred.
func (t *Tracker) Recover() {
	r := recover()
	if r == nil {
		return
	}
	if t.Enabled() {
		t.hub.Recover(r)
		t.hub.Flush(2 * time.Second)
	}
	panic(r)
}

// Flush waits for buffered events.
func (t *Tracker) Flush(timeout time.Duration) bool {
	if !t.Enabled() {
		return true
	}
	return t.hub.Flush(timeout)
}
