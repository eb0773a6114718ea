package notify

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// Source yields notifications to fan out.
type Source interface {
	Dequeue(ctx context.Context) <-chan model.Notification
}

// Publisher forwards a notification somewhere other than local sessions.
type Publisher interface {
	Publish(ctx context.Context, n model.Notification) error
}

// Dispatcher drains a Source and delivers every notification. With a relay
// configured, delivery goes through the relay so sessions held by any
// replica receive it; otherwise the local registry is written directly.
// Mirrors receive a copy of every notification. Up to a fixed number of
// notifications are delivered at once, so stalled sessions of one subject do
// not hold back the others.
type Dispatcher struct {
	source      Source
	registry    *Registry
	relay       Publisher
	mirrors     []Publisher
	parallelism int
	logger      logger.Logger

	done chan struct{}
	once sync.Once
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRelay routes delivery through p.
func WithRelay(p Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.relay = p }
}

// WithMirror adds a copy destination.
func WithMirror(p Publisher) DispatcherOption {
	return func(d *Dispatcher) {
		if p != nil {
			d.mirrors = append(d.mirrors, p)
		}
	}
}

// DefaultParallelism is the number of notifications delivered at once.
const DefaultParallelism = 16

// WithParallelism bounds the notifications delivered at once.
func WithParallelism(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher reading from src.
func NewDispatcher(src Source, r *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		source:      src,
		registry:    r,
		parallelism: DefaultParallelism,
		logger:      logger.Nop(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run delivers notifications until the source closes or ctx ends, then
// waits for deliveries in flight.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for n := range d.source.Dequeue(ctx) {
		n := n
		g.Go(func() error {
			d.Dispatch(ctx, n)
			return nil
		})
	}
	_ = g.Wait()
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Dispatch delivers one notification. Errors are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, n model.Notification) { //nolint:gocritic // hugeParam: value keeps the queued notification immutable
	if d.relay != nil {
		if err := d.relay.Publish(ctx, n); err != nil {
			d.logger.Warn(ctx, "relay publish failed; delivering locally",
				logger.String("subject", string(n.Subject)),
				logger.Int64("record_id", n.Event.RecordID),
				logger.Error(err),
			)
			d.deliverLocal(ctx, n)
		}
	} else {
		d.deliverLocal(ctx, n)
	}

	for _, m := range d.mirrors {
		if err := m.Publish(ctx, n); err != nil {
			d.logger.Warn(ctx, "mirror publish failed",
				logger.Int64("record_id", n.Event.RecordID),
				logger.Error(err),
			)
		}
	}
}

func (d *Dispatcher) deliverLocal(ctx context.Context, n model.Notification) { //nolint:gocritic // hugeParam: see Dispatch
	payload, err := n.Event.Encode()
	if err != nil {
		metrics.RecordNotificationDropped()
		d.logger.Error(ctx, "encode notification", logger.Error(err))
		return
	}
	delivered := d.registry.Notify(ctx, n.Subject, payload)
	d.logger.Debug(ctx, "notification delivered",
		logger.String("subject", string(n.Subject)),
		logger.Int64("record_id", n.Event.RecordID),
		logger.Int("sessions", delivered),
	)
}
