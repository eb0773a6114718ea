// Package notify delivers completion events to the live sessions of a subject.
//
// The registry maps a subject to its open sessions. Each subject has its own
// lock, so sessions of one subject are added, removed and written to one at a
// time while different subjects proceed in parallel. The registry lock is
// never held while a subject lock is taken.
package notify

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// DefaultSendTimeout bounds one session write.
const DefaultSendTimeout = 5 * time.Second

// Session is one live channel to a client.
type Session interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
	State() model.SessionState
}

type entry struct {
	mu       sync.Mutex
	sessions map[string]Session
	// dead is set once the entry has been emptied and is being removed from
	// the registry. A dead entry never accepts sessions again.
	dead bool
}

// Registry tracks live sessions per subject.
type Registry struct {
	mu       sync.Mutex
	subjects map[model.Subject]*entry

	active      atomic.Int64
	sendTimeout time.Duration
	logger      logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSendTimeout bounds each session write.
func WithSendTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		subjects:    make(map[model.Subject]*entry),
		sendTimeout: DefaultSendTimeout,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers s under subject. Registering the same session twice
// keeps a single copy.
func (r *Registry) Connect(subject model.Subject, s Session) {
	for {
		r.mu.Lock()
		e, ok := r.subjects[subject]
		if !ok {
			e = &entry{sessions: make(map[string]Session)}
			r.subjects[subject] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			// Lost a race with the removal of an emptied entry.
			e.mu.Unlock()
			runtime.Gosched()
			continue
		}
		if _, dup := e.sessions[s.ID()]; !dup {
			e.sessions[s.ID()] = s
			r.active.Add(1)
		}
		e.mu.Unlock()
		break
	}
	r.recordGauges()
}

// Disconnect removes s from subject. Removing an unknown session is a no-op.
// The subject is dropped once its last session is gone.
func (r *Registry) Disconnect(subject model.Subject, s Session) {
	e := r.lookup(subject)
	if e == nil {
		return
	}

	e.mu.Lock()
	if _, ok := e.sessions[s.ID()]; ok {
		delete(e.sessions, s.ID())
		r.active.Add(-1)
	}
	emptied := r.markDeadIfEmptyLocked(e)
	e.mu.Unlock()

	if emptied {
		r.remove(subject, e)
	}
	r.recordGauges()
}

// Notify writes payload to every session of subject and returns how many
// writes succeeded. A session whose write fails is removed and closed; the
// other sessions are still attempted. Failures are never returned.
func (r *Registry) Notify(ctx context.Context, subject model.Subject, payload []byte) int {
	e := r.lookup(subject)
	if e == nil {
		return 0
	}

	var failed []Session
	delivered := 0

	e.mu.Lock()
	for id, s := range e.sessions {
		sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		err := s.Send(sctx, payload)
		cancel()
		if err != nil {
			r.logger.Warn(ctx, "session send failed; removing session",
				logger.String("subject", string(subject)),
				logger.String("session", id),
				logger.Error(err),
			)
			delete(e.sessions, id)
			r.active.Add(-1)
			failed = append(failed, s)
			metrics.RecordNotificationFailed()
			continue
		}
		delivered++
		metrics.RecordNotificationDelivered()
	}
	emptied := r.markDeadIfEmptyLocked(e)
	e.mu.Unlock()

	if emptied {
		r.remove(subject, e)
	}
	for _, s := range failed {
		_ = s.Close()
	}
	r.recordGauges()
	return delivered
}

// Subjects returns the number of subjects with at least one session.
func (r *Registry) Subjects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subjects)
}

// Sessions returns the number of sessions registered for subject.
func (r *Registry) Sessions(subject model.Subject) int {
	e := r.lookup(subject)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Active returns the total number of registered sessions.
func (r *Registry) Active() int {
	return int(r.active.Load())
}

// CloseAll closes and forgets every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subjects := r.subjects
	r.subjects = make(map[model.Subject]*entry)
	r.mu.Unlock()

	for _, e := range subjects {
		e.mu.Lock()
		e.dead = true
		sessions := e.sessions
		e.sessions = map[string]Session{}
		e.mu.Unlock()
		for _, s := range sessions {
			_ = s.Close()
			r.active.Add(-1)
		}
	}
	r.recordGauges()
}

func (r *Registry) lookup(subject model.Subject) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subjects[subject]
}

func (r *Registry) markDeadIfEmptyLocked(e *entry) bool {
	if len(e.sessions) == 0 && !e.dead {
		e.dead = true
		return true
	}
	return false
}

func (r *Registry) remove(subject model.Subject, e *entry) {
	r.mu.Lock()
	if r.subjects[subject] == e {
		delete(r.subjects, subject)
	}
	r.mu.Unlock()
}

func (r *Registry) recordGauges() {
	metrics.UpdateActiveSessions(r.Active())
	metrics.UpdateSubscribedSubjects(r.Subjects())
}
