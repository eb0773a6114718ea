package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// Default pool configuration constants.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 16
	DefaultTimeout   = 60 * time.Second
)

// Predictor runs the video classifier on one batch and returns a class
// probability vector per frame. Implementations may block for seconds.
type Predictor interface {
	Predict(ctx context.Context, batch *model.FrameBatch) ([][]float32, error)
}

type job struct {
	ctx    context.Context
	batch  *model.FrameBatch
	result chan result
}

type result struct {
	probs [][]float32
	err   error
}

// inferenceWorker executes jobs one at a time.
type inferenceWorker struct {
	name      string
	predictor Predictor
	logger    logger.Logger
}

func (w *inferenceWorker) run(jobs <-chan job, done func()) {
	defer done()
	for j := range jobs {
		metrics.UpdateInferenceQueueDepth(len(jobs))
		if err := j.ctx.Err(); err != nil {
			j.result <- result{err: err}
			continue
		}
		metrics.AddWorkerBusy(1)
		probs, err := w.execute(j)
		metrics.AddWorkerBusy(-1)
		j.result <- result{probs: probs, err: err}
	}
}

// execute calls the predictor, turning panics into internal faults.
func (w *inferenceWorker) execute(j job) (probs [][]float32, err error) {
	const op = "worker.execute"
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(j.ctx, "inference panicked", logger.String("worker", w.name), logger.Any("panic", r))
			probs, err = nil, failure.WrapKind(op, failure.ErrInternal, fmt.Errorf("%w: %v", ErrInferencePanic, r))
		}
		metrics.RecordInferenceLatency(float64(time.Since(start).Milliseconds()))
	}()

	probs, err = w.predictor.Predict(j.ctx, j.batch)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, failure.WrapKind(op, failure.ErrInternal, fmt.Errorf("%w: %w", ErrInference, err))
	}
	if len(probs) == 0 {
		return nil, failure.WrapKind(op, failure.ErrNoEvidence, ErrEmptyPrediction)
	}
	return probs, nil
}

// Pool dispatches inference jobs onto a fixed set of workers.
type Pool struct {
	predictor   Predictor
	workerCount int
	queueSize   int
	timeout     time.Duration
	logger      logger.Logger

	mu      sync.RWMutex
	jobs    chan job
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a pool over p. Call Start before Predict.
func NewPool(p Predictor, opts ...Option) *Pool {
	pool := &Pool{
		predictor:   p,
		workerCount: DefaultWorkers,
		queueSize:   DefaultQueueSize,
		timeout:     DefaultTimeout,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	pool.jobs = make(chan job, pool.queueSize)
	return pool
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workerCount; i++ {
		w := &inferenceWorker{
			name:      "inference-" + strconv.Itoa(i),
			predictor: p.predictor,
			logger:    p.logger.Named("inference-" + strconv.Itoa(i)),
		}
		p.wg.Add(1)
		go w.run(p.jobs, p.wg.Done)
	}

	metrics.UpdateWorkerCount(p.workerCount)
	p.logger.Info(ctx, "inference pool started",
		logger.Int("workers", p.workerCount),
		logger.Int("queue", p.queueSize),
		logger.Duration("timeout", p.timeout),
	)
}

// Predict runs batch on a worker and waits for its probabilities. The wait
// is bounded by the pool timeout; expiry yields ErrInferenceTimeout.
func (p *Pool) Predict(ctx context.Context, batch *model.FrameBatch) ([][]float32, error) {
	const op = "worker.predict"

	if batch.Empty() {
		return nil, failure.WrapKind(op, failure.ErrInvalidInput, ErrEmptyBatch)
	}

	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	j := job{ctx: tctx, batch: batch, result: make(chan result, 1)}
	if err := p.submit(op, j); err != nil {
		metrics.RecordInferenceError(failure.Label(err))
		return nil, err
	}

	select {
	case res := <-j.result:
		if res.err != nil {
			res.err = p.classify(ctx, op, res.err)
			metrics.RecordInferenceError(failure.Label(res.err))
		}
		return res.probs, res.err
	case <-tctx.Done():
		err := p.classify(ctx, op, tctx.Err())
		metrics.RecordInferenceError(failure.Label(err))
		return nil, err
	}
}

func (p *Pool) submit(op string, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped || !p.started {
		return failure.WrapKind(op, failure.ErrUnavailable, ErrStopped)
	}
	select {
	case p.jobs <- j:
		metrics.UpdateInferenceQueueDepth(len(p.jobs))
		return nil
	default:
		return failure.WrapKind(op, failure.ErrUnavailable, ErrBusy)
	}
}

// classify maps context errors from the timeout wrapper to the timeout kind
// while leaving caller cancellation untouched.
func (p *Pool) classify(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.WrapKind(op, failure.ErrTimeout, fmt.Errorf("%w after %s", ErrInferenceTimeout, p.timeout))
	}
	return err
}

// Shutdown stops accepting jobs and waits for running ones to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "inference pool shutdown timed out")
		return fmt.Errorf("%w: %w", ErrShutdownTimedOut, ctx.Err())
	}
}
