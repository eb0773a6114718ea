// Package modelrunner bridges to the out-of-process model runtime that hosts
// the video and questionnaire classifiers.
//
// The runner is started lazily on first use and speaks length-prefixed
// msgpack. One request is in flight at a time. Any transport failure drops
// the connection; the next request spawns a fresh runner.
package modelrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/pkg/logger"
)

// Runner owns the connection to the model runtime.
type Runner struct {
	spawner   Spawner
	videoPath string
	formPath  string
	logger    logger.Logger

	mu           sync.Mutex
	conn         io.ReadWriteCloser
	loaded       map[string]bool
	featureNames []string
	closed       bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithVideoModel sets the video model path sent in the load request.
func WithVideoModel(path string) Option {
	return func(r *Runner) { r.videoPath = path }
}

// WithFormModel sets the questionnaire model path sent in the load request.
func WithFormModel(path string) Option {
	return func(r *Runner) { r.formPath = path }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner. Nothing is spawned until the first request.
func New(s Spawner, opts ...Option) *Runner {
	r := &Runner{
		spawner: s,
		logger:  logger.Nop(),
		loaded:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VideoModel returns the video classifier view of the runner.
func (r *Runner) VideoModel() *VideoModel { return &VideoModel{r: r} }

// FormModel returns the questionnaire classifier view of the runner.
func (r *Runner) FormModel() *FormModel { return &FormModel{r: r} }

// Close stops the runner. Later requests fail with ErrClosed.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.resetLocked()
	return nil
}

// do sends req for modelName, loading the model first when needed.
func (r *Runner) do(ctx context.Context, op, modelName string, req Request) (Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoadedLocked(ctx, op, modelName); err != nil {
		return Response{}, err
	}
	resp, err := r.roundTripLocked(ctx, op, req)
	if err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return Response{}, failure.WrapKind(op, failure.ErrInternal, fmt.Errorf("%w: %s", ErrPrediction, resp.Error))
	}
	return resp, nil
}

func (r *Runner) ensureLoadedLocked(ctx context.Context, op, modelName string) error {
	if r.closed {
		return failure.WrapKind(op, failure.ErrUnavailable, ErrClosed)
	}
	if r.conn == nil {
		conn, err := r.spawner.Spawn(ctx)
		if err != nil {
			r.logger.Error(ctx, "model runner spawn failed", logger.Error(err))
			return failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %w", ErrRunnerUnavailable, err))
		}
		r.conn = conn
	}
	if r.loaded[modelName] {
		return nil
	}

	path := r.videoPath
	if modelName == ModelForm {
		path = r.formPath
	}
	resp, err := r.roundTripLocked(ctx, op, Request{Op: OpLoad, Model: modelName, Path: path})
	if err != nil {
		return err
	}
	if !resp.OK {
		r.logger.Error(ctx, "model load failed",
			logger.String("model", modelName),
			logger.String("path", path),
			logger.String("reason", resp.Error),
		)
		return failure.WrapKind(op, failure.ErrUnavailable, fmt.Errorf("%w: %s: %s", ErrModelUnavailable, modelName, resp.Error))
	}

	r.loaded[modelName] = true
	if modelName == ModelForm {
		r.featureNames = resp.FeatureNames
	}
	r.logger.Info(ctx, "model loaded", logger.String("model", modelName), logger.String("path", path))
	return nil
}

// roundTripLocked writes req and reads one response. The exchange is
// abandoned when ctx ends; the connection is then dropped because its
// framing can no longer be trusted.
func (r *Runner) roundTripLocked(ctx context.Context, op string, req Request) (Response, error) {
	conn := r.conn
	type reply struct {
		resp Response
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		var rp reply
		if rp.err = WriteMessage(conn, req); rp.err == nil {
			rp.err = ReadMessage(conn, &rp.resp)
		}
		ch <- rp
	}()

	select {
	case rp := <-ch:
		if rp.err != nil {
			r.resetLocked()
			if errors.Is(rp.err, ErrBadResponse) {
				return Response{}, failure.WrapKind(op, failure.ErrInternal, rp.err)
			}
			return Response{}, failure.WrapKind(op, failure.ErrInternal, fmt.Errorf("%w: %w", ErrRunnerIO, rp.err))
		}
		return rp.resp, nil
	case <-ctx.Done():
		r.resetLocked()
		<-ch
		return Response{}, ctx.Err()
	}
}

func (r *Runner) resetLocked() {
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.conn = nil
	r.loaded = make(map[string]bool)
	r.featureNames = nil
}
