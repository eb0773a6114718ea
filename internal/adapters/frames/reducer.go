package frames

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// Defaults for a Reducer.
const (
	DefaultThreshold  = 50.0
	DefaultMaxFrames  = 100
	DefaultFrameSize  = 224
	DefaultYieldEvery = 10
)

// Result is the outcome of reducing one video.
type Result struct {
	Batch    *model.FrameBatch
	Examined int
	Usable   int
	// EyeGaze is Usable/Examined as a percentage: the share of frames steady
	// enough to pass the sharpness threshold.
	EyeGaze float64
}

// Reducer decodes a video and keeps the frames sharp enough to classify.
type Reducer struct {
	decoder    Decoder
	threshold  float64
	maxFrames  int
	size       int
	yieldEvery int
	log        logger.Logger
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithThreshold sets the minimum sharpness for a usable frame.
func WithThreshold(t float64) Option {
	return func(r *Reducer) {
		if t >= 0 {
			r.threshold = t
		}
	}
}

// WithMaxFrames caps the usable frames kept. Zero or less means no cap.
func WithMaxFrames(n int) Option {
	return func(r *Reducer) { r.maxFrames = n }
}

// WithFrameSize sets the square edge frames are resized to.
func WithFrameSize(size int) Option {
	return func(r *Reducer) {
		if size > 0 {
			r.size = size
		}
	}
}

// WithYieldEvery sets how many frames are examined between scheduler yields.
func WithYieldEvery(n int) Option {
	return func(r *Reducer) {
		if n > 0 {
			r.yieldEvery = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reducer) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReducer creates a Reducer reading through d.
func NewReducer(d Decoder, opts ...Option) *Reducer {
	r := &Reducer{
		decoder:    d,
		threshold:  DefaultThreshold,
		maxFrames:  DefaultMaxFrames,
		size:       DefaultFrameSize,
		yieldEvery: DefaultYieldEvery,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reduce decodes path and returns its usable frames. It stops once the
// source is exhausted or the frame cap is reached, and returns an error
// matching ErrNoUsableFrames when nothing passed the threshold.
func (r *Reducer) Reduce(ctx context.Context, path string) (*Result, error) {
	const op = "frames.reduce"
	start := time.Now()

	src, err := r.decoder.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	res := &Result{Batch: &model.FrameBatch{Width: r.size, Height: r.size, Channels: model.Channels}}

	for {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if !raw.Valid() {
			return nil, failure.WrapKind(op, failure.ErrInvalidInput,
				fmt.Errorf("%w: %dx%d with %d bytes", ErrFrameSize, raw.Width, raw.Height, len(raw.BGR)))
		}

		score := Sharpness(Gray(raw.BGR, raw.Width, raw.Height), raw.Width, raw.Height)
		if score >= r.threshold {
			res.Batch.Frames = append(res.Batch.Frames, model.Frame{
				Pixels:    Normalize(raw, r.size),
				Sharpness: score,
			})
			res.Usable++
		}
		res.Examined++

		if res.Examined%r.yieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			runtime.Gosched()
		}

		if r.maxFrames > 0 && res.Usable >= r.maxFrames {
			break
		}
	}

	if res.Examined > 0 {
		res.EyeGaze = float64(res.Usable) / float64(res.Examined) * 100
	}
	metrics.RecordFrames(res.Examined, res.Usable)
	metrics.RecordStageLatency("decode", float64(time.Since(start).Milliseconds()))

	r.log.Debug(ctx, "video reduced",
		logger.String("path", path),
		logger.Int("examined", res.Examined),
		logger.Int("usable", res.Usable),
		logger.Float64("eye_gaze", res.EyeGaze),
	)

	if res.Usable == 0 {
		return nil, failure.WrapKind(op, failure.ErrNoEvidence, ErrNoUsableFrames)
	}
	metrics.RecordEyeGaze(res.EyeGaze)
	return res, nil
}
