package modelrunner

import (
	"context"
	"fmt"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
)

// VideoModel classifies frame batches through the runner.
type VideoModel struct {
	r *Runner
}

// Predict returns one class probability vector per frame.
func (m *VideoModel) Predict(ctx context.Context, batch *model.FrameBatch) ([][]float32, error) {
	const op = "modelrunner.predict_video"

	n := batch.Len()
	per := batch.Width * batch.Height * batch.Channels
	pixels := make([]byte, 0, n*per*4)
	for i, f := range batch.Frames {
		if len(f.Pixels) != per {
			return nil, failure.WrapKind(op, failure.ErrInternal,
				fmt.Errorf("frame %d has %d values, want %d", i, len(f.Pixels), per))
		}
		pixels = PackPixels(f.Pixels, pixels)
	}

	resp, err := m.r.do(ctx, op, ModelVideo, Request{
		Op:     OpPredictVideo,
		Shape:  []int{n, batch.Height, batch.Width, batch.Channels},
		Pixels: pixels,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Probs) != n {
		return nil, failure.WrapKind(op, failure.ErrInternal,
			fmt.Errorf("%w: %d probability rows for %d frames", ErrBadResponse, len(resp.Probs), n))
	}
	return resp.Probs, nil
}

// FormModel classifies encoded questionnaires through the runner.
type FormModel struct {
	r *Runner
}

// FeatureNames loads the form model if needed and returns its declared columns.
func (m *FormModel) FeatureNames(ctx context.Context) ([]string, error) {
	const op = "modelrunner.feature_names"

	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	if err := m.r.ensureLoadedLocked(ctx, op, ModelForm); err != nil {
		return nil, err
	}
	return append([]string(nil), m.r.featureNames...), nil
}

// Predict classifies one encoded row.
func (m *FormModel) Predict(ctx context.Context, row []float64) (int, *float64, error) {
	const op = "modelrunner.predict_form"

	resp, err := m.r.do(ctx, op, ModelForm, Request{Op: OpPredictForm, Row: row})
	if err != nil {
		return 0, nil, err
	}
	if resp.Label != 0 && resp.Label != 1 {
		return 0, nil, failure.WrapKind(op, failure.ErrInternal, fmt.Errorf("%w: label %d", ErrBadResponse, resp.Label))
	}
	return resp.Label, resp.Probability, nil
}
