package form

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// Model is the tabular classifier capability.
type Model interface {
	// FeatureNames returns the model's declared input columns in order.
	FeatureNames(ctx context.Context) ([]string, error)
	// Predict classifies one encoded row. prob is nil when the model has no
	// probability output.
	Predict(ctx context.Context, row []float64) (label int, prob *float64, err error)
}

// Classifier validates, encodes and classifies questionnaires.
type Classifier struct {
	model  Model
	logger logger.Logger

	mu      sync.Mutex
	encoder *Encoder
}

// Option applies a configuration option to the Classifier.
type Option func(*Classifier)

// WithLogger sets a custom logger for the classifier.
func WithLogger(l logger.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClassifier creates a classifier backed by m.
func NewClassifier(m Model, opts ...Option) *Classifier {
	c := &Classifier{model: m}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("form")
	}
	return c
}

// Classify encodes the answers and returns the model verdict together with
// the encoding, whose Unmapped list tells which categorical values were ignored.
func (c *Classifier) Classify(ctx context.Context, a *Answers) (model.FormVerdict, Encoding, error) {
	const op = "form.classify"

	if err := a.Validate(); err != nil {
		return model.FormVerdict{}, Encoding{}, err
	}

	enc, err := c.loadEncoder(ctx)
	if err != nil {
		return model.FormVerdict{}, Encoding{}, err
	}

	encoded := enc.Encode(a)
	for _, u := range encoded.Unmapped {
		metrics.RecordFormUnmappedValue(u.Field)
		c.logger.Warn(ctx, "categorical value has no model column; ignored",
			logger.String("field", u.Field),
			logger.String("value", u.Value),
		)
	}

	label, prob, err := c.model.Predict(ctx, encoded.Vector)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return model.FormVerdict{}, encoded, err
		}
		return model.FormVerdict{}, encoded, failure.WrapKind(op, failure.ErrInternal, fmt.Errorf("%w: %w", ErrPredict, err))
	}

	return model.FormVerdict{Label: label, Probability: prob}, encoded, nil
}

// loadEncoder fetches the feature names once. A failed load is not cached so
// the next request tries again.
func (c *Classifier) loadEncoder(ctx context.Context) (*Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.encoder != nil {
		return c.encoder, nil
	}
	names, err := c.model.FeatureNames(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncoder(names)
	if err != nil {
		c.logger.Error(ctx, "form model metadata unusable", logger.Error(err))
		return nil, err
	}
	c.encoder = enc
	c.logger.Info(ctx, "form encoder ready", logger.Int("columns", len(names)))
	return enc, nil
}
