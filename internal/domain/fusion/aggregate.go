package fusion

import (
	"fmt"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
)

// VideoLabels are the video classifier's classes in output order.
var VideoLabels = []string{"Non_Autistic", "Autistic"}

// AggregateFrames averages per-frame class probabilities and returns the
// argmax label with its mean probability as a percentage. Ties resolve to the
// lowest index.
func AggregateFrames(probs [][]float32, labels []string) (model.VideoVerdict, error) {
	const op = "fusion.aggregate_frames"

	if len(probs) == 0 {
		return model.VideoVerdict{}, failure.WrapKind(op, failure.ErrNoEvidence, ErrEmptyPrediction)
	}

	width := len(labels)
	mean := make([]float64, width)
	for i, row := range probs {
		if len(row) != width {
			return model.VideoVerdict{}, failure.WrapKind(op, failure.ErrInternal,
				fmt.Errorf("%w: frame %d has %d values, want %d", ErrLabelMismatch, i, len(row), width))
		}
		for j, p := range row {
			mean[j] += float64(p)
		}
	}

	best := 0
	for j := range mean {
		mean[j] /= float64(len(probs))
		if mean[j] > mean[best] {
			best = j
		}
	}

	return model.VideoVerdict{
		Label:      labels[best],
		Confidence: mean[best] * percentScale,
	}, nil
}
