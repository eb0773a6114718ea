// Package fusion combines per-modality verdicts into one outcome and score.
package fusion

import (
	"strconv"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
)

const percentScale = 100

// combinedDivisor divides the three-term combined blend. Stored scores depend
// on this exact arithmetic (see DESIGN.md, combined score).
const combinedDivisor = 2

// Fuse combines the modality verdicts that are present. Gaze only contributes
// to the combined score.
func Fuse(video *model.VideoVerdict, form *model.FormVerdict, gaze *float64) (model.FusedOutcome, error) {
	const op = "fusion.fuse"

	switch {
	case video != nil && form != nil:
		return model.FusedOutcome{
			Kind:           model.KindCombined,
			PrimaryLabel:   video.Label,
			Score:          CombinedScore(video.Confidence, form.Probability, gaze),
			ScoreAvailable: true,
		}, nil
	case video != nil:
		return model.FusedOutcome{
			Kind:           model.KindVideo,
			PrimaryLabel:   video.Label,
			Score:          video.Confidence,
			ScoreAvailable: true,
		}, nil
	case form != nil:
		out := model.FusedOutcome{
			Kind:         model.KindForm,
			PrimaryLabel: strconv.Itoa(form.Label),
		}
		if form.Probability != nil {
			out.Score = *form.Probability * percentScale
			out.ScoreAvailable = true
		}
		return out, nil
	default:
		return model.FusedOutcome{}, failure.WrapKind(op, failure.ErrInvalidInput, ErrNoModality)
	}
}

// CombinedScore computes (form×100 + video + gaze) / 2. Absent terms count as 0.
func CombinedScore(videoConfidence float64, formProbability, gaze *float64) float64 {
	sum := videoConfidence
	if formProbability != nil {
		sum += *formProbability * percentScale
	}
	if gaze != nil {
		sum += *gaze
	}
	return sum / combinedDivisor
}
