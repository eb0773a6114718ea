// Package model contains domain models passed between layers.
package model

import "time"

// Subject is the opaque identity correlating storage, auth and live sessions.
type Subject string

// String returns the raw identity.
func (s Subject) String() string { return string(s) }

// PredictionKind names which modalities produced a fused outcome.
type PredictionKind string

// Prediction kinds.
const (
	KindVideo    PredictionKind = "video"
	KindForm     PredictionKind = "form"
	KindCombined PredictionKind = "combined"
)

// VideoVerdict is the aggregated video classification. Confidence is a
// percentage in [0,100].
type VideoVerdict struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// FormVerdict is the questionnaire classification. Probability is in [0,1]
// and nil when the model exposes none.
type FormVerdict struct {
	Label       int      `json:"label"`
	Probability *float64 `json:"probability"`
}

// Confidence returns the probability as a percentage, or nil.
func (f FormVerdict) Confidence() *float64 {
	if f.Probability == nil {
		return nil
	}
	v := *f.Probability * 100
	return &v
}

// FusedOutcome is the single result derived from whichever modalities succeeded.
type FusedOutcome struct {
	Kind           PredictionKind
	PrimaryLabel   string
	Score          float64
	ScoreAvailable bool
}

// AssessmentRecord is one persisted pipeline run.
type AssessmentRecord struct {
	ID             int64          `json:"id"`
	Subject        Subject        `json:"subject"`
	Kind           PredictionKind `json:"prediction_type"`
	PrimaryLabel   string         `json:"predicted_class"`
	Score          float64        `json:"confidence_probability"`
	ScoreAvailable bool           `json:"score_available"`
	Video          *VideoVerdict  `json:"video,omitempty"`
	Form           *FormVerdict   `json:"form,omitempty"`
	EyeGaze        *float64       `json:"eye_gaze_percentage,omitempty"`
	Report         string         `json:"report,omitempty"`
	ArchiveURL     string         `json:"archive_url,omitempty"`
	CreatedAt      time.Time      `json:"timestamp"`
}

// HasEvidence reports whether at least one modality verdict is present.
func (r *AssessmentRecord) HasEvidence() bool {
	return r.Video != nil || r.Form != nil
}

// Outcome rebuilds the fused outcome stored on the record.
func (r *AssessmentRecord) Outcome() FusedOutcome {
	return FusedOutcome{
		Kind:           r.Kind,
		PrimaryLabel:   r.PrimaryLabel,
		Score:          r.Score,
		ScoreAvailable: r.ScoreAvailable,
	}
}
