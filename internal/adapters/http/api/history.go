package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/model"
)

// historyItem is one record as returned to its owner.
type historyItem struct {
	ID             int64                `json:"id"`
	PredictionType model.PredictionKind `json:"prediction_type"`
	PredictedClass string               `json:"predicted_class"`
	Confidence     float64              `json:"confidence_probability"`
	ScoreAvailable bool                 `json:"score_available"`
	Video          *model.VideoVerdict  `json:"video,omitempty"`
	Form           *model.FormVerdict   `json:"form,omitempty"`
	EyeGaze        *float64             `json:"eye_gaze_percentage,omitempty"`
	Report         string               `json:"report,omitempty"`
	Timestamp      string               `json:"timestamp"`
}

// handleHistory handles GET /data/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.history"
	subject, err := s.subjects.Subject(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeFailure(w, r, failure.WrapKind(op, failure.ErrInvalidInput,
				fmt.Errorf("%w: limit must be a non-negative integer", ErrBadRequest)))
			return
		}
		limit = n
	}

	records, err := s.deps.History(r.Context(), subject, limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	items := make([]historyItem, 0, len(records))
	for i := range records {
		rec := &records[i]
		items = append(items, historyItem{
			ID:             rec.ID,
			PredictionType: rec.Kind,
			PredictedClass: rec.PrimaryLabel,
			Confidence:     rec.Score,
			ScoreAvailable: rec.ScoreAvailable,
			Video:          rec.Video,
			Form:           rec.Form,
			EyeGaze:        rec.EyeGaze,
			Report:         rec.Report,
			Timestamp:      rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}
