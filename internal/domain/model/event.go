// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
)

// ReportReadyType is the type tag of the completion event.
const ReportReadyType = "report_ready"

// ReportReady is the completion event pushed to a subject's live sessions.
// Modality fields are null when the modality was not part of the run.
type ReportReady struct {
	Type            string   `json:"type"`
	RecordID        int64    `json:"recordId"`
	Report          string   `json:"report"`
	VideoPrediction *string  `json:"videoPrediction"`
	VideoConfidence *float64 `json:"videoConfidence"`
	FormPrediction  *int     `json:"formPrediction"`
	FormConfidence  *float64 `json:"formConfidence"`
}

// NewReportReady builds the completion event for a persisted record.
func NewReportReady(rec *AssessmentRecord) ReportReady {
	evt := ReportReady{
		Type:     ReportReadyType,
		RecordID: rec.ID,
		Report:   rec.Report,
	}
	if rec.Video != nil {
		label := rec.Video.Label
		conf := rec.Video.Confidence
		evt.VideoPrediction = &label
		evt.VideoConfidence = &conf
	}
	if rec.Form != nil {
		label := rec.Form.Label
		evt.FormPrediction = &label
		evt.FormConfidence = rec.Form.Confidence()
	}
	return evt
}

// Notification is what travels through the notification queue: the subject
// to fan out to and the event for it.
type Notification struct {
	Subject Subject
	Event   ReportReady
}

// Encode renders the event as the JSON text frame sent to clients.
func (e ReportReady) Encode() ([]byte, error) { //nolint:gocritic // hugeParam: value receiver keeps the event immutable
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return b, nil
}

// DecodeReportReady parses a JSON text frame back into an event.
func DecodeReportReady(b []byte) (ReportReady, error) {
	var e ReportReady
	if err := json.Unmarshal(b, &e); err != nil {
		return ReportReady{}, fmt.Errorf("decode report_ready event: %w", err)
	}
	return e, nil
}
