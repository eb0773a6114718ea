package report

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/okian/cognicare/internal/domain/model"
)

// SystemPrompt sets the voice of every report.
const SystemPrompt = "You are a compassionate clinician writing brief, easy-to-understand summaries for parents."

// MaxNotesRunes bounds the free-text notes carried into a prompt.
const MaxNotesRunes = 1000

// BuildPrompt describes the record's available results in one paragraph.
// Absent modalities are left out rather than described as missing.
func BuildPrompt(rec *model.AssessmentRecord, notes string) string {
	primary := rec.PrimaryLabel
	if primary == "" {
		primary = "Unavailable"
	}
	kind := string(rec.Kind)
	if kind == "" {
		kind = string(inferKind(rec))
	}

	parts := []string{
		"Create a concise, supportive summary for parents based on the following autism assessment data.",
		"Prediction type: " + kind,
		"Primary result: " + primary,
	}
	if rec.Video != nil {
		parts = append(parts, fmt.Sprintf("Video outcome: %s (confidence %.2f%%).", rec.Video.Label, rec.Video.Confidence))
	}
	if rec.EyeGaze != nil {
		parts = append(parts, fmt.Sprintf("Eye gaze stability: %.2f%%.", *rec.EyeGaze))
	}
	if rec.Form != nil {
		label := strconv.Itoa(rec.Form.Label)
		if conf := rec.Form.Confidence(); conf != nil {
			parts = append(parts, fmt.Sprintf("Form assessment: %s (confidence %.2f%%).", label, *conf))
		} else {
			parts = append(parts, fmt.Sprintf("Form assessment: %s.", label))
		}
	}
	if notes = clipNotes(notes); notes != "" {
		parts = append(parts, "Additional notes: "+notes)
	}
	return strings.Join(parts, " ")
}

// clipNotes trims notes and keeps at most MaxNotesRunes of them.
func clipNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) <= MaxNotesRunes {
		return notes
	}
	return strings.TrimSpace(string([]rune(notes)[:MaxNotesRunes]))
}

func inferKind(rec *model.AssessmentRecord) model.PredictionKind {
	switch {
	case rec.Video != nil && rec.Form != nil:
		return model.KindCombined
	case rec.Video != nil:
		return model.KindVideo
	default:
		return model.KindForm
	}
}

// maxTokens scales the token budget with the word budget, capped at 800.
func maxTokens(words int) int {
	return min(800, words*4)
}
