package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/okian/cognicare/internal/adapters/report"
	service "github.com/okian/cognicare/internal/app"
	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/form"
	"github.com/okian/cognicare/pkg/logger"
)

const (
	fileField  = "file"
	notesField = "notes"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
}

type videoResponse struct {
	RecordID       int64          `json:"record_id"`
	PredictedClass string         `json:"predicted_class"`
	Confidence     string         `json:"confidence"`
	EyeGaze        string         `json:"eye_gaze"`
	Report         string         `json:"report,omitempty"`
	ReportError    *errorResponse `json:"report_error,omitempty"`
}

type formResponse struct {
	RecordID    int64          `json:"record_id"`
	Prediction  int            `json:"prediction"`
	Probability *float64       `json:"probability"`
	Report      string         `json:"report,omitempty"`
	ReportError *errorResponse `json:"report_error,omitempty"`
}

type videoPart struct {
	PredictedClass string `json:"predicted_class"`
	Confidence     string `json:"confidence"`
}

type formPart struct {
	Prediction  int      `json:"prediction"`
	Probability *float64 `json:"probability"`
}

type assessmentResponse struct {
	RecordID       int64          `json:"record_id"`
	PredictionType string         `json:"prediction_type"`
	PredictedClass string         `json:"predicted_class"`
	Confidence     *string        `json:"confidence"`
	EyeGaze        *string        `json:"eye_gaze,omitempty"`
	Video          *videoPart     `json:"video,omitempty"`
	Form           *formPart      `json:"form,omitempty"`
	Report         string         `json:"report,omitempty"`
	ReportError    *errorResponse `json:"report_error,omitempty"`
	VideoError     *errorResponse `json:"video_error,omitempty"`
	FormError      *errorResponse `json:"form_error,omitempty"`
}

// handleVideo handles POST /video.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	subject, err := s.subjects.Subject(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := parseBody(w, r, s.maxVideo); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	path, err := s.receiveVideo(r, true)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	out, err := s.deps.Run(r.Context(), service.Submission{Subject: subject, VideoPath: path})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	rec := out.Record
	resp := videoResponse{
		RecordID:    rec.ID,
		Report:      rec.Report,
		ReportError: problem(out.ReportErr),
	}
	if rec.Video != nil {
		resp.PredictedClass = rec.Video.Label
		resp.Confidence = percent(rec.Video.Confidence)
	}
	if rec.EyeGaze != nil {
		resp.EyeGaze = percent(*rec.EyeGaze)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleForm handles POST /forms.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	subject, err := s.subjects.Subject(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := parseBody(w, r, multipartMemory); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	answers, err := parseAnswers(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	out, err := s.deps.Run(r.Context(), service.Submission{Subject: subject, Form: answers})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	rec := out.Record
	resp := formResponse{
		RecordID:    rec.ID,
		Report:      rec.Report,
		ReportError: problem(out.ReportErr),
	}
	if rec.Form != nil {
		resp.Prediction = rec.Form.Label
		resp.Probability = rec.Form.Probability
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleAssessment handles POST /assessments. The video and the questionnaire
// are each optional; at least one must be present.
func (s *Server) handleAssessment(w http.ResponseWriter, r *http.Request) {
	subject, err := s.subjects.Subject(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := parseBody(w, r, s.maxCombined); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	notes, err := parseNotes(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	sub := service.Submission{Subject: subject, Notes: notes}
	if hasAnswers(r) {
		if sub.Form, err = parseAnswers(r); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}
	if sub.VideoPath, err = s.receiveVideo(r, false); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	out, err := s.deps.Run(r.Context(), sub)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	rec := out.Record
	resp := assessmentResponse{
		RecordID:       rec.ID,
		PredictionType: string(rec.Kind),
		PredictedClass: rec.PrimaryLabel,
		Report:         rec.Report,
		ReportError:    problem(out.ReportErr),
		VideoError:     problem(out.VideoErr),
		FormError:      problem(out.FormErr),
	}
	if rec.ScoreAvailable {
		c := percent(rec.Score)
		resp.Confidence = &c
	}
	if rec.EyeGaze != nil {
		g := percent(*rec.EyeGaze)
		resp.EyeGaze = &g
	}
	if rec.Video != nil {
		resp.Video = &videoPart{PredictedClass: rec.Video.Label, Confidence: percent(rec.Video.Confidence)}
	}
	if rec.Form != nil {
		resp.Form = &formPart{Prediction: rec.Form.Label, Probability: rec.Form.Probability}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// parseBody reads a multipart or urlencoded body of at most limit bytes.
func parseBody(w http.ResponseWriter, r *http.Request, limit int64) error {
	const op = "api.parse"
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return failure.WrapKind(op, failure.ErrInvalidInput,
			fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, tooLarge.Limit))
	}
	return failure.WrapKind(op, failure.ErrInvalidInput, fmt.Errorf("%w: %w", ErrBadRequest, err))
}

// receiveVideo validates the uploaded file and copies it into the upload
// directory. With required unset, a missing file yields an empty path.
func (s *Server) receiveVideo(r *http.Request, required bool) (string, error) {
	const op = "api.upload"

	file, hdr, err := r.FormFile(fileField)
	switch {
	case (errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart)) && !required:
		return "", nil
	case errors.Is(err, http.ErrMissingFile):
		return "", failure.WrapKind(op, failure.ErrInvalidInput, ErrMissingFile)
	case err != nil:
		return "", failure.WrapKind(op, failure.ErrInvalidInput, fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	contentType := hdr.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") {
		return "", failure.WrapKind(op, failure.ErrInvalidInput,
			fmt.Errorf("%w: %q is not a video", ErrUnsupportedMedia, contentType))
	}
	if !videoExtensions[ext] {
		return "", failure.WrapKind(op, failure.ErrInvalidInput,
			fmt.Errorf("%w: extension %q", ErrUnsupportedMedia, ext))
	}

	if hdr.Size == 0 {
		return "", failure.WrapKind(op, failure.ErrInvalidInput, ErrEmptyUpload)
	}

	path, err := s.save(file, ext)
	if err != nil {
		return "", failure.WrapKind(op, failure.ErrInternal, err)
	}
	s.logger.Debug(r.Context(), "upload stored",
		logger.String("file", hdr.Filename),
		logger.Int64("size", hdr.Size))
	return path, nil
}

func (s *Server) save(src multipart.File, ext string) (string, error) {
	dst, err := os.CreateTemp(s.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return dst.Name(), nil
}

// parseNotes returns the trimmed notes field, rejecting text longer than a
// report prompt carries.
func parseNotes(r *http.Request) (string, error) {
	notes := strings.TrimSpace(r.FormValue(notesField))
	if n := utf8.RuneCountInString(notes); n > report.MaxNotesRunes {
		return "", failure.WrapKind("api.notes", failure.ErrInvalidInput,
			fmt.Errorf("%w: %d characters, at most %d", ErrNotesTooLong, n, report.MaxNotesRunes))
	}
	return notes, nil
}

func answerFields() []string {
	names := make([]string, 0, form.QuestionCount+5)
	for i := 0; i < form.QuestionCount; i++ {
		names = append(names, form.QuestionName(i))
	}
	return append(names, form.FieldAge, form.FieldSex, form.FieldEthnicity, form.FieldJaundice, form.FieldFamilyASD)
}

// hasAnswers reports whether any questionnaire field was submitted.
func hasAnswers(r *http.Request) bool {
	for _, name := range answerFields() {
		if _, ok := r.Form[name]; ok {
			return true
		}
	}
	return false
}

// parseAnswers reads the questionnaire fields. Shape checks beyond integer
// parsing happen in form.Answers.Validate.
func parseAnswers(r *http.Request) (*form.Answers, error) {
	const op = "api.answers"
	var a form.Answers

	for i := range a.A {
		v, err := intField(r, form.QuestionName(i))
		if err != nil {
			return nil, failure.WrapKind(op, failure.ErrInvalidInput, err)
		}
		a.A[i] = v
	}
	age, err := intField(r, form.FieldAge)
	if err != nil {
		return nil, failure.WrapKind(op, failure.ErrInvalidInput, err)
	}
	a.AgeMonths = age
	a.Sex = r.FormValue(form.FieldSex)
	a.Ethnicity = r.FormValue(form.FieldEthnicity)
	a.Jaundice = r.FormValue(form.FieldJaundice)
	a.FamilyASD = r.FormValue(form.FieldFamilyASD)
	return &a, nil
}

func intField(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrBadRequest, name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrBadRequest, name)
	}
	return v, nil
}

func percent(v float64) string { return fmt.Sprintf("%.2f%%", v) }
