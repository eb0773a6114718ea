package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/cognicare/internal/adapters/frames"
	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/form"
	"github.com/okian/cognicare/internal/domain/fusion"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
)

// Reducer turns a video file into a batch of usable frames.
type Reducer interface {
	Reduce(ctx context.Context, path string) (*frames.Result, error)
}

// Predictor classifies a frame batch. The inference pool implements it.
type Predictor interface {
	Predict(ctx context.Context, batch *model.FrameBatch) ([][]float32, error)
}

// FormClassifier classifies a questionnaire.
type FormClassifier interface {
	Classify(ctx context.Context, a *form.Answers) (model.FormVerdict, form.Encoding, error)
}

// Store is the persistence the pipeline needs.
type Store interface {
	Insert(ctx context.Context, rec *model.AssessmentRecord) (int64, error)
	UpdateReport(ctx context.Context, id int64, report string) error
}

// ReportWriter writes the parent-facing summary.
type ReportWriter interface {
	Generate(ctx context.Context, rec *model.AssessmentRecord, notes string) (string, error)
}

// Notifier hands completion events to the notification dispatcher.
type Notifier interface {
	Enqueue(ctx context.Context, n model.Notification) error
}

// Archiver copies an upload to long-term storage and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, subject model.Subject, localPath string) (string, error)
}

// FaultReporter records internal faults.
type FaultReporter interface {
	Capture(ctx context.Context, err error, tags map[string]string) bool
}

// Submission is one assessment request. VideoPath, when set, names a
// temporary file that the pipeline removes before Run returns.
type Submission struct {
	Subject   model.Subject
	VideoPath string
	Form      *form.Answers
	Notes     string
}

// FrameStats summarises video reduction.
type FrameStats struct {
	Examined int
	Usable   int
}

// Outcome is the result of a persisted run. VideoErr and FormErr hold the
// failure of a modality that was requested but did not contribute. ReportErr
// holds a report failure; the record is kept either way.
type Outcome struct {
	Record    model.AssessmentRecord
	Fused     model.FusedOutcome
	Frames    *FrameStats
	Encoding  *form.Encoding
	VideoErr  error
	FormErr   error
	ReportErr error
}

// Pipeline runs extraction, inference, fusion, persistence, reporting and
// notification for one submission.
type Pipeline struct {
	reducer     Reducer
	predictor   Predictor
	classifier  FormClassifier
	store       Store
	reports     ReportWriter
	notifier    Notifier
	archiver    Archiver
	faults      FaultReporter
	formTimeout time.Duration
	logger      logger.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithArchiver uploads videos before their temporary file is removed.
func WithArchiver(a Archiver) PipelineOption {
	return func(p *Pipeline) { p.archiver = a }
}

// WithFaultReporter sends internal faults to error tracking.
func WithFaultReporter(f FaultReporter) PipelineOption {
	return func(p *Pipeline) { p.faults = f }
}

// WithFormTimeout bounds form classification.
func WithFormTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.formTimeout = d
		}
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline assembles a pipeline from its collaborators.
func NewPipeline(r Reducer, pred Predictor, c FormClassifier, s Store, w ReportWriter, n Notifier, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		reducer:     r,
		predictor:   pred,
		classifier:  c,
		store:       s,
		reports:     w,
		notifier:    n,
		formTimeout: 10 * time.Second,
		logger:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes sub. Validation and modality failures return before anything
// is stored. Once a record is inserted Run succeeds even if the report or the
// notification fails. Cancelling ctx does not stop the run: the record and its
// notification outlive the request, and the form, inference and report
// timeouts bound each stage.
func (p *Pipeline) Run(ctx context.Context, sub Submission) (out Outcome, err error) {
	const op = "pipeline.run"
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	defer p.cleanup(sub)
	defer func() {
		kind := "none"
		if err == nil {
			kind = string(out.Fused.Kind)
		}
		metrics.RecordPipelineRun(kind, failure.Label(err))
		metrics.RecordStageLatency("total", msSince(start))
		if err != nil && p.faults != nil {
			p.faults.Capture(ctx, err, map[string]string{"op": op})
		}
	}()

	if err := p.validate(sub); err != nil {
		return Outcome{}, err
	}

	var (
		video *model.VideoVerdict
		gaze  *float64
		fv    *model.FormVerdict
		g     errgroup.Group
	)
	// Each branch records its own error and returns nil so one modality's
	// failure never cancels the other.
	if sub.VideoPath != "" {
		g.Go(func() error {
			v, stats, archiveURL, err := p.runVideo(ctx, sub)
			out.Frames = stats
			out.Record.ArchiveURL = archiveURL
			if err != nil {
				out.VideoErr = err
				return nil
			}
			video = &v.verdict
			gaze = &v.gaze
			return nil
		})
	}
	if sub.Form != nil {
		g.Go(func() error {
			verdict, enc, err := p.runForm(ctx, sub.Form)
			out.Encoding = enc
			if err != nil {
				out.FormErr = err
				return nil
			}
			fv = &verdict
			return nil
		})
	}
	_ = g.Wait()

	if err := modalityError(sub, out.VideoErr, out.FormErr); err != nil {
		return out, err
	}

	fused, err := fusion.Fuse(video, fv, gaze)
	if err != nil {
		return out, err
	}
	out.Fused = fused

	rec := model.AssessmentRecord{
		Subject:        sub.Subject,
		Kind:           fused.Kind,
		PrimaryLabel:   fused.PrimaryLabel,
		Score:          fused.Score,
		ScoreAvailable: fused.ScoreAvailable,
		Video:          video,
		Form:           fv,
		EyeGaze:        gaze,
		ArchiveURL:     out.Record.ArchiveURL,
	}
	stageStart := time.Now()
	if _, err := p.store.Insert(ctx, &rec); err != nil {
		return out, err
	}
	metrics.RecordStageLatency("persist", msSince(stageStart))

	out.ReportErr = p.attachReport(ctx, &rec, sub.Notes)
	out.Record = rec
	p.notify(ctx, &rec)

	p.logger.Info(ctx, "assessment completed",
		logger.Int64("record_id", rec.ID),
		logger.String("kind", string(rec.Kind)),
		logger.String("label", rec.PrimaryLabel),
		logger.Bool("report", out.ReportErr == nil),
		logger.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func (p *Pipeline) validate(sub Submission) error {
	const op = "pipeline.validate"

	if sub.Subject == "" {
		return failure.WrapKind(op, failure.ErrInvalidInput, ErrMissingSubject)
	}
	if sub.VideoPath == "" && sub.Form == nil {
		return failure.WrapKind(op, failure.ErrInvalidInput, ErrNoSubmission)
	}
	if sub.Form != nil {
		sub.Form.Normalize()
		if err := sub.Form.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type videoResult struct {
	verdict model.VideoVerdict
	gaze    float64
}

func (p *Pipeline) runVideo(ctx context.Context, sub Submission) (videoResult, *FrameStats, string, error) {
	var archiveURL string
	if p.archiver != nil {
		url, err := p.archiver.Archive(ctx, sub.Subject, sub.VideoPath)
		if err != nil {
			p.logger.Warn(ctx, "video archive failed", logger.Error(err))
		} else {
			archiveURL = url
		}
	}

	start := time.Now()
	res, err := p.reducer.Reduce(ctx, sub.VideoPath)
	metrics.RecordStageLatency("reduce", msSince(start))
	if err != nil {
		return videoResult{}, nil, archiveURL, err
	}
	stats := &FrameStats{Examined: res.Examined, Usable: res.Usable}

	start = time.Now()
	probs, err := p.predictor.Predict(ctx, res.Batch)
	metrics.RecordStageLatency("video_inference", msSince(start))
	if err != nil {
		return videoResult{}, stats, archiveURL, err
	}

	verdict, err := fusion.AggregateFrames(probs, fusion.VideoLabels)
	if err != nil {
		return videoResult{}, stats, archiveURL, err
	}
	return videoResult{verdict: verdict, gaze: res.EyeGaze}, stats, archiveURL, nil
}

func (p *Pipeline) runForm(ctx context.Context, a *form.Answers) (model.FormVerdict, *form.Encoding, error) {
	const op = "pipeline.form"

	tctx, cancel := context.WithTimeout(ctx, p.formTimeout)
	defer cancel()

	start := time.Now()
	verdict, enc, err := p.classifier.Classify(tctx, a)
	metrics.RecordStageLatency("form_inference", msSince(start))
	if err != nil {
		if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			err = failure.WrapKind(op, failure.ErrTimeout, fmt.Errorf("%w after %s", ErrFormTimeout, p.formTimeout))
		}
		return model.FormVerdict{}, &enc, err
	}
	return verdict, &enc, nil
}

// modalityError decides whether the run can continue with what succeeded.
func modalityError(sub Submission, videoErr, formErr error) error {
	wantVideo, wantForm := sub.VideoPath != "", sub.Form != nil
	switch {
	case wantVideo && wantForm:
		if videoErr != nil && formErr != nil {
			return errors.Join(
				fmt.Errorf("video: %w", videoErr),
				fmt.Errorf("form: %w", formErr),
			)
		}
		return nil
	case wantVideo:
		return videoErr
	default:
		return formErr
	}
}

func (p *Pipeline) attachReport(ctx context.Context, rec *model.AssessmentRecord, notes string) error {
	start := time.Now()
	text, err := p.reports.Generate(ctx, rec, notes)
	metrics.RecordStageLatency("report", msSince(start))
	if err != nil {
		p.logger.Warn(ctx, "report generation failed; record kept without report",
			logger.Int64("record_id", rec.ID),
			logger.Error(err),
		)
		return err
	}
	if err := p.store.UpdateReport(ctx, rec.ID, text); err != nil {
		p.logger.Error(ctx, "store report", logger.Int64("record_id", rec.ID), logger.Error(err))
		if p.faults != nil {
			p.faults.Capture(ctx, err, map[string]string{"op": "pipeline.update_report"})
		}
		return err
	}
	rec.Report = text
	return nil
}

func (p *Pipeline) notify(ctx context.Context, rec *model.AssessmentRecord) {
	n := model.Notification{Subject: rec.Subject, Event: model.NewReportReady(rec)}
	if err := p.notifier.Enqueue(ctx, n); err != nil {
		metrics.RecordNotificationDropped()
		p.logger.Warn(ctx, "notification not queued",
			logger.Int64("record_id", rec.ID),
			logger.Error(err),
		)
	}
}

func (p *Pipeline) cleanup(sub Submission) {
	if sub.VideoPath == "" {
		return
	}
	if err := removeUpload(sub.VideoPath); err != nil {
		p.logger.Warn(context.Background(), "remove upload", logger.String("path", sub.VideoPath), logger.Error(err))
	}
}

// removeUpload deletes a temporary upload. A missing file is not an error.
func removeUpload(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
