// Package service wires the assessment pipeline and its collaborators and
// exposes the operations the HTTP API needs.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/okian/cognicare/internal/adapters/archive"
	"github.com/okian/cognicare/internal/adapters/frames"
	"github.com/okian/cognicare/internal/adapters/modelrunner"
	eventqueue "github.com/okian/cognicare/internal/adapters/mq/queue"
	workerpool "github.com/okian/cognicare/internal/adapters/mq/worker"
	"github.com/okian/cognicare/internal/adapters/notify"
	"github.com/okian/cognicare/internal/adapters/report"
	"github.com/okian/cognicare/internal/adapters/repository"
	"github.com/okian/cognicare/internal/config"
	"github.com/okian/cognicare/internal/domain/failure"
	"github.com/okian/cognicare/internal/domain/form"
	"github.com/okian/cognicare/internal/domain/model"
	"github.com/okian/cognicare/pkg/logger"
	"github.com/okian/cognicare/pkg/metrics"
	"github.com/okian/cognicare/pkg/tracking"
)

const flushTimeout = 2 * time.Second

// Service owns every long-lived component: the store, the model runner, the
// inference pool, the notification queue, registry and dispatcher, and the
// optional archive, MQTT mirror and Redis relay.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	// Injected or built in Start.
	store    repository.Store
	decoder  frames.Decoder
	spawner  modelrunner.Spawner
	reports  ReportWriter
	tracker  *tracking.Tracker
	archiver *archive.Archiver

	runner     *modelrunner.Runner
	pool       *workerpool.Pool
	queue      *eventqueue.InMemoryQueue
	registry   *notify.Registry
	dispatcher *notify.Dispatcher
	relay      *notify.RedisRelay
	mirror     *notify.MQTTMirror
	pipeline   *Pipeline

	started bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore replaces the configured database.
func WithStore(st repository.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithDecoder replaces the ffmpeg decoder.
func WithDecoder(d frames.Decoder) Option {
	return func(s *Service) { s.decoder = d }
}

// WithSpawner replaces the model runner subprocess.
func WithSpawner(sp modelrunner.Spawner) Option {
	return func(s *Service) { s.spawner = sp }
}

// WithReportWriter replaces the text generation client.
func WithReportWriter(w ReportWriter) Option {
	return func(s *Service) { s.reports = w }
}

// WithTracker reports internal faults.
func WithTracker(t *tracking.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// New constructs a Service from cfg. Nothing is started.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New(context.Background())
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Start builds and starts the components. Optional backends are brought up
// concurrently; any configured backend that fails aborts Start.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting assessment service...")

	if s.store == nil {
		st, err := repository.Open(ctx, cfg.DBDriver, cfg.DBDSN,
			repository.WithLogger(s.logger.Named("repository")))
		if err != nil {
			return err
		}
		s.store = st
	}
	if err := s.startBackends(ctx); err != nil {
		_ = s.store.Close()
		return err
	}

	if s.decoder == nil {
		s.decoder = frames.NewFFmpegDecoder(cfg.FFmpegPath, cfg.FFprobePath,
			frames.WithDecoderLogger(s.logger.Named("decoder")))
	}
	if s.spawner == nil {
		s.spawner = &modelrunner.ProcessSpawner{
			Command: cfg.ModelRunnerCmd,
			Args:    cfg.RunnerArgs(),
			Logger:  s.logger.Named("model-runner"),
		}
	}
	s.runner = modelrunner.New(s.spawner,
		modelrunner.WithVideoModel(cfg.VideoModelPath),
		modelrunner.WithFormModel(cfg.FormModelPath),
		modelrunner.WithLogger(s.logger.Named("model-runner")),
	)

	s.pool = workerpool.NewPool(s.runner.VideoModel(),
		workerpool.WithWorkers(cfg.InferenceWorkers),
		workerpool.WithQueueSize(cfg.InferenceQueue),
		workerpool.WithTimeout(cfg.InferenceTimeout()),
		workerpool.WithLogger(s.logger.Named("inference")),
	)
	s.pool.Start(ctx)

	if s.reports == nil {
		s.reports = report.NewGenerator(
			report.WithAPIKey(cfg.GroqAPIKey),
			report.WithBaseURL(cfg.ReportBaseURL),
			report.WithModel(cfg.ReportModel),
			report.WithMaxWords(cfg.ReportMaxWords),
			report.WithTemperature(cfg.ReportTemperature),
			report.WithTimeout(cfg.ReportTimeout()),
			report.WithLogger(s.logger.Named("report")),
		)
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.NotifyQueueSize))
	s.registry = notify.NewRegistry(
		notify.WithSendTimeout(cfg.NotifySendTimeout()),
		notify.WithRegistryLogger(s.logger.Named("registry")),
	)

	dopts := []notify.DispatcherOption{notify.WithDispatcherLogger(s.logger.Named("dispatcher"))}
	if s.relay != nil {
		s.relay.Attach(s.registry)
		dopts = append(dopts, notify.WithRelay(s.relay))
	}
	if s.mirror != nil {
		dopts = append(dopts, notify.WithMirror(s.mirror))
	}
	s.dispatcher = notify.NewDispatcher(s.queue, s.registry, dopts...)

	// Background loops outlive the start-up context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.dispatcher.Run(runCtx)
	}()
	if s.relay != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.relay.Run(runCtx); err != nil {
				s.logger.Error(runCtx, "notification relay stopped", logger.Error(err))
			}
		}()
	}

	classifier := form.NewClassifier(s.runner.FormModel(), form.WithLogger(s.logger.Named("form")))
	reducer := frames.NewReducer(s.decoder,
		frames.WithThreshold(cfg.SharpnessThreshold),
		frames.WithMaxFrames(cfg.MaxFrames),
		frames.WithFrameSize(cfg.FrameSize),
		frames.WithYieldEvery(cfg.YieldEvery),
		frames.WithLogger(s.logger.Named("frames")),
	)
	popts := []PipelineOption{
		WithFormTimeout(cfg.FormTimeout()),
		WithPipelineLogger(s.logger.Named("pipeline")),
	}
	if s.archiver != nil {
		popts = append(popts, WithArchiver(s.archiver))
	}
	if s.tracker.Enabled() {
		popts = append(popts, WithFaultReporter(s.tracker))
	}
	s.pipeline = NewPipeline(reducer, s.pool, classifier, s.store, s.reports, s.queue, popts...)

	s.started = true
	s.logger.Info(ctx, "assessment service started",
		logger.String("db", cfg.DBDriver),
		logger.Int("inference_workers", cfg.InferenceWorkers),
		logger.Bool("archive", s.archiver != nil),
		logger.Bool("relay", s.relay != nil),
		logger.Bool("mirror", s.mirror != nil),
	)
	return nil
}

// startBackends connects the optional archive, MQTT mirror and Redis relay.
func (s *Service) startBackends(ctx context.Context) error {
	cfg := s.cfg
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MinIOEndpoint != "" {
		g.Go(func() error {
			a, err := archive.Connect(gctx, archive.Config{
				Endpoint:  cfg.MinIOEndpoint,
				Bucket:    cfg.MinIOBucket,
				AccessKey: cfg.MinIOAccessKey,
				SecretKey: cfg.MinIOSecretKey,
				Region:    cfg.MinIORegion,
				UseSSL:    cfg.MinIOUseSSL,
			}, archive.WithLogger(s.logger.Named("archive")))
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			s.archiver = a
			return nil
		})
	}
	if cfg.MQTTBroker != "" {
		g.Go(func() error {
			m, err := notify.ConnectMQTT(gctx, cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, s.logger.Named("mqtt"))
			if err != nil {
				return failure.WrapKind("service.mqtt", failure.ErrUnavailable, err)
			}
			s.mirror = m
			return nil
		})
	}
	if cfg.RedisAddr != "" {
		g.Go(func() error {
			rr := notify.NewRedisRelay(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisChannel, nil, s.logger.Named("relay"))
			if err := rr.Ping(gctx); err != nil {
				_ = rr.Close()
				return failure.WrapKind("service.redis", failure.ErrUnavailable, err)
			}
			s.relay = rr
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.closeBackends()
		return err
	}
	return nil
}

func (s *Service) closeBackends() {
	if s.relay != nil {
		_ = s.relay.Close()
		s.relay = nil
	}
	if s.mirror != nil {
		s.mirror.Close()
		s.mirror = nil
	}
	s.archiver = nil
}

// Stop drains pending notifications and releases every component. Stop is
// idempotent.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping assessment service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	// Closing the queue lets the dispatcher drain what is left, then exit.
	_ = s.queue.Close()
	select {
	case <-s.dispatcher.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("notification drain: %w", ctx.Err()))
	}
	s.cancel()
	s.bg.Wait()

	s.closeBackends()
	s.registry.CloseAll()
	if err := s.runner.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	s.tracker.Flush(flushTimeout)

	s.started = false
	s.logger.Info(ctx, "assessment service stopped")
	return errors.Join(errs...)
}

// Run processes one submission.
func (s *Service) Run(ctx context.Context, sub Submission) (Outcome, error) {
	s.mu.RLock()
	p, started := s.pipeline, s.started
	s.mu.RUnlock()
	if !started {
		_ = removeUpload(sub.VideoPath)
		return Outcome{}, failure.WrapKind("service.run", failure.ErrUnavailable, ErrNotStarted)
	}
	return p.Run(ctx, sub)
}

// History returns the subject's records, newest first. A limit outside
// (0, HistoryLimit] is clamped to HistoryLimit.
func (s *Service) History(ctx context.Context, subject model.Subject, limit int) ([]model.AssessmentRecord, error) {
	s.mu.RLock()
	st, started := s.store, s.started
	s.mu.RUnlock()
	if !started {
		return nil, failure.WrapKind("service.history", failure.ErrUnavailable, ErrNotStarted)
	}
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	return st.History(ctx, subject, limit)
}

// Registry returns the live session registry, nil before Start.
func (s *Service) Registry() *notify.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":          s.started,
		"dbDriver":         s.cfg.DBDriver,
		"inferenceWorkers": s.cfg.InferenceWorkers,
		"inferenceQueue":   s.cfg.InferenceQueue,
		"archive":          s.archiver != nil,
		"relay":            s.relay != nil,
		"mirror":           s.mirror != nil,
	}

	if s.started {
		queueLen := s.queue.Len()
		sessions := s.registry.Active()
		subjects := s.registry.Subjects()

		stats["notificationQueueLength"] = queueLen
		stats["activeSessions"] = sessions
		stats["subscribedSubjects"] = subjects

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateActiveSessions(sessions)
		metrics.UpdateSubscribedSubjects(subjects)
	}

	return stats
}
