// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keys are flat snake_case so they map 1:1 onto COGNICARE_* env vars.
// - Provide New(ctx) to build a Config with defaults.
// - Durations are expressed in milliseconds and exposed through helpers.
package config

import (
	"context"
	"strings"
	"time"
)

// Database drivers accepted by DBDriver.
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

const megabyte = 1 << 20

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// CORSOrigins is a comma separated allow list; empty allows any origin.
	CORSOrigins string `koanf:"cors_origins"`

	// UploadDir holds uploaded videos while they are analysed. Empty uses os.TempDir().
	UploadDir string `koanf:"upload_dir"`
	// MaxVideoBytes caps POST /video bodies.
	MaxVideoBytes int64 `koanf:"max_video_bytes"`
	// MaxCombinedBytes caps POST /assessments bodies.
	MaxCombinedBytes int64 `koanf:"max_combined_bytes"`

	// Frame reduction.
	SharpnessThreshold float64 `koanf:"sharpness_threshold"`
	MaxFrames          int     `koanf:"max_frames"`
	YieldEvery         int     `koanf:"yield_every"`
	FrameSize          int     `koanf:"frame_size"`
	FFmpegPath         string  `koanf:"ffmpeg_path"`
	FFprobePath        string  `koanf:"ffprobe_path"`

	// Inference offload pool.
	InferenceWorkers   int `koanf:"inference_workers"`
	InferenceQueue     int `koanf:"inference_queue"`
	InferenceTimeoutMS int `koanf:"inference_timeout_ms"`
	FormTimeoutMS      int `koanf:"form_timeout_ms"`

	// Model runner subprocess.
	ModelRunnerCmd  string `koanf:"model_runner_cmd"`
	ModelRunnerArgs string `koanf:"model_runner_args"`
	VideoModelPath  string `koanf:"video_model_path"`
	FormModelPath   string `koanf:"form_model_path"`

	// Report generation.
	GroqAPIKey        string  `koanf:"groq_api_key"`
	ReportBaseURL     string  `koanf:"report_base_url"`
	ReportModel       string  `koanf:"report_model"`
	ReportMaxWords    int     `koanf:"report_max_words"`
	ReportTemperature float64 `koanf:"report_temperature"`
	ReportTimeoutMS   int     `koanf:"report_timeout_ms"`

	// Notifications.
	NotifyQueueSize     int `koanf:"notify_queue_size"`
	NotifySendTimeoutMS int `koanf:"notify_send_timeout_ms"`

	// Record store.
	DBDriver string `koanf:"db_driver"`
	DBDSN    string `koanf:"db_dsn"`
	// HistoryLimit caps GET /data/history?limit.
	HistoryLimit int `koanf:"history_limit"`

	// Optional video archive on MinIO/S3. Disabled when MinIOEndpoint is empty.
	MinIOEndpoint  string `koanf:"minio_endpoint"`
	MinIOBucket    string `koanf:"minio_bucket"`
	MinIOAccessKey string `koanf:"minio_access_key"`
	MinIOSecretKey string `koanf:"minio_secret_key"`
	MinIORegion    string `koanf:"minio_region"`
	MinIOUseSSL    bool   `koanf:"minio_use_ssl"`

	// Optional MQTT mirror of completion events. Disabled when MQTTBroker is empty.
	MQTTBroker   string `koanf:"mqtt_broker"`
	MQTTTopic    string `koanf:"mqtt_topic"`
	MQTTClientID string `koanf:"mqtt_client_id"`

	// Optional Redis relay so any replica can reach a subject's sessions.
	RedisAddr    string `koanf:"redis_addr"`
	RedisChannel string `koanf:"redis_channel"`

	// Optional Sentry error tracking. Disabled when SentryDSN is empty.
	SentryDSN         string `koanf:"sentry_dsn"`
	SentryEnvironment string `koanf:"sentry_environment"`
}

// New creates a Config with defaults. Context is accepted first to match the
// loader signature and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":8000",
		MaxVideoBytes:       300 * megabyte,
		MaxCombinedBytes:    1000 * megabyte,
		SharpnessThreshold:  50,
		MaxFrames:           100,
		YieldEvery:          10,
		FrameSize:           224,
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		InferenceWorkers:    2,
		InferenceQueue:      16,
		InferenceTimeoutMS:  60_000,
		FormTimeoutMS:       10_000,
		ModelRunnerCmd:      "python3",
		ModelRunnerArgs:     "-m cognicare_runner",
		VideoModelPath:      "ml_models/best_model_fine_tuned.h5",
		FormModelPath:       "ml_models/asd_rf_model.pkl",
		ReportBaseURL:       "https://api.groq.com/openai/v1",
		ReportModel:         "llama-3.1-8b-instant",
		ReportMaxWords:      120,
		ReportTemperature:   0.3,
		ReportTimeoutMS:     30_000,
		NotifyQueueSize:     1024,
		NotifySendTimeoutMS: 5_000,
		DBDriver:            DriverMemory,
		HistoryLimit:        50,
		MinIOBucket:         "cognicare-videos",
		MQTTTopic:           "cognicare/reports",
		MQTTClientID:        "cognicare",
		RedisChannel:        "cognicare:notifications",
		SentryEnvironment:   "development",
	}
}

// Validate checks cross-field constraints after all layers are merged.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.MaxVideoBytes <= 0 || c.MaxCombinedBytes <= 0:
		return invalid("upload limits must be positive")
	case c.MaxFrames <= 0:
		return invalid("max_frames must be positive")
	case c.FrameSize <= 0:
		return invalid("frame_size must be positive")
	case c.SharpnessThreshold < 0:
		return invalid("sharpness_threshold must not be negative")
	case c.InferenceWorkers <= 0 || c.InferenceQueue < 0:
		return invalid("inference pool sizes are invalid")
	case c.ReportMaxWords <= 0:
		return invalid("report_max_words must be positive")
	case c.NotifyQueueSize <= 0:
		return invalid("notify_queue_size must be positive")
	}
	switch c.DBDriver {
	case DriverMemory:
	case DriverMySQL, DriverPostgres:
		if c.DBDSN == "" {
			return invalid("db_dsn is required for driver " + c.DBDriver)
		}
	default:
		return invalid("unknown db_driver " + c.DBDriver)
	}
	return nil
}

// InferenceTimeout bounds one offloaded video inference.
func (c *Config) InferenceTimeout() time.Duration { return ms(c.InferenceTimeoutMS) }

// FormTimeout bounds one form prediction.
func (c *Config) FormTimeout() time.Duration { return ms(c.FormTimeoutMS) }

// ReportTimeout bounds one report generation call.
func (c *Config) ReportTimeout() time.Duration { return ms(c.ReportTimeoutMS) }

// NotifySendTimeout bounds one session write.
func (c *Config) NotifySendTimeout() time.Duration { return ms(c.NotifySendTimeoutMS) }

// RunnerArgs splits ModelRunnerArgs on whitespace.
func (c *Config) RunnerArgs() []string { return strings.Fields(c.ModelRunnerArgs) }

// Origins splits CORSOrigins on commas, dropping blanks.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
