package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/cognicare/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8000")
				convey.So(cfg.MaxFrames, convey.ShouldEqual, 100)
				convey.So(cfg.InferenceTimeoutMS, convey.ShouldEqual, 60_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("COGNICARE_ADDR", ":8080")
			_ = os.Setenv("COGNICARE_MAX_FRAMES", "40")
			_ = os.Setenv("COGNICARE_SHARPNESS_THRESHOLD", "75.5")
			_ = os.Setenv("COGNICARE_GROQ_API_KEY", "gsk_test")
			_ = os.Setenv("COGNICARE_MINIO_USE_SSL", "true")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxFrames, convey.ShouldEqual, 40)
				convey.So(cfg.SharpnessThreshold, convey.ShouldEqual, 75.5)
				convey.So(cfg.GroqAPIKey, convey.ShouldEqual, "gsk_test")
				convey.So(cfg.MinIOUseSSL, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
# file layer
addr: ":9090"
max_frames: 60
db_driver: postgres
db_dsn: "postgres://u:p@localhost/cognicare?sslmode=disable"
report_max_words: 200
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("COGNICARE_CONFIG", tmpFile)
			_ = os.Setenv("COGNICARE_ADDR", ":7070")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")        // env
				convey.So(cfg.MaxFrames, convey.ShouldEqual, 60)        // file
				convey.So(cfg.DBDriver, convey.ShouldEqual, "postgres") // file
				convey.So(cfg.ReportMaxWords, convey.ShouldEqual, 200)  // file
				convey.So(cfg.YieldEvery, convey.ShouldEqual, 10)       // default
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("COGNICARE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("COGNICARE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("COGNICARE_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("COGNICARE_MAX_FRAMES", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"COGNICARE_CONFIG",
		"COGNICARE_ADDR",
		"COGNICARE_MAX_FRAMES",
		"COGNICARE_SHARPNESS_THRESHOLD",
		"COGNICARE_GROQ_API_KEY",
		"COGNICARE_MINIO_USE_SSL",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "cognicare-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
