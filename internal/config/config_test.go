package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/cognicare/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have the pipeline defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8000")
			convey.So(cfg.MaxVideoBytes, convey.ShouldEqual, 300<<20)
			convey.So(cfg.MaxCombinedBytes, convey.ShouldEqual, 1000<<20)
			convey.So(cfg.SharpnessThreshold, convey.ShouldEqual, 50)
			convey.So(cfg.MaxFrames, convey.ShouldEqual, 100)
			convey.So(cfg.FrameSize, convey.ShouldEqual, 224)
			convey.So(cfg.InferenceWorkers, convey.ShouldEqual, 2)
			convey.So(cfg.ReportModel, convey.ShouldEqual, "llama-3.1-8b-instant")
			convey.So(cfg.ReportMaxWords, convey.ShouldEqual, 120)
			convey.So(cfg.DBDriver, convey.ShouldEqual, config.DriverMemory)
		})

		convey.Convey("Then the duration helpers convert milliseconds", func() {
			convey.So(cfg.InferenceTimeout(), convey.ShouldEqual, 60*time.Second)
			convey.So(cfg.ReportTimeout(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.NotifySendTimeout(), convey.ShouldEqual, 5*time.Second)
		})

		convey.Convey("Then the defaults validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with broken fields", t, func() {
		ctx := context.Background()

		cases := map[string]func(c *config.Config){
			"empty addr":      func(c *config.Config) { c.Addr = "" },
			"zero max frames": func(c *config.Config) { c.MaxFrames = 0 },
			"zero workers":    func(c *config.Config) { c.InferenceWorkers = 0 },
			"unknown driver":  func(c *config.Config) { c.DBDriver = "oracle" },
			"mysql no dsn":    func(c *config.Config) { c.DBDriver = config.DriverMySQL },
			"negative sharp":  func(c *config.Config) { c.SharpnessThreshold = -1 },
		}
		for name, mutate := range cases {
			cfg := config.New(ctx)
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			_ = name
		}
	})

	convey.Convey("Given split helpers", t, func() {
		cfg := config.New(context.Background())
		cfg.ModelRunnerArgs = "  -m   runner --verbose "
		cfg.CORSOrigins = "https://a.example, ,https://b.example"

		convey.So(cfg.RunnerArgs(), convey.ShouldResemble, []string{"-m", "runner", "--verbose"})
		convey.So(cfg.Origins(), convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
	})
}
