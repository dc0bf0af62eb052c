package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/liveness"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"FACEGATE_CONFIG",
	"FACEGATE_GALLERY_DIR",
	"FACEGATE_BLINK_THRESHOLD",
	"FACEGATE_CONSECUTIVE_FRAMES",
	"FACEGATE_REQUIRE_REOPEN",
	"FACEGATE_FRAME_INTERVAL",
	"FACEGATE_MATCH_TOLERANCE",
	"FACEGATE_NO_FACE_POLICY",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should match the reference kiosk", func() {
			convey.So(cfg.GalleryDir, convey.ShouldEqual, "./db")
			convey.So(cfg.AccessLogPath(), convey.ShouldEqual, filepath.Join("db", "log.txt"))
			convey.So(cfg.FrameInterval, convey.ShouldEqual, 20*time.Millisecond)
			convey.So(cfg.BurstFrames, convey.ShouldEqual, 5)
			convey.So(cfg.BlinkThreshold, convey.ShouldEqual, 0.27)
			convey.So(cfg.ConsecutiveFrames, convey.ShouldEqual, 1)
			convey.So(cfg.MatchTolerance, convey.ShouldEqual, 0.6)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the liveness parameters carry over", func() {
			lv := cfg.Liveness()
			convey.So(lv, convey.ShouldResemble, liveness.DefaultConfig())
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a valid config", t, func() {
		cfg := config.New()

		convey.Convey("When the blink threshold is zero", func() {
			cfg.BlinkThreshold = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the no-face policy is unknown", func() {
			cfg.NoFacePolicy = "retry"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the tolerance is negative", func() {
			cfg.MatchTolerance = -0.1
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the log level is unknown", func() {
			cfg.LogLevel = "chatty"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the access log is set explicitly", func() {
			cfg.AccessLog = "/var/log/facegate/access.txt"
			convey.So(cfg.AccessLogPath(), convey.ShouldEqual, "/var/log/facegate/access.txt")
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load("")

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("FACEGATE_GALLERY_DIR", "/srv/faces")
			_ = os.Setenv("FACEGATE_BLINK_THRESHOLD", "0.22")
			_ = os.Setenv("FACEGATE_CONSECUTIVE_FRAMES", "2")
			_ = os.Setenv("FACEGATE_REQUIRE_REOPEN", "true")
			_ = os.Setenv("FACEGATE_FRAME_INTERVAL", "50ms")

			cfg, err := config.Load("")

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.GalleryDir, convey.ShouldEqual, "/srv/faces")
				convey.So(cfg.BlinkThreshold, convey.ShouldEqual, 0.22)
				convey.So(cfg.ConsecutiveFrames, convey.ShouldEqual, 2)
				convey.So(cfg.RequireReopen, convey.ShouldBeTrue)
				convey.So(cfg.FrameInterval, convey.ShouldEqual, 50*time.Millisecond)
				convey.So(cfg.MatchTolerance, convey.ShouldEqual, 0.6)
			})
		})

		convey.Convey("When loading config from a YAML file", func() {
			path := filepath.Join(t.TempDir(), "facegate.yaml")
			yaml := "gallery_dir: /data/gallery\nmatch_tolerance: 0.5\nno_face_policy: skip\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o644), convey.ShouldBeNil)

			_ = os.Setenv("FACEGATE_CONFIG", path)
			_ = os.Setenv("FACEGATE_MATCH_TOLERANCE", "0.45")

			cfg, err := config.Load("")

			convey.Convey("Then the file applies and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.GalleryDir, convey.ShouldEqual, "/data/gallery")
				convey.So(cfg.NoFacePolicy, convey.ShouldEqual, "skip")
				convey.So(cfg.MatchTolerance, convey.ShouldEqual, 0.45)
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the config file is missing", func() {
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))

			convey.Convey("Then it should report a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})
	})
}
