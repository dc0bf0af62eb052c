// Package config defines the kiosk configuration and how it is layered:
// defaults, an optional YAML file, then FACEGATE_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/andresmejia3/facegate/internal/liveness"
	"github.com/andresmejia3/facegate/internal/recognition"
)

// Config contains process configuration.
type Config struct {
	// GalleryDir holds one reference image per registered identity.
	GalleryDir string `koanf:"gallery_dir" yaml:"gallery_dir"`
	// AccessLog is the append-only login record. Defaults to log.txt inside GalleryDir.
	AccessLog string `koanf:"access_log" yaml:"access_log"`
	// DatabaseURL enables the PostgreSQL identity index when set.
	DatabaseURL string `koanf:"database_url" yaml:"database_url"`

	Python        string        `koanf:"python" yaml:"python"`
	WorkerScript  string        `koanf:"worker_script" yaml:"worker_script"`
	WorkerTimeout time.Duration `koanf:"worker_timeout" yaml:"worker_timeout"`

	// CameraDevice and CameraFormat are handed to ffmpeg as -i and -f.
	CameraDevice  string        `koanf:"camera_device" yaml:"camera_device"`
	CameraFormat  string        `koanf:"camera_format" yaml:"camera_format"`
	FrameInterval time.Duration `koanf:"frame_interval" yaml:"frame_interval"`
	BurstFrames   int           `koanf:"burst_frames" yaml:"burst_frames"`
	MaxFrameSide  int           `koanf:"max_frame_side" yaml:"max_frame_side"`

	BlinkThreshold    float64 `koanf:"blink_threshold" yaml:"blink_threshold"`
	ConsecutiveFrames int     `koanf:"consecutive_frames" yaml:"consecutive_frames"`
	RequireReopen     bool    `koanf:"require_reopen" yaml:"require_reopen"`
	NoFacePolicy      string  `koanf:"no_face_policy" yaml:"no_face_policy"`

	// MatchTolerance is the largest encoding distance accepted as the same person.
	MatchTolerance float64 `koanf:"match_tolerance" yaml:"match_tolerance"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel      string `koanf:"log_level" yaml:"log_level"`
	LogFile       string `koanf:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `koanf:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `koanf:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays int    `koanf:"log_max_age_days" yaml:"log_max_age_days"`

	// MetricsAddr serves /healthz and /metrics in kiosk mode. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr" yaml:"metrics_addr"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		GalleryDir:        "./db",
		Python:            "python3",
		WorkerScript:      "python/worker.py",
		WorkerTimeout:     30 * time.Second,
		CameraDevice:      "/dev/video0",
		CameraFormat:      "v4l2",
		FrameInterval:     20 * time.Millisecond,
		BurstFrames:       liveness.DefaultFrames,
		MaxFrameSide:      640,
		BlinkThreshold:    liveness.DefaultThreshold,
		ConsecutiveFrames: liveness.DefaultConsecutiveFrames,
		NoFacePolicy:      string(liveness.NoFaceFail),
		MatchTolerance:    recognition.DefaultTolerance,
		LogLevel:          "info",
		LogMaxSizeMB:      10,
		LogMaxBackups:     3,
		LogMaxAgeDays:     28,
		MetricsAddr:       ":9090",
	}
}

// AccessLogPath resolves the access log location.
func (c *Config) AccessLogPath() string {
	if c.AccessLog != "" {
		return c.AccessLog
	}
	return filepath.Join(c.GalleryDir, "log.txt")
}

// Liveness maps the blink settings onto the decision engine parameters.
func (c *Config) Liveness() liveness.Config {
	return liveness.Config{
		Threshold:         c.BlinkThreshold,
		ConsecutiveFrames: c.ConsecutiveFrames,
		Frames:            c.BurstFrames,
		NoFace:            liveness.NoFacePolicy(c.NoFacePolicy),
		RequireReopen:     c.RequireReopen,
	}
}

// Validate checks every field the kiosk depends on.
func (c *Config) Validate() error {
	if c.GalleryDir == "" {
		return fmt.Errorf("%w: gallery_dir must not be empty", ErrInvalidConfig)
	}
	if c.Python == "" || c.WorkerScript == "" {
		return fmt.Errorf("%w: python and worker_script must not be empty", ErrInvalidConfig)
	}
	if c.WorkerTimeout < 0 {
		return fmt.Errorf("%w: worker_timeout must not be negative", ErrInvalidConfig)
	}
	if c.FrameInterval < 0 {
		return fmt.Errorf("%w: frame_interval must not be negative", ErrInvalidConfig)
	}
	if c.MaxFrameSide < 0 {
		return fmt.Errorf("%w: max_frame_side must not be negative", ErrInvalidConfig)
	}
	if c.MatchTolerance <= 0 {
		return fmt.Errorf("%w: match_tolerance must be positive, got %v", ErrInvalidConfig, c.MatchTolerance)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if err := c.Liveness().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
