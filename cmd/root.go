package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/andresmejia3/facegate/internal/metrics"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds the command line overrides shared by every command.
type Options struct {
	ConfigPath     string
	GalleryDir     string
	DatabaseURL    string
	LogLevel       string
	CameraDevice   string
	MatchTolerance float64
	BlinkThreshold float64
}

var (
	// Cfg is the effective configuration after file, env and flags.
	Cfg *config.Config
	// Log is the process logger.
	Log *logrus.Logger
	// Metrics collects telemetry for the kiosk side server.
	Metrics *metrics.Manager
	// DB is the optional PostgreSQL identity index shared by subcommands
	DB *store.Store

	rootOpts  Options
	logCloser io.Closer
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facegate",
	Short:   "Face recognition login kiosk with blink liveness check",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rootOpts.ConfigPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		Cfg = cfg

		Log, logCloser, err = logging.New(logging.Options{
			Level:      cfg.LogLevel,
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
		})
		if err != nil {
			return err
		}
		Metrics = metrics.NewManager()

		// If no URL was configured, try to build the connection string from the environment
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = postgresFromEnv()
		}
		if cfg.DatabaseURL == "" || !needsDB(cmd) {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		Log.Debug("using PostgreSQL identity index")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// needsDB is false for commands annotated as offline.
func needsDB(cmd *cobra.Command) bool {
	return cmd.Annotations["offline"] != "true"
}

// postgresFromEnv builds a URL from the standard POSTGRES_* variables.
func postgresFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("gallery") {
		cfg.GalleryDir = rootOpts.GalleryDir
	}
	if flags.Changed("db") {
		cfg.DatabaseURL = rootOpts.DatabaseURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = rootOpts.LogLevel
	}
	if flags.Changed("camera") {
		cfg.CameraDevice = rootOpts.CameraDevice
	}
	if flags.Changed("tolerance") {
		cfg.MatchTolerance = rootOpts.MatchTolerance
	}
	if flags.Changed("threshold") {
		cfg.BlinkThreshold = rootOpts.BlinkThreshold
	}
}

// loadDotenv reads .env from the working directory when present.
func loadDotenv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to load .env: %v\n", err)
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadDotenv)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootOpts.ConfigPath, "config", "c", "", "YAML config file (default: $FACEGATE_CONFIG)")
	pf.StringVar(&rootOpts.GalleryDir, "gallery", "", "Directory holding reference images (default ./db)")
	pf.StringVar(&rootOpts.DatabaseURL, "db", "", "PostgreSQL connection string; enables the database identity index")
	pf.StringVar(&rootOpts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootOpts.CameraDevice, "camera", "", "Camera device handed to ffmpeg (default /dev/video0)")
	pf.Float64Var(&rootOpts.MatchTolerance, "tolerance", 0, "Face matching tolerance (lower is stricter)")
	pf.Float64Var(&rootOpts.BlinkThreshold, "threshold", 0, "EAR below which the eyes count as closed")
}
