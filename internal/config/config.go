// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_EXPORTS is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_EXPORTS must be positive")
	// ErrInvalidProgressInterval is returned when PROGRESS_INTERVAL_MS is not positive.
	ErrInvalidProgressInterval = errors.New("config: PROGRESS_INTERVAL_MS must be positive")
	// ErrInvalidExportTimeout is returned when EXPORT_TIMEOUT is negative.
	ErrInvalidExportTimeout = errors.New("config: EXPORT_TIMEOUT must not be negative")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrInvalidLogFormat is returned when LOG_FORMAT is neither text nor json.
	ErrInvalidLogFormat = errors.New("config: LOG_FORMAT must be text or json")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	TempDir   string `env:"TEMP_DIR, default=/tmp/clipforge" json:"temp_dir"`
	OutputDir string `env:"OUTPUT_DIR, default=/tmp/clipforge/exports" json:"output_dir"`
	// JobDBPath, when set, persists jobs in a SQLite database instead of memory.
	JobDBPath string `env:"JOB_DB_PATH" json:"job_db_path,omitempty"`
	// SourceDir, when set, is the only directory sources may be read from by path.
	SourceDir string `env:"SOURCE_DIR" json:"source_dir,omitempty"`

	// Media tool settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Processing settings
	MaxConcurrentExports int           `env:"MAX_CONCURRENT_EXPORTS, default=2" json:"max_concurrent_exports"`
	ProgressIntervalMS   int           `env:"PROGRESS_INTERVAL_MS, default=100" json:"progress_interval_ms"`
	ExportTimeout        time.Duration `env:"EXPORT_TIMEOUT, default=30m" json:"export_timeout"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ProgressInterval returns PROGRESS_INTERVAL_MS as a duration.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadFrom(envconfig.OsLookuper())
}

// LoadFrom is Load with an explicit variable source.
func LoadFrom(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxConcurrentExports <= 0 {
		return ErrInvalidConcurrency
	}
	if c.ProgressIntervalMS <= 0 {
		return ErrInvalidProgressInterval
	}
	if c.ExportTimeout < 0 {
		return ErrInvalidExportTimeout
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo is NewLogger with an explicit destination.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, OutputDir: %s, JobDBPath: %s, SourceDir: %s, FFmpegPath: %s, FFprobePath: %s, MaxConcurrentExports: %d, ProgressIntervalMS: %d, ExportTimeout: %s, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, AWSAccessKeyID: %s, AWSSecretAccessKey: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.OutputDir,
		c.JobDBPath,
		c.SourceDir,
		c.FFmpegPath,
		c.FFprobePath,
		c.MaxConcurrentExports,
		c.ProgressIntervalMS,
		c.ExportTimeout,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		mask(c.AWSAccessKeyID),
		mask(c.AWSSecretAccessKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
