// Package bootstrap provides dependency initialization for clipforge.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/clipforge/internal/config"
	"github.com/maauso/clipforge/internal/job"
	"github.com/maauso/clipforge/internal/media"
	"github.com/maauso/clipforge/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	ExportService *job.ExportService
	Storage       storage.Storage
	Repository    job.Repository

	closers []io.Closer
}

// Close releases resources such as the job database.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Storage: store}
	repo, err := initRepository(ctx, cfg, logger, deps)
	if err != nil {
		return nil, err
	}
	deps.Repository = repo

	encoder := media.NewFFmpegEncoder(cfg.FFmpegPath)

	svc := job.NewExportService(
		repo,
		encoder,
		store,
		AssetOpener(cfg),
		logger,
		job.WithMaxConcurrentExports(cfg.MaxConcurrentExports),
		job.WithProgressInterval(cfg.ProgressInterval()),
		job.WithExportTimeout(cfg.ExportTimeout),
		job.WithSourceRoot(cfg.SourceDir),
	)

	deps.ExportService = svc
	return deps, nil
}

// initRepository opens the SQLite job database when JOB_DB_PATH is set and
// falls back to an in-memory repository otherwise.
func initRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Repository, error) {
	if cfg.JobDBPath == "" {
		logger.Info("in-memory job repository configured")
		return job.NewMemoryRepository(), nil
	}
	repo, err := job.OpenSQLiteRepository(ctx, cfg.JobDBPath)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	deps.closers = append(deps.closers, repo)
	logger.Info("sqlite job repository configured", slog.String("path", cfg.JobDBPath))
	return repo, nil
}

// AssetOpener returns an opener that probes sources with the configured ffprobe.
func AssetOpener(cfg *config.Config) job.AssetOpener {
	return func(path string) (media.Asset, error) {
		return media.OpenProbeAsset(path, media.WithFFprobePath(cfg.FFprobePath))
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("output_dir", cfg.OutputDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
