package job

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maauso/clipforge/internal/export"
	"github.com/maauso/clipforge/internal/geometry"
	"github.com/maauso/clipforge/internal/media"
	"github.com/maauso/clipforge/internal/storage"
)

var (
	// ErrInvalidInput is returned when a job request is malformed.
	ErrInvalidInput = errors.New("invalid export request")
	// ErrJobTerminal is returned when cancelling a job that already finished.
	ErrJobTerminal = errors.New("job already finished")
)

// AssetOpener opens a source file for export.
type AssetOpener func(path string) (media.Asset, error)

// CreateJobInput contains the parameters of a new export job. Exactly one of
// SourcePath and SourceBase64 must be set.
type CreateJobInput struct {
	SourcePath   string
	SourceBase64 string
	AspectRatio  string
	Rotation     int
	OffsetX      float64
	OffsetY      float64
	TrimStart    time.Duration
	TrimDuration time.Duration
	Metadata     []media.MetadataItem
	PushToS3     bool
}

// ServiceOption configures an ExportService.
type ServiceOption func(*ExportService)

// WithMaxConcurrentExports limits how many exports run at once.
func WithMaxConcurrentExports(n int) ServiceOption {
	return func(s *ExportService) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithProgressInterval sets how often running exports sample encoder progress.
func WithProgressInterval(d time.Duration) ServiceOption {
	return func(s *ExportService) {
		if d > 0 {
			s.progressInterval = d
		}
	}
}

// WithExportTimeout bounds the run time of a single export. Zero disables the limit.
func WithExportTimeout(d time.Duration) ServiceOption {
	return func(s *ExportService) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// WithSourceRoot restricts SourcePath inputs to files under dir.
func WithSourceRoot(dir string) ServiceOption {
	return func(s *ExportService) {
		s.sourceRoot = dir
	}
}

// runningJob is the live copy of a job owned by ProcessExistingJob.
type runningJob struct {
	job    *Job
	cancel context.CancelFunc
}

// ExportService runs export jobs. It coordinates the job repository, the
// export pipeline and storage for uploaded sources and finished files.
type ExportService struct {
	repo      Repository
	encoder   media.Encoder
	storage   storage.Storage
	openAsset AssetOpener
	logger    *slog.Logger

	maxConcurrent    int
	progressInterval time.Duration
	timeout          time.Duration
	sourceRoot       string

	slots chan struct{}

	mu      sync.Mutex
	running map[string]*runningJob
	wg      sync.WaitGroup
}

// NewExportService creates a new ExportService.
func NewExportService(
	repo Repository,
	encoder media.Encoder,
	store storage.Storage,
	openAsset AssetOpener,
	logger *slog.Logger,
	opts ...ServiceOption,
) *ExportService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ExportService{
		repo:             repo,
		encoder:          encoder,
		storage:          store,
		openAsset:        openAsset,
		logger:           logger,
		maxConcurrent:    2,
		progressInterval: export.DefaultProgressInterval,
		running:          make(map[string]*runningJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = make(chan struct{}, s.maxConcurrent)
	return s
}

// CreateJob validates input, stores an uploaded source if one was sent, and
// persists a new job in IN_QUEUE status.
func (s *ExportService) CreateJob(ctx context.Context, input CreateJobInput) (*Job, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	job := New()
	job.PushToS3 = input.PushToS3
	job.Request = Request{
		SourcePath:   input.SourcePath,
		AspectRatio:  strings.ToLower(strings.TrimSpace(input.AspectRatio)),
		Rotation:     input.Rotation,
		OffsetX:      input.OffsetX,
		OffsetY:      input.OffsetY,
		TrimStart:    input.TrimStart,
		TrimDuration: input.TrimDuration,
		Metadata:     append([]media.MetadataItem(nil), input.Metadata...),
	}

	if input.SourceBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(input.SourceBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode source: %w", ErrInvalidInput, err)
		}
		path, err := s.storage.SaveTemp(ctx, job.ID+"_source", bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("save source: %w", err)
		}
		job.Request.SourcePath = path
		job.TempFiles = append(job.TempFiles, path)
	}

	s.logger.Info("creating export job",
		slog.String("job_id", job.ID),
		slog.String("source", job.Request.SourcePath),
		slog.String("aspect_ratio", job.Request.AspectRatio),
		slog.Int("rotation", input.Rotation),
		slog.Bool("push_to_s3", input.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		_ = s.storage.CleanupTemp(ctx, job.TempFiles)
		return nil, err
	}

	return job, nil
}

func (s *ExportService) validate(input CreateJobInput) error {
	hasPath := strings.TrimSpace(input.SourcePath) != ""
	hasData := input.SourceBase64 != ""
	switch {
	case hasPath == hasData:
		return fmt.Errorf("%w: exactly one of source path and source data is required", ErrInvalidInput)
	case hasPath:
		if err := s.checkSourcePath(input.SourcePath); err != nil {
			return err
		}
	}

	if a := strings.TrimSpace(input.AspectRatio); a != "" {
		if _, err := geometry.ParseAspectRatio(a); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	if _, err := geometry.RotationFromDegrees(input.Rotation); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := (geometry.Offset{X: input.OffsetX, Y: input.OffsetY}).Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if input.TrimStart < 0 || input.TrimDuration < 0 {
		return fmt.Errorf("%w: trim start and duration must be non-negative", ErrInvalidInput)
	}
	for _, item := range input.Metadata {
		if strings.TrimSpace(item.Key) == "" || strings.Contains(item.Key, "=") {
			return fmt.Errorf("%w: invalid metadata key %q", ErrInvalidInput, item.Key)
		}
	}
	return nil
}

func (s *ExportService) checkSourcePath(path string) error {
	if s.sourceRoot != "" {
		root, err := filepath.Abs(s.sourceRoot)
		if err != nil {
			return fmt.Errorf("resolve source root: %w", err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: source path outside %s", ErrInvalidInput, s.sourceRoot)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: source: %w", ErrInvalidInput, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: source %s is a directory", ErrInvalidInput, path)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *ExportService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, newest first.
func (s *ExportService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Submit runs the job in the background. Use Wait to block until all
// submitted jobs have finished.
func (s *ExportService) Submit(jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ProcessExistingJob(context.Background(), jobID); err != nil {
			s.logger.Error("export job failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every job started with Submit has returned.
func (s *ExportService) Wait() {
	s.wg.Wait()
}

// ErrorKindInterrupted marks jobs that were running when the previous
// process stopped.
const ErrorKindInterrupted = "INTERRUPTED"

// Recover picks up jobs left behind by a previous process: queued jobs are
// submitted again, oldest first, and jobs that were running are failed with
// ErrorKindInterrupted. It returns the number of resubmitted jobs.
func (s *ExportService) Recover(ctx context.Context) (int, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	resubmitted := 0
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i]
		switch job.GetStatus() {
		case StatusInQueue:
			s.Submit(job.ID)
			resubmitted++
		case StatusRunning:
			if err := job.Fail(ErrorKindInterrupted, "export interrupted by shutdown"); err != nil {
				continue
			}
			if err := s.repo.Save(ctx, job); err != nil {
				return resubmitted, err
			}
			s.cleanupInputs(job, s.logger.With(slog.String("job_id", job.ID)))
			s.logger.Warn("marked interrupted export job as failed", slog.String("job_id", job.ID))
		}
	}
	return resubmitted, nil
}

// Cancel stops a queued or running job. Cancelling a finished job returns
// ErrJobTerminal.
func (s *ExportService) Cancel(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.running[id]; ok {
		if err := r.job.Cancel(); err != nil {
			return nil, ErrJobTerminal
		}
		r.cancel()
		if err := s.repo.Save(ctx, r.job); err != nil {
			return nil, err
		}
		s.logger.Info("export job cancelled", slog.String("job_id", id))
		return r.job.Clone(), nil
	}

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.Cancel(); err != nil {
		return nil, ErrJobTerminal
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	_ = s.storage.CleanupTemp(ctx, job.TempFiles)
	s.logger.Info("queued export job cancelled", slog.String("job_id", id))
	return job, nil
}

// register makes a queued job cancellable and returns its run context. A
// job that is no longer queued yields a nil runningJob.
func (s *ExportService) register(ctx context.Context, jobID string) (*runningJob, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.GetStatus() != StatusInQueue {
		return nil, nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &runningJob{job: job, cancel: cancel}
	s.running[jobID] = r
	return r, runCtx, nil
}

func (s *ExportService) unregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.running[jobID]; ok {
		r.cancel()
		delete(s.running, jobID)
	}
}

// ProcessExistingJob runs the export of a queued job to completion. It
// waits for a free slot, then drives the job through RUNNING to a terminal
// status. Jobs that are no longer queued are ignored.
func (s *ExportService) ProcessExistingJob(ctx context.Context, jobID string) error {
	r, runCtx, err := s.register(ctx, jobID)
	if err != nil {
		return err
	}
	if r == nil {
		s.logger.Info("job no longer queued, skipping", slog.String("job_id", jobID))
		return nil
	}
	defer s.unregister(jobID)
	job := r.job
	logger := s.logger.With(slog.String("job_id", jobID))
	defer s.cleanupInputs(job, logger)

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-runCtx.Done():
		return s.finishCancelled(ctx, job, runCtx.Err())
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
		defer cancel()
	}

	if err := job.Start(); err != nil {
		// Cancelled between registration and slot acquisition.
		return s.finishCancelled(ctx, job, err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return err
	}
	logger.Info("export job started")

	asset, err := s.openAsset(job.Request.SourcePath)
	if err != nil {
		return s.finishFailed(ctx, job, export.KindOf(export.ErrInvalidAsset), err, logger)
	}

	cfg := s.configuration(ctx, job, logger)
	exporter := export.New(s.encoder, s.storage, cfg, logger, export.WithProgressInterval(s.progressInterval))
	result, err := exporter.Export(runCtx, asset)
	if err != nil {
		if result.OutputPath != "" {
			_ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{result.OutputPath})
		}
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			_ = job.Timeout()
			logger.Warn("export job timed out", slog.Duration("timeout", s.timeout))
			return s.repo.Save(ctx, job)
		case runCtx.Err() != nil && job.GetStatus() == StatusCancelled:
			return s.finishCancelled(ctx, job, runCtx.Err())
		}
		return s.finishFailed(ctx, job, export.KindOf(err), err, logger)
	}

	videoURL := ""
	if job.PushToS3 {
		videoURL, err = s.upload(runCtx, job.ID, result.OutputPath)
		if err != nil {
			_ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{result.OutputPath})
			return s.finishFailed(ctx, job, "UPLOAD_FAILED", err, logger)
		}
	}

	job.SetOutput(result.OutputPath, videoURL, result.SkippedAudioTracks)
	if err := job.Complete(); err != nil {
		// Cancelled after the encode finished; the file is not delivered.
		_ = s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{result.OutputPath})
		job.ClearOutput()
		return s.repo.Save(ctx, job)
	}
	logger.Info("export job completed",
		slog.String("output", result.OutputPath),
		slog.String("video_url", videoURL),
		slog.Int("audio_tracks", result.AudioTracks),
	)
	return s.repo.Save(ctx, job)
}

// configuration builds the export configuration for job. Progress updates
// are written to the repository whenever the percentage changes.
func (s *ExportService) configuration(ctx context.Context, job *Job, logger *slog.Logger) export.Configuration {
	req := job.Request
	cfg := export.NewConfiguration().
		WithOffset(geometry.Offset{X: req.OffsetX, Y: req.OffsetY}).
		WithMetadata(req.Metadata).
		WithProgress(func(p float64) {
			if job.UpdateProgress(int(p * 100)) {
				if err := s.repo.Save(ctx, job); err != nil {
					logger.Warn("failed to save progress", slog.String("error", err.Error()))
				}
			}
		})

	if req.AspectRatio != "" {
		if aspect, err := geometry.ParseAspectRatio(req.AspectRatio); err == nil {
			cfg = cfg.WithAspectRatio(aspect)
		}
	}
	if rotation, err := geometry.RotationFromDegrees(req.Rotation); err == nil {
		cfg = cfg.WithRotation(rotation)
	}
	if req.TrimDuration > 0 {
		cfg = cfg.WithTrimRange(media.TimeRange{Start: req.TrimStart, Duration: req.TrimDuration})
	}
	return cfg
}

func (s *ExportService) upload(ctx context.Context, jobID, path string) (string, error) {
	f, err := s.storage.LoadTemp(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	key := "exports/" + jobID + filepath.Ext(path)
	return s.storage.UploadToS3(ctx, key, f)
}

func (s *ExportService) finishFailed(ctx context.Context, job *Job, kind string, cause error, logger *slog.Logger) error {
	if err := job.Fail(kind, cause.Error()); err != nil {
		logger.Warn("could not mark job failed",
			slog.String("status", string(job.GetStatus())),
			slog.String("error", cause.Error()),
		)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return err
	}
	return fmt.Errorf("export job %s: %w", job.ID, cause)
}

func (s *ExportService) finishCancelled(ctx context.Context, job *Job, cause error) error {
	_ = job.Cancel()
	s.logger.Info("export job stopped",
		slog.String("job_id", job.ID),
		slog.String("reason", cause.Error()),
	)
	return s.repo.Save(ctx, job)
}

func (s *ExportService) cleanupInputs(job *Job, logger *slog.Logger) {
	if len(job.TempFiles) == 0 {
		return
	}
	if err := s.storage.CleanupTemp(context.Background(), job.TempFiles); err != nil {
		logger.Warn("failed to remove temporary inputs", slog.String("error", err.Error()))
	}
}
