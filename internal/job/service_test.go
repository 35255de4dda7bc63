package job

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clipforge/internal/geometry"
	"github.com/maauso/clipforge/internal/media"
	"github.com/maauso/clipforge/internal/storage"
)

// fakeTrack reports fixed properties.
type fakeTrack struct {
	id   int
	kind media.TrackKind
}

func (f *fakeTrack) ID() int               { return f.id }
func (f *fakeTrack) Kind() media.TrackKind { return f.kind }

func (f *fakeTrack) TimeRange(context.Context) (media.TimeRange, error) {
	return media.TimeRange{Duration: 10 * time.Second}, nil
}

func (f *fakeTrack) NaturalSize(context.Context) (geometry.Size, error) {
	return geometry.Size{Width: 1920, Height: 1080}, nil
}

func (f *fakeTrack) NominalFrameRate(context.Context) (float64, error) { return 30, nil }

func (f *fakeTrack) MinFrameDuration(context.Context) (time.Duration, error) { return 0, nil }

func (f *fakeTrack) PreferredTransform(context.Context) (geometry.AffineTransform, error) {
	return geometry.Identity, nil
}

func (f *fakeTrack) IsEnabled(context.Context) (bool, error) { return true, nil }

// fakeAsset has one video track (unless noVideo) and one audio track.
type fakeAsset struct {
	path    string
	noVideo bool
}

func (f *fakeAsset) Path() string { return f.path }

func (f *fakeAsset) VideoTracks(context.Context) ([]media.Track, error) {
	if f.noVideo {
		return nil, nil
	}
	return []media.Track{&fakeTrack{id: 0, kind: media.TrackKindVideo}}, nil
}

func (f *fakeAsset) AudioTracks(context.Context) ([]media.Track, error) {
	return []media.Track{&fakeTrack{id: 1, kind: media.TrackKindAudio}}, nil
}

func (f *fakeAsset) Metadata(context.Context) ([]media.MetadataItem, error) {
	return []media.MetadataItem{{Key: "title", Value: "source"}}, nil
}

// fakeSession writes the output file, or blocks until released or cancelled.
type fakeSession struct {
	enc  *fakeEncoder
	path string
}

func (s *fakeSession) Run(ctx context.Context) error {
	n := s.enc.active.Add(1)
	defer s.enc.active.Add(-1)
	for {
		peak := s.enc.peak.Load()
		if n <= peak || s.enc.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if s.enc.block != nil {
		select {
		case <-ctx.Done():
			_ = os.WriteFile(s.path, []byte("partial"), 0o600)
			return ctx.Err()
		case <-s.enc.block:
		}
	}
	if s.enc.runErr != nil {
		return s.enc.runErr
	}
	return os.WriteFile(s.path, []byte("mp4"), 0o600)
}

func (s *fakeSession) Progress() float64 { return 0.5 }

type fakeEncoder struct {
	block  chan struct{}
	runErr error

	mu           sync.Mutex
	compositions []*media.Composition
	options      []media.SessionOptions

	active atomic.Int32
	peak   atomic.Int32
}

func (e *fakeEncoder) NewSession(c *media.Composition, opts media.SessionOptions) (media.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compositions = append(e.compositions, c)
	e.options = append(e.options, opts)
	return &fakeSession{enc: e, path: opts.OutputPath}, nil
}

func (e *fakeEncoder) sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.compositions)
}

type serviceFixture struct {
	svc       *ExportService
	repo      *MemoryRepository
	enc       *fakeEncoder
	store     *storage.LocalStorage
	assets    map[string]*fakeAsset
	sourceDir string
}

func newServiceFixture(t *testing.T, enc *fakeEncoder, opts ...ServiceOption) *serviceFixture {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(root, "tmp"), filepath.Join(root, "out"))
	require.NoError(t, err)

	sourceDir := filepath.Join(root, "sources")
	require.NoError(t, os.MkdirAll(sourceDir, 0o750))

	f := &serviceFixture{
		repo:      NewMemoryRepository(),
		enc:       enc,
		store:     store,
		assets:    make(map[string]*fakeAsset),
		sourceDir: sourceDir,
	}
	open := func(path string) (media.Asset, error) {
		if a, ok := f.assets[filepath.Base(path)]; ok {
			return a, nil
		}
		return &fakeAsset{path: path}, nil
	}
	f.svc = NewExportService(f.repo, enc, store, open, slog.Default(), opts...)
	return f
}

func (f *serviceFixture) source(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.sourceDir, name)
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o600))
	return path
}

func TestNewExportService_Defaults(t *testing.T) {
	svc := NewExportService(NewMemoryRepository(), &fakeEncoder{}, nil, nil, nil)
	assert.Equal(t, 2, svc.maxConcurrent)
	assert.Equal(t, 100*time.Millisecond, svc.progressInterval)
	assert.Zero(t, svc.timeout)
	assert.NotNil(t, svc.logger)

	svc = NewExportService(NewMemoryRepository(), &fakeEncoder{}, nil, nil, nil,
		WithMaxConcurrentExports(0), WithProgressInterval(-1), WithExportTimeout(time.Minute))
	assert.Equal(t, 2, svc.maxConcurrent, "invalid values are ignored")
	assert.Equal(t, 100*time.Millisecond, svc.progressInterval)
	assert.Equal(t, time.Minute, svc.timeout)
}

func TestExportService_CreateJob_Validation(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{}, WithSourceRoot(""))
	valid := f.source(t, "in.mov")
	outside := filepath.Join(t.TempDir(), "elsewhere.mov")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	tests := []struct {
		name  string
		input CreateJobInput
	}{
		{"no source", CreateJobInput{}},
		{"both sources", CreateJobInput{SourcePath: valid, SourceBase64: "AAAA"}},
		{"missing file", CreateJobInput{SourcePath: filepath.Join(f.sourceDir, "nope.mov")}},
		{"directory", CreateJobInput{SourcePath: f.sourceDir}},
		{"bad aspect", CreateJobInput{SourcePath: valid, AspectRatio: "4:3"}},
		{"bad rotation", CreateJobInput{SourcePath: valid, Rotation: 45}},
		{"offset out of range", CreateJobInput{SourcePath: valid, OffsetX: 1.5}},
		{"negative trim", CreateJobInput{SourcePath: valid, TrimStart: -time.Second, TrimDuration: time.Second}},
		{"bad metadata key", CreateJobInput{SourcePath: valid, Metadata: []media.MetadataItem{{Key: "a=b"}}}},
		{"bad base64", CreateJobInput{SourceBase64: "%%%"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateJob(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	t.Run("source outside root", func(t *testing.T) {
		restricted := newServiceFixture(t, &fakeEncoder{})
		restricted.svc.sourceRoot = restricted.sourceDir
		_, err := restricted.svc.CreateJob(context.Background(), CreateJobInput{SourcePath: outside})
		assert.ErrorIs(t, err, ErrInvalidInput)

		inside := restricted.source(t, "ok.mov")
		_, err = restricted.svc.CreateJob(context.Background(), CreateJobInput{SourcePath: inside})
		assert.NoError(t, err)
	})

	jobs, err := f.repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs, "invalid requests must not create jobs")
}

func TestExportService_CreateJob(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, CreateJobInput{
		SourcePath:   f.source(t, "in.mov"),
		AspectRatio:  " Portrait ",
		Rotation:     -90,
		OffsetX:      0.5,
		TrimStart:    time.Second,
		TrimDuration: 2 * time.Second,
		PushToS3:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusInQueue, job.Status)
	assert.Equal(t, "portrait", job.Request.AspectRatio)
	assert.True(t, job.PushToS3)
	assert.Empty(t, job.TempFiles)

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.Request, stored.Request)
}

func TestExportService_CreateJob_Base64Source(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})

	job, err := f.svc.CreateJob(context.Background(), CreateJobInput{
		SourceBase64: base64.StdEncoding.EncodeToString([]byte("fake video bytes")),
	})
	require.NoError(t, err)

	require.Len(t, job.TempFiles, 1)
	assert.Equal(t, job.TempFiles[0], job.Request.SourcePath)
	assert.Equal(t, f.store.TempDir(), filepath.Dir(job.Request.SourcePath))
	data, err := os.ReadFile(job.Request.SourcePath)
	require.NoError(t, err)
	assert.Equal(t, "fake video bytes", string(data))
}

func TestExportService_GetJob_NotFound(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	_, err := f.svc.GetJob(context.Background(), "exp-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestExportService_ProcessExistingJob_Success(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, CreateJobInput{
		SourceBase64: base64.StdEncoding.EncodeToString([]byte("video")),
		AspectRatio:  "square",
		Rotation:     180,
		TrimStart:    2 * time.Second,
		TrimDuration: 5 * time.Second,
		Metadata:     []media.MetadataItem{{Key: "comment", Value: "api"}},
	})
	require.NoError(t, err)
	upload := job.Request.SourcePath

	require.NoError(t, f.svc.ProcessExistingJob(ctx, job.ID))

	done, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Empty(t, done.Error)
	assert.Equal(t, f.store.OutputDir(), filepath.Dir(done.OutputPath))
	assert.FileExists(t, done.OutputPath)
	assert.Empty(t, done.VideoURL)
	assert.False(t, done.StartedAt.IsZero())

	_, statErr := os.Stat(upload)
	assert.True(t, os.IsNotExist(statErr), "uploaded source should be removed")

	require.Equal(t, 1, f.enc.sessions())
	c, opts := f.enc.compositions[0], f.enc.options[0]
	assert.Equal(t, geometry.Size{Width: 1440, Height: 1440}, c.RenderSize)
	assert.Equal(t, media.TimeRange{Start: 2 * time.Second, Duration: 5 * time.Second}, c.Video.SourceRange)
	require.NotNil(t, opts.TimeRange)
	assert.Equal(t, []media.MetadataItem{
		{Key: "title", Value: "source"},
		{Key: "comment", Value: "api"},
	}, opts.Metadata)
}

func TestExportService_ProcessExistingJob_NoVideo(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	ctx := context.Background()
	src := f.source(t, "audio-only.m4a")
	f.assets["audio-only.m4a"] = &fakeAsset{path: src, noVideo: true}

	job, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: src})
	require.NoError(t, err)

	err = f.svc.ProcessExistingJob(ctx, job.ID)
	require.Error(t, err)

	failed, _ := f.svc.GetJob(ctx, job.ID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "FAILED_TO_CREATE_COMPOSITION", failed.ErrorKind)
	assert.Empty(t, failed.OutputPath)
	assert.Zero(t, f.enc.sessions())
}

func TestExportService_ProcessExistingJob_EncodeFailure(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{runErr: errors.New("encoder crashed")})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "in.mov")})
	require.NoError(t, err)

	err = f.svc.ProcessExistingJob(ctx, job.ID)
	assert.ErrorContains(t, err, "encoder crashed")

	failed, _ := f.svc.GetJob(ctx, job.ID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "EXPORT_FAILED", failed.ErrorKind)
	assert.Contains(t, failed.Error, "encoder crashed")
}

func TestExportService_ProcessExistingJob_UploadWithoutS3(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "in.mov"), PushToS3: true})
	require.NoError(t, err)

	err = f.svc.ProcessExistingJob(ctx, job.ID)
	assert.ErrorIs(t, err, storage.ErrS3NotConfigured)

	failed, _ := f.svc.GetJob(ctx, job.ID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "UPLOAD_FAILED", failed.ErrorKind)
}

func TestExportService_CancelQueuedJob(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "in.mov")})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	require.NoError(t, f.svc.ProcessExistingJob(ctx, job.ID))
	assert.Zero(t, f.enc.sessions(), "a cancelled job must not be exported")

	_, err = f.svc.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobTerminal)

	_, err = f.svc.Cancel(ctx, "exp-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestExportService_CancelRunningJob(t *testing.T) {
	enc := &fakeEncoder{block: make(chan struct{})}
	f := newServiceFixture(t, enc)
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "in.mov")})
	require.NoError(t, err)

	f.svc.Submit(job.ID)
	require.Eventually(t, func() bool { return enc.active.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancelled, err := f.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	f.svc.Wait()

	final, _ := f.svc.GetJob(ctx, job.ID)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Empty(t, final.OutputPath)

	entries, err := os.ReadDir(f.store.OutputDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "partial output should be removed")
}

func TestExportService_Timeout(t *testing.T) {
	enc := &fakeEncoder{block: make(chan struct{})}
	f := newServiceFixture(t, enc, WithExportTimeout(30*time.Millisecond))
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "in.mov")})
	require.NoError(t, err)

	require.NoError(t, f.svc.ProcessExistingJob(ctx, job.ID))

	final, _ := f.svc.GetJob(ctx, job.ID)
	assert.Equal(t, StatusTimedOut, final.Status)
}

func TestExportService_LimitsConcurrency(t *testing.T) {
	enc := &fakeEncoder{block: make(chan struct{})}
	f := newServiceFixture(t, enc, WithMaxConcurrentExports(1))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "in.mov")})
		require.NoError(t, err)
		ids = append(ids, job.ID)
		f.svc.Submit(job.ID)
	}

	require.Eventually(t, func() bool { return enc.active.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(enc.block)
	f.svc.Wait()

	assert.EqualValues(t, 1, enc.peak.Load())
	for _, jobID := range ids {
		j, _ := f.svc.GetJob(ctx, jobID)
		assert.Equal(t, StatusCompleted, j.Status)
	}
}

func TestExportService_ListJobs(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "in.mov")})
		require.NoError(t, err)
	}

	jobs, err := f.svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestExportService_Recover(t *testing.T) {
	f := newServiceFixture(t, &fakeEncoder{})
	ctx := context.Background()

	queued, err := f.svc.CreateJob(ctx, CreateJobInput{SourcePath: f.source(t, "queued.mov")})
	require.NoError(t, err)

	running := New()
	running.Request.SourcePath = f.source(t, "running.mov")
	require.NoError(t, running.Start())
	require.NoError(t, f.repo.Save(ctx, running))

	done := New()
	require.NoError(t, done.Start())
	require.NoError(t, done.Complete())
	require.NoError(t, f.repo.Save(ctx, done))

	n, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.svc.Wait()

	j, err := f.svc.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)

	j, err = f.svc.GetJob(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.Equal(t, ErrorKindInterrupted, j.ErrorKind)

	j, err = f.svc.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, 1, f.enc.sessions())
}

func TestExportService_WithSQLiteRepository(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(root, "tmp"), filepath.Join(root, "out"))
	require.NoError(t, err)
	repo, err := OpenSQLiteRepository(context.Background(), filepath.Join(root, "jobs.db"))
	require.NoError(t, err)
	defer repo.Close()

	source := filepath.Join(root, "in.mov")
	require.NoError(t, os.WriteFile(source, []byte("video"), 0o600))

	open := func(path string) (media.Asset, error) { return &fakeAsset{path: path}, nil }
	svc := NewExportService(repo, &fakeEncoder{}, store, open, slog.Default(),
		WithProgressInterval(time.Millisecond))

	ctx := context.Background()
	job, err := svc.CreateJob(ctx, CreateJobInput{
		SourcePath: source,
		Metadata:   []media.MetadataItem{{Key: "title", Value: "persisted"}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessExistingJob(ctx, job.ID))

	found, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, found.Status)
	assert.Equal(t, 100, found.Progress)
	assert.FileExists(t, found.OutputPath)
	assert.Equal(t, "persisted", found.Request.Metadata[0].Value)
}
