package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/clipforge/internal/geometry"
	"github.com/maauso/clipforge/internal/media"
)

const (
	// DefaultProgressInterval is how often encoder progress is sampled.
	DefaultProgressInterval = 100 * time.Millisecond
	// DefaultFrameDuration is used when the source reports no usable frame rate.
	DefaultFrameDuration = time.Second / 30
)

// OutputAllocator hands out fresh output file paths.
type OutputAllocator interface {
	// AllocateOutput returns a unique path ending in ext. Any stale file
	// at that path is removed first, best effort.
	AllocateOutput(ext string) (string, error)
}

// Result describes a finished export.
type Result struct {
	OutputPath string
	// AudioTracks is the number of audio tracks written.
	AudioTracks int
	// SkippedAudioTracks lists source audio tracks left out because they could not be read.
	SkippedAudioTracks []int
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithProgressInterval sets how often progress is sampled while encoding.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.progressInterval = d
		}
	}
}

// Exporter runs exactly one export. Create a new Exporter per export.
type Exporter struct {
	encoder          media.Encoder
	outputs          OutputAllocator
	config           Configuration
	logger           *slog.Logger
	progressInterval time.Duration

	mu    sync.Mutex
	state State
}

// New creates an Exporter. The configuration is captured by value.
func New(encoder media.Encoder, outputs OutputAllocator, cfg Configuration, logger *slog.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{
		encoder:          encoder,
		outputs:          outputs,
		config:           cfg,
		logger:           logger,
		progressInterval: DefaultProgressInterval,
		state:            StateConfiguring,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Exporter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Exporter) transition(to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !canTransition(e.state, to) {
		e.logger.Error("invalid exporter state transition",
			slog.String("from", string(e.state)),
			slog.String("to", string(to)),
		)
		return
	}
	e.state = to
}

// Export writes asset to a new MPEG-4 file according to the configuration.
// Errors are *Error values whose kind matches one of ErrFailedToCreateComposition,
// ErrFailedToCreateExportSession, ErrExportFailed or ErrInvalidAsset. On
// ErrExportFailed the result still names the output path, which may hold a
// partial file that the caller should remove.
func (e *Exporter) Export(ctx context.Context, asset media.Asset) (Result, error) {
	e.mu.Lock()
	if e.state != StateConfiguring {
		e.mu.Unlock()
		return Result{}, ErrAlreadyStarted
	}
	e.state = StatePreparing
	e.mu.Unlock()

	result, err := e.export(ctx, asset)
	if err != nil {
		e.transition(StateFailed)
		e.logger.Error("export failed",
			slog.String("kind", KindOf(err)),
			slog.String("error", err.Error()),
		)
		return result, err
	}
	e.transition(StateCompleted)
	return result, nil
}

// videoProperties are the primary video track's properties, loaded together.
type videoProperties struct {
	timeRange        media.TimeRange
	naturalSize      geometry.Size
	nominalFrameRate float64
	minFrameDuration time.Duration
	preferred        geometry.AffineTransform
}

func (e *Exporter) export(ctx context.Context, asset media.Asset) (Result, error) {
	if asset == nil {
		return Result{}, newError(ErrInvalidAsset, errors.New("nil asset"))
	}
	logger := e.logger.With(slog.String("source", asset.Path()))

	outputPath, err := e.outputs.AllocateOutput(media.FileTypeMP4.Extension())
	if err != nil {
		return Result{}, newError(ErrFailedToCreateExportSession, fmt.Errorf("allocate output: %w", err))
	}
	logger = logger.With(slog.String("output", outputPath))

	videoTracks, err := asset.VideoTracks(ctx)
	if err != nil {
		return Result{}, newError(ErrInvalidAsset, err)
	}
	if len(videoTracks) == 0 {
		return Result{}, newError(ErrFailedToCreateComposition, errors.New("asset has no video track"))
	}
	video := videoTracks[0]

	props, err := loadVideoProperties(ctx, video)
	if err != nil {
		return Result{}, newError(ErrInvalidAsset, err)
	}
	displaySize := props.preferred.ApplyToSize(props.naturalSize).Abs()

	e.transition(StateComposing)

	composition := media.NewComposition(asset.Path())
	composition.FrameDuration = frameDuration(props.nominalFrameRate, props.minFrameDuration)

	effective := props.timeRange
	trim, trimmed := e.config.TrimRange()
	if trimmed {
		effective = trim
	}
	videoTrack, err := composition.InsertVideo(video.ID(), props.naturalSize, props.timeRange, effective)
	if err != nil {
		return Result{}, newError(ErrFailedToCreateComposition, err)
	}

	aspect, ok := e.config.AspectRatio()
	if !ok {
		aspect = geometry.AspectRatioFrom(displaySize)
	}
	composition.RenderSize = geometry.RenderSize(displaySize, aspect).Even()

	computed := geometry.ComputeTransform(displaySize, composition.RenderSize, e.config.Rotation(), e.config.Offset())
	composition.Instruction = media.LayerInstruction{
		TimeRange: media.TimeRange{Duration: composition.Duration()},
		Transform: props.preferred.Concat(computed),
	}

	skipped := e.insertAudio(ctx, logger, asset, composition, videoTrack.SourceRange)

	logger.Info("composition ready",
		slog.String("aspect_ratio", string(aspect)),
		slog.String("render_size", composition.RenderSize.String()),
		slog.String("rotation", e.config.Rotation().String()),
		slog.Duration("frame_duration", composition.FrameDuration),
		slog.Duration("duration", composition.Duration()),
		slog.Int("audio_tracks", len(composition.Audio)),
		slog.Int("skipped_audio_tracks", len(skipped)),
	)

	opts := media.SessionOptions{
		OutputPath: outputPath,
		FileType:   media.FileTypeMP4,
		Preset:     media.PresetHighestQuality,
		Metadata:   e.mergeMetadata(ctx, logger, asset),
	}
	if trimmed {
		window := videoTrack.SourceRange
		opts.TimeRange = &window
	}
	session, err := e.encoder.NewSession(composition, opts)
	if err != nil {
		return Result{}, newError(ErrFailedToCreateExportSession, err)
	}

	e.transition(StateEncoding)
	logger.Info("encoding started")
	start := time.Now()

	if err := e.encode(ctx, session); err != nil {
		// The caller owns whatever partial file the encoder left behind.
		return Result{OutputPath: outputPath}, newError(ErrExportFailed, err)
	}

	logger.Info("encoding completed", slog.Duration("elapsed", time.Since(start)))
	return Result{
		OutputPath:         outputPath,
		AudioTracks:        len(composition.Audio),
		SkippedAudioTracks: skipped,
	}, nil
}

// loadVideoProperties issues the property loads concurrently and joins them.
func loadVideoProperties(ctx context.Context, track media.Track) (videoProperties, error) {
	var props videoProperties
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r, err := track.TimeRange(gctx)
		if err != nil {
			return fmt.Errorf("load time range: %w", err)
		}
		props.timeRange = r
		return nil
	})
	g.Go(func() error {
		s, err := track.NaturalSize(gctx)
		if err != nil {
			return fmt.Errorf("load natural size: %w", err)
		}
		props.naturalSize = s
		return nil
	})
	g.Go(func() error {
		rate, err := track.NominalFrameRate(gctx)
		if err != nil {
			return fmt.Errorf("load nominal frame rate: %w", err)
		}
		props.nominalFrameRate = rate
		return nil
	})
	g.Go(func() error {
		d, err := track.MinFrameDuration(gctx)
		if err != nil {
			return fmt.Errorf("load min frame duration: %w", err)
		}
		props.minFrameDuration = d
		return nil
	})
	g.Go(func() error {
		t, err := track.PreferredTransform(gctx)
		if err != nil {
			return fmt.Errorf("load preferred transform: %w", err)
		}
		props.preferred = t
		return nil
	})

	if err := g.Wait(); err != nil {
		return videoProperties{}, err
	}
	return props, nil
}

// frameDuration prefers the nominal rate, then the minimum frame duration,
// then 30 fps.
func frameDuration(nominalRate float64, minFrameDuration time.Duration) time.Duration {
	if nominalRate > 0 && !math.IsInf(nominalRate, 0) && !math.IsNaN(nominalRate) {
		if d := time.Duration(math.Round(float64(time.Second) / nominalRate)); d > 0 {
			return d
		}
	}
	if minFrameDuration > 0 {
		return minFrameDuration
	}
	return DefaultFrameDuration
}

type audioCandidate struct {
	track     media.Track
	timeRange media.TimeRange
	enabled   bool
	err       error
}

// insertAudio adds every readable, enabled source audio track over its
// overlap with window. Tracks that fail are logged and skipped; their
// source IDs are returned.
func (e *Exporter) insertAudio(ctx context.Context, logger *slog.Logger, asset media.Asset, c *media.Composition, window media.TimeRange) []int {
	tracks, err := asset.AudioTracks(ctx)
	if err != nil {
		logger.Warn("audio tracks unavailable, exporting video only", slog.String("error", err.Error()))
		return nil
	}

	candidates := make([]audioCandidate, len(tracks))
	var g errgroup.Group
	for i, track := range tracks {
		g.Go(func() error {
			candidates[i] = loadAudioCandidate(ctx, track)
			return nil
		})
	}
	_ = g.Wait()

	var skipped []int
	for _, cand := range candidates {
		id := cand.track.ID()
		if cand.err == nil && !cand.enabled {
			logger.Debug("skipping disabled audio track", slog.Int("track_id", id))
			continue
		}
		if cand.err == nil {
			_, cand.err = c.InsertAudio(id, cand.timeRange, window)
		}
		if cand.err != nil {
			logger.Warn("skipping audio track",
				slog.Int("track_id", id),
				slog.String("error", cand.err.Error()),
			)
			skipped = append(skipped, id)
		}
	}
	return skipped
}

func loadAudioCandidate(ctx context.Context, track media.Track) audioCandidate {
	cand := audioCandidate{track: track}
	enabled, err := track.IsEnabled(ctx)
	if err != nil {
		cand.err = fmt.Errorf("load enabled flag: %w", err)
		return cand
	}
	cand.enabled = enabled
	if !enabled {
		return cand
	}
	r, err := track.TimeRange(ctx)
	if err != nil {
		cand.err = fmt.Errorf("load time range: %w", err)
		return cand
	}
	cand.timeRange = r
	return cand
}

// mergeMetadata returns the source items followed by the configured ones.
func (e *Exporter) mergeMetadata(ctx context.Context, logger *slog.Logger, asset media.Asset) []media.MetadataItem {
	configured := e.config.Metadata()
	source, err := asset.Metadata(ctx)
	if err != nil {
		logger.Warn("source metadata unavailable", slog.String("error", err.Error()))
		return configured
	}
	merged := make([]media.MetadataItem, 0, len(source)+len(configured))
	merged = append(merged, source...)
	return append(merged, configured...)
}

// encode runs the session while an observer forwards its progress. The
// observer is stopped and joined before encode returns; the closing 1.0 is
// sent afterwards, on success only.
func (e *Exporter) encode(ctx context.Context, session media.Session) error {
	sink := e.config.progress
	if sink == nil {
		return session.Run(ctx)
	}

	observeCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.observe(observeCtx, session, sink)
	}()

	err := session.Run(ctx)
	stop()
	<-done
	if err != nil {
		return err
	}
	sink(1.0)
	return nil
}

// observe samples session progress until ctx is cancelled. Values are
// forwarded only when they increase, and 1.0 is left to encode.
func (e *Exporter) observe(ctx context.Context, session media.Session, sink ProgressFunc) {
	ticker := time.NewTicker(e.progressInterval)
	defer ticker.Stop()

	last := -1.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := session.Progress()
			if math.IsNaN(p) || p <= last || p >= 1 {
				continue
			}
			if p < 0 {
				p = 0
			}
			if ctx.Err() != nil {
				return
			}
			last = p
			sink(p)
		}
	}
}
