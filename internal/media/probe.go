package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maauso/clipforge/internal/geometry"
)

// probeResult mirrors the subset of `ffprobe -show_format -show_streams -of json` we use.
type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	StartTime    string            `json:"start_time"`
	Duration     string            `json:"duration"`
	Disposition  map[string]int    `json:"disposition"`
	Tags         map[string]string `json:"tags"`
	SideDataList []probeSideData   `json:"side_data_list"`
}

type probeSideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

type probeFormat struct {
	Filename  string            `json:"filename"`
	StartTime string            `json:"start_time"`
	Duration  string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
}

// ProbeAsset is an Asset backed by ffprobe. The file is inspected once, on
// first use, and the parsed result is shared by all of its tracks.
type ProbeAsset struct {
	path        string
	ffprobePath string
	run         func(ctx context.Context, path string) ([]byte, error)

	mu     sync.Mutex
	result *probeResult
}

// ProbeOption configures a ProbeAsset.
type ProbeOption func(*ProbeAsset)

// WithFFprobePath sets the ffprobe binary. Defaults to "ffprobe" (found via PATH).
func WithFFprobePath(path string) ProbeOption {
	return func(a *ProbeAsset) {
		if path != "" {
			a.ffprobePath = path
		}
	}
}

// OpenProbeAsset returns a lazily probed asset for path.
func OpenProbeAsset(path string, opts ...ProbeOption) (*ProbeAsset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}
	a := &ProbeAsset{path: path, ffprobePath: "ffprobe"}
	for _, opt := range opts {
		opt(a)
	}
	if a.run == nil {
		a.run = a.runFFprobe
	}
	return a, nil
}

// Path returns the source file path.
func (a *ProbeAsset) Path() string {
	return a.path
}

// VideoTracks returns the probed video streams, skipping cover art.
func (a *ProbeAsset) VideoTracks(ctx context.Context) ([]Track, error) {
	return a.tracks(ctx, TrackKindVideo)
}

// AudioTracks returns the probed audio streams.
func (a *ProbeAsset) AudioTracks(ctx context.Context) ([]Track, error) {
	return a.tracks(ctx, TrackKindAudio)
}

// Metadata returns the container tags sorted by key.
func (a *ProbeAsset) Metadata(ctx context.Context) ([]MetadataItem, error) {
	res, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(res.Format.Tags))
	for k := range res.Format.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]MetadataItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, MetadataItem{Key: k, Value: res.Format.Tags[k]})
	}
	return items, nil
}

func (a *ProbeAsset) tracks(ctx context.Context, kind TrackKind) ([]Track, error) {
	res, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	var tracks []Track
	for i := range res.Streams {
		stream := &res.Streams[i]
		if !strings.EqualFold(stream.CodecType, string(kind)) {
			continue
		}
		if kind == TrackKindVideo && stream.Disposition["attached_pic"] == 1 {
			continue
		}
		tracks = append(tracks, &probeTrack{
			stream:         stream,
			kind:           kind,
			formatStart:    formatStart(res.Format.StartTime),
			formatDuration: res.Format.Duration,
		})
	}
	return tracks, nil
}

func (a *ProbeAsset) load(ctx context.Context) (*probeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result != nil {
		return a.result, nil
	}

	output, err := a.run(ctx, a.path)
	if err != nil {
		return nil, err
	}
	var res probeResult
	if err := json.Unmarshal(output, &res); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}
	a.result = &res
	return a.result, nil
}

func (a *ProbeAsset) runFFprobe(ctx context.Context, path string) ([]byte, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, a.ffprobePath,
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-show_streams",
		"-of", "json",
		"--", path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// probeTrack exposes one ffprobe stream through the Track interface.
type probeTrack struct {
	stream         *probeStream
	kind           TrackKind
	formatStart    float64
	formatDuration string
}

var _ Track = (*probeTrack)(nil)

func (t *probeTrack) ID() int {
	return t.stream.Index
}

func (t *probeTrack) Kind() TrackKind {
	return t.kind
}

// TimeRange is measured on the asset timeline: zero is the container's
// start_time, which is also where ffmpeg's input -ss counts from. MPEG-TS
// and edit-listed sources often start well above zero.
func (t *probeTrack) TimeRange(ctx context.Context) (TimeRange, error) {
	if err := ctx.Err(); err != nil {
		return TimeRange{}, err
	}
	start := t.formatStart
	if s := strings.TrimSpace(t.stream.StartTime); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) {
			return TimeRange{}, fmt.Errorf("%w: stream %d start_time %q", ErrTrackUnreadable, t.stream.Index, s)
		}
		start = v
	}
	offset := math.Max(0, start-t.formatStart)

	raw := strings.TrimSpace(t.stream.Duration)
	fromFormat := raw == ""
	if fromFormat {
		raw = strings.TrimSpace(t.formatDuration)
	}
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil || duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return TimeRange{}, fmt.Errorf("%w: stream %d duration %q", ErrTrackUnreadable, t.stream.Index, raw)
	}
	if fromFormat {
		// The container duration spans from its own start.
		duration -= offset
		if duration <= 0 {
			return TimeRange{}, fmt.Errorf("%w: stream %d starts after the container ends", ErrTrackUnreadable, t.stream.Index)
		}
	}
	return TimeRange{Start: seconds(offset), Duration: seconds(duration)}, nil
}

// formatStart parses the container start_time. Missing or bogus values put
// the origin at zero.
func formatStart(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (t *probeTrack) NaturalSize(ctx context.Context) (geometry.Size, error) {
	if err := ctx.Err(); err != nil {
		return geometry.Size{}, err
	}
	if t.kind != TrackKindVideo {
		return geometry.Size{}, fmt.Errorf("%w: natural size of %s stream %d", ErrPropertyUnavailable, t.kind, t.stream.Index)
	}
	if t.stream.Width <= 0 || t.stream.Height <= 0 {
		return geometry.Size{}, fmt.Errorf("%w: stream %d has no frame size", ErrTrackUnreadable, t.stream.Index)
	}
	return geometry.Size{Width: float64(t.stream.Width), Height: float64(t.stream.Height)}, nil
}

func (t *probeTrack) NominalFrameRate(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return parseRational(t.stream.AvgFrameRate), nil
}

func (t *probeTrack) MinFrameDuration(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rate := parseRational(t.stream.RFrameRate)
	if rate <= 0 {
		return 0, nil
	}
	return time.Duration(float64(time.Second) / rate), nil
}

func (t *probeTrack) PreferredTransform(ctx context.Context) (geometry.AffineTransform, error) {
	if err := ctx.Err(); err != nil {
		return geometry.Identity, err
	}
	if t.kind != TrackKindVideo {
		return geometry.Identity, nil
	}
	rotation, err := geometry.RotationFromDegrees(t.clockwiseRotation())
	if err != nil {
		return geometry.Identity, fmt.Errorf("%w: stream %d: %w", ErrTrackUnreadable, t.stream.Index, err)
	}
	size := geometry.Size{Width: float64(t.stream.Width), Height: float64(t.stream.Height)}
	return orientationTransform(rotation, size), nil
}

func (t *probeTrack) IsEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if strings.TrimSpace(t.stream.CodecName) == "" {
		return false, fmt.Errorf("%w: stream %d has no decodable codec", ErrTrackUnreadable, t.stream.Index)
	}
	return t.stream.Disposition["attached_pic"] != 1, nil
}

// clockwiseRotation returns how far the stored frames must be turned
// clockwise for display. The display matrix side data reports the inverse
// angle; the legacy rotate tag reports it directly.
func (t *probeTrack) clockwiseRotation() int {
	for _, sd := range t.stream.SideDataList {
		if strings.EqualFold(sd.SideDataType, "Display Matrix") {
			return int(math.Round(-sd.Rotation))
		}
	}
	if v, ok := t.stream.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return deg
		}
	}
	return 0
}

// orientationTransform rotates a frame of the given size and shifts it back
// into the positive quadrant, producing display-oriented coordinates.
func orientationTransform(rotation geometry.Rotation, size geometry.Size) geometry.AffineTransform {
	if rotation == geometry.Rotation0 {
		return geometry.Identity
	}
	rotated := geometry.RotationTransform(rotation)
	box := rotated.BoundingBox(size)
	return rotated.Translated(-box.X, -box.Y)
}

// parseRational parses ffprobe rates such as "30000/1001" or "25". Unknown
// or degenerate values yield 0.
func parseRational(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	r := n / d
	if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}
