// Package media provides the decode and encode collaborators used by an
// export: probed source assets and their tracks, the in-memory composition
// handed to the encoder, and an ffmpeg-backed encoder.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/clipforge/internal/geometry"
)

// Static errors for media operations.
var (
	// ErrInvalidTimeRange is returned when a time range has a negative start or duration.
	ErrInvalidTimeRange = errors.New("invalid time range: start and duration must be non-negative")
	// ErrTrackUnreadable is returned when a track property cannot be decoded.
	ErrTrackUnreadable = errors.New("track unreadable")
	// ErrPropertyUnavailable is returned when a track does not report an optional property.
	ErrPropertyUnavailable = errors.New("track property unavailable")
	// ErrFFprobeExecution is returned when ffprobe fails to inspect a file.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrEmptyPath is returned when an asset is opened without a path.
	ErrEmptyPath = errors.New("empty media path")
)

// TrackKind distinguishes video and audio tracks.
type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

// TimeRange is a half-open interval [Start, Start+Duration) on a media timeline.
type TimeRange struct {
	Start    time.Duration
	Duration time.Duration
}

// End returns the exclusive end of the range.
func (r TimeRange) End() time.Duration {
	return r.Start + r.Duration
}

// IsEmpty reports whether the range covers no time.
func (r TimeRange) IsEmpty() bool {
	return r.Duration <= 0
}

// Validate returns ErrInvalidTimeRange if either component is negative.
func (r TimeRange) Validate() error {
	if r.Start < 0 || r.Duration < 0 {
		return fmt.Errorf("%w: start=%s, duration=%s", ErrInvalidTimeRange, r.Start, r.Duration)
	}
	return nil
}

// Intersect returns the overlap of r and other. The result is empty when
// they do not overlap.
func (r TimeRange) Intersect(other TimeRange) TimeRange {
	start := max(r.Start, other.Start)
	end := min(r.End(), other.End())
	if end <= start {
		return TimeRange{Start: start}
	}
	return TimeRange{Start: start, Duration: end - start}
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End())
}

// MetadataItem is a container-level key/value tag.
type MetadataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Track is a single stream of a source asset. Every loader may block on the
// decode subsystem and is safe to call concurrently.
type Track interface {
	// ID identifies the track within its asset.
	ID() int
	// Kind reports whether this is a video or audio track.
	Kind() TrackKind
	// TimeRange returns the track's span on the asset timeline.
	TimeRange(ctx context.Context) (TimeRange, error)
	// NaturalSize returns the decoded frame size before any orientation transform.
	NaturalSize(ctx context.Context) (geometry.Size, error)
	// NominalFrameRate returns the declared frame rate, or 0 when unknown.
	NominalFrameRate(ctx context.Context) (float64, error)
	// MinFrameDuration returns the shortest frame duration, or 0 when unknown.
	MinFrameDuration(ctx context.Context) (time.Duration, error)
	// PreferredTransform returns the embedded display-orientation transform.
	PreferredTransform(ctx context.Context) (geometry.AffineTransform, error)
	// IsEnabled reports whether the track is meant to be played.
	IsEnabled(ctx context.Context) (bool, error)
}

// Asset is a decodable source file.
type Asset interface {
	// Path returns the location of the source file.
	Path() string
	// VideoTracks returns the asset's video tracks in stream order.
	VideoTracks(ctx context.Context) ([]Track, error)
	// AudioTracks returns the asset's audio tracks in stream order.
	AudioTracks(ctx context.Context) ([]Track, error)
	// Metadata returns the asset's container-level tags.
	Metadata(ctx context.Context) ([]MetadataItem, error)
}
