package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/maauso/clipforge/internal/geometry"
)

// Static errors for composition assembly.
var (
	// ErrVideoTrackExists is returned when a second video track is inserted.
	ErrVideoTrackExists = errors.New("composition already has a video track")
	// ErrRangeOutsideSource is returned when the requested range does not overlap the source track.
	ErrRangeOutsideSource = errors.New("requested range lies outside the source track")
	// ErrIncompleteComposition is returned when a composition is missing video, render size or frame duration.
	ErrIncompleteComposition = errors.New("incomplete composition")
)

// CompositionTrack is a segment of a source track placed on the composition timeline.
type CompositionTrack struct {
	// ID is the composition-local track identifier.
	ID int
	// Kind is the media type of the track.
	Kind TrackKind
	// SourceTrackID is the ID of the source track the media comes from.
	SourceTrackID int
	// SourceRange is the portion of the source track that was inserted.
	SourceRange TimeRange
	// At is where SourceRange starts on the composition timeline.
	At time.Duration
	// NaturalSize is the stored frame size of a video source, before orientation.
	NaturalSize geometry.Size
}

// LayerInstruction applies a transform to the video layer over a time range.
type LayerInstruction struct {
	TimeRange TimeRange
	Transform geometry.AffineTransform
}

// Composition is the assembled description of an export: what to read from
// the source and how to render it. It is built fresh for each export and
// handed to the encoder, which owns it from then on.
type Composition struct {
	SourcePath    string
	Video         *CompositionTrack
	Audio         []CompositionTrack
	FrameDuration time.Duration
	RenderSize    geometry.Size
	Instruction   LayerInstruction

	nextID int
}

// NewComposition returns an empty composition reading from sourcePath.
func NewComposition(sourcePath string) *Composition {
	return &Composition{SourcePath: sourcePath, nextID: 1}
}

// InsertVideo places requested media of a source video track at time zero.
// A request that runs past the end of available is clipped; one that does
// not overlap it at all is refused.
func (c *Composition) InsertVideo(sourceTrackID int, naturalSize geometry.Size, available, requested TimeRange) (CompositionTrack, error) {
	if c.Video != nil {
		return CompositionTrack{}, ErrVideoTrackExists
	}
	inserted, err := insertableRange(available, requested)
	if err != nil {
		return CompositionTrack{}, fmt.Errorf("insert video track %d: %w", sourceTrackID, err)
	}
	track := CompositionTrack{
		ID:            c.allocateID(),
		Kind:          TrackKindVideo,
		SourceTrackID: sourceTrackID,
		SourceRange:   inserted,
		NaturalSize:   naturalSize,
	}
	c.Video = &track
	return track, nil
}

// InsertAudio adds a parallel audio track holding requested media of a
// source audio track, clipped to what the source provides.
func (c *Composition) InsertAudio(sourceTrackID int, available, requested TimeRange) (CompositionTrack, error) {
	inserted, err := insertableRange(available, requested)
	if err != nil {
		return CompositionTrack{}, fmt.Errorf("insert audio track %d: %w", sourceTrackID, err)
	}
	track := CompositionTrack{
		ID:            c.allocateID(),
		Kind:          TrackKindAudio,
		SourceTrackID: sourceTrackID,
		SourceRange:   inserted,
	}
	c.Audio = append(c.Audio, track)
	return track, nil
}

// Duration returns the length of the composition timeline.
func (c *Composition) Duration() time.Duration {
	if c.Video == nil {
		return 0
	}
	return c.Video.At + c.Video.SourceRange.Duration
}

// Validate checks that the composition can be rendered.
func (c *Composition) Validate() error {
	switch {
	case c.Video == nil:
		return fmt.Errorf("%w: no video track", ErrIncompleteComposition)
	case !c.RenderSize.IsPositive():
		return fmt.Errorf("%w: render size %s", ErrIncompleteComposition, c.RenderSize)
	case c.FrameDuration <= 0:
		return fmt.Errorf("%w: frame duration %s", ErrIncompleteComposition, c.FrameDuration)
	case !c.Video.NaturalSize.IsPositive():
		return fmt.Errorf("%w: video natural size %s", ErrIncompleteComposition, c.Video.NaturalSize)
	}
	return nil
}

func (c *Composition) allocateID() int {
	id := c.nextID
	c.nextID++
	return id
}

func insertableRange(available, requested TimeRange) (TimeRange, error) {
	if err := requested.Validate(); err != nil {
		return TimeRange{}, err
	}
	if requested.IsEmpty() {
		return TimeRange{}, fmt.Errorf("%w: empty request %s", ErrRangeOutsideSource, requested)
	}
	inserted := available.Intersect(requested)
	if inserted.IsEmpty() {
		return TimeRange{}, fmt.Errorf("%w: requested %s, source %s", ErrRangeOutsideSource, requested, available)
	}
	return inserted, nil
}
