// Package export turns a source asset into a single reframed MPEG-4 file.
// A Configuration describes the output; an Exporter runs one export with it.
package export

import (
	"slices"

	"github.com/maauso/clipforge/internal/geometry"
	"github.com/maauso/clipforge/internal/media"
)

// ProgressFunc receives the fraction of the encode completed, in [0, 1].
type ProgressFunc func(progress float64)

// Configuration is an immutable description of an export. Each With method
// returns a modified copy and leaves the receiver untouched, so a value can
// be shared freely between goroutines.
type Configuration struct {
	aspectRatio geometry.AspectRatio
	rotation    geometry.Rotation
	offset      geometry.Offset
	trim        *media.TimeRange
	metadata    []media.MetadataItem
	progress    ProgressFunc
}

// NewConfiguration returns the default configuration: aspect ratio derived
// from the source, no rotation, centered, untrimmed, no extra metadata.
func NewConfiguration() Configuration {
	return Configuration{}
}

// WithAspectRatio sets the output aspect ratio. An unknown ratio clears the
// setting so the ratio is derived from the source again.
func (c Configuration) WithAspectRatio(a geometry.AspectRatio) Configuration {
	if !a.IsValid() {
		a = ""
	}
	c.aspectRatio = a
	return c
}

// WithRotation sets the rotation applied on top of the source orientation,
// snapped to the nearest quarter turn.
func (c Configuration) WithRotation(r geometry.Rotation) Configuration {
	c.rotation = r.Normalize()
	return c
}

// WithOffset sets the pan offset. Components are clamped to [-1, 1].
func (c Configuration) WithOffset(o geometry.Offset) Configuration {
	c.offset = o.Clamp()
	return c
}

// WithTrimRange restricts the export to r of the source timeline.
func (c Configuration) WithTrimRange(r media.TimeRange) Configuration {
	c.trim = &r
	return c
}

// WithMetadata sets items to append after the source's own metadata.
func (c Configuration) WithMetadata(items []media.MetadataItem) Configuration {
	c.metadata = slices.Clone(items)
	return c
}

// WithProgress sets the progress sink.
func (c Configuration) WithProgress(fn ProgressFunc) Configuration {
	c.progress = fn
	return c
}

// AspectRatio returns the configured aspect ratio and whether one was set.
func (c Configuration) AspectRatio() (geometry.AspectRatio, bool) {
	return c.aspectRatio, c.aspectRatio != ""
}

func (c Configuration) Rotation() geometry.Rotation {
	return c.rotation
}

func (c Configuration) Offset() geometry.Offset {
	return c.offset
}

// TrimRange returns the configured trim and whether one was set.
func (c Configuration) TrimRange() (media.TimeRange, bool) {
	if c.trim == nil {
		return media.TimeRange{}, false
	}
	return *c.trim, true
}

// Metadata returns a copy of the configured metadata items.
func (c Configuration) Metadata() []media.MetadataItem {
	return slices.Clone(c.metadata)
}
