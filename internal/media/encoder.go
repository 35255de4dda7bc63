package media

import (
	"context"
	"errors"
)

// Static errors for encode session setup.
var (
	// ErrOutputPathRequired is returned when a session is created without an output path.
	ErrOutputPathRequired = errors.New("output path is required")
	// ErrUnsupportedFileType is returned for container types the encoder cannot write.
	ErrUnsupportedFileType = errors.New("unsupported output file type")
	// ErrUnsupportedPreset is returned for unknown encode presets.
	ErrUnsupportedPreset = errors.New("unsupported encode preset")
	// ErrSessionAlreadyRun is returned when Run is called more than once on a session.
	ErrSessionAlreadyRun = errors.New("encode session already run")
)

// Preset names a fixed set of encoder quality settings.
type Preset string

const (
	// PresetHighestQuality favours quality over speed and file size.
	PresetHighestQuality Preset = "highest_quality"
)

// FileType is the output container format.
type FileType string

const (
	// FileTypeMP4 is an MPEG-4 container.
	FileTypeMP4 FileType = "mp4"
)

// Extension returns the filename extension for the container, dot included.
func (f FileType) Extension() string {
	return "." + string(f)
}

// SessionOptions configures a single encode run.
type SessionOptions struct {
	// OutputPath is where the encoded file is written.
	OutputPath string
	// FileType is the output container.
	FileType FileType
	// Preset selects the encoder quality settings.
	Preset Preset
	// TimeRange, when set, limits the output to that span of the source.
	TimeRange *TimeRange
	// Metadata is written to the output container in order; later keys win.
	Metadata []MetadataItem
}

// Encoder creates encode sessions for assembled compositions.
type Encoder interface {
	// NewSession validates the composition and options and prepares an
	// encode. It does not start any work.
	NewSession(c *Composition, opts SessionOptions) (Session, error)
}

// Session is a single asynchronous encode.
type Session interface {
	// Run performs the encode and blocks until it finishes. Cancelling ctx
	// stops the encoder; the partial output is left in place.
	Run(ctx context.Context) error
	// Progress returns the fraction completed in [0, 1]. Safe to call
	// concurrently with Run.
	Progress() float64
}
