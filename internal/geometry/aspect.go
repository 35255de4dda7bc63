package geometry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAspectRatio is returned when parsing an unsupported aspect ratio name.
var ErrUnknownAspectRatio = errors.New("unknown aspect ratio")

// AspectRatio is the shape class of an export canvas.
type AspectRatio string

const (
	// AspectPortrait is 9:16.
	AspectPortrait AspectRatio = "portrait"
	// AspectLandscape is 16:9.
	AspectLandscape AspectRatio = "landscape"
	// AspectSquare is 1:1.
	AspectSquare AspectRatio = "square"
)

// ParseAspectRatio converts a name such as "portrait" or "9:16" into an AspectRatio.
func ParseAspectRatio(s string) (AspectRatio, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "portrait", "9:16":
		return AspectPortrait, nil
	case "landscape", "16:9":
		return AspectLandscape, nil
	case "square", "1:1":
		return AspectSquare, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAspectRatio, s)
	}
}

// AspectRatioFrom classifies a size: wider than tall is landscape,
// taller than wide is portrait, otherwise square.
func AspectRatioFrom(size Size) AspectRatio {
	switch {
	case size.Width > size.Height:
		return AspectLandscape
	case size.Height > size.Width:
		return AspectPortrait
	default:
		return AspectSquare
	}
}

// IsValid reports whether a is one of the known aspect ratios.
func (a AspectRatio) IsValid() bool {
	return a == AspectPortrait || a == AspectLandscape || a == AspectSquare
}

// Ratio returns width divided by height.
func (a AspectRatio) Ratio() float64 {
	switch a {
	case AspectPortrait:
		return 9.0 / 16.0
	case AspectLandscape:
		return 16.0 / 9.0
	default:
		return 1
	}
}

// Rotate returns the aspect class after turning the frame by r.
// Quarter turns swap portrait and landscape; square is unaffected.
func (a AspectRatio) Rotate(r Rotation) AspectRatio {
	if !r.IsQuarterTurn() {
		return a
	}
	switch a {
	case AspectPortrait:
		return AspectLandscape
	case AspectLandscape:
		return AspectPortrait
	default:
		return a
	}
}
