// Package geometry provides the 2D math used to place a source video frame
// inside an export canvas: sizes, offsets, rotations, aspect ratios and
// affine transforms.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrOffsetOutOfRange is returned when an offset component is outside [-1, 1].
var ErrOffsetOutOfRange = errors.New("offset out of range: components must be within [-1, 1]")

// Point is a position in a 2D coordinate space.
type Point struct {
	X float64
	Y float64
}

// Size is a 2D extent. Width and Height are expected to be positive for
// anything that describes a frame or a canvas.
type Size struct {
	Width  float64
	Height float64
}

// Area returns Width*Height.
func (s Size) Area() float64 {
	return s.Width * s.Height
}

// Abs returns the size with both components made non-negative.
func (s Size) Abs() Size {
	return Size{Width: math.Abs(s.Width), Height: math.Abs(s.Height)}
}

// Swapped returns the size with width and height exchanged.
func (s Size) Swapped() Size {
	return Size{Width: s.Height, Height: s.Width}
}

// IsPositive reports whether both components are finite and greater than zero.
func (s Size) IsPositive() bool {
	return s.Width > 0 && s.Height > 0 &&
		!math.IsInf(s.Width, 0) && !math.IsInf(s.Height, 0)
}

// Even rounds each component to the nearest even integer, never below 2.
// H.264 with 4:2:0 chroma subsampling rejects odd frame dimensions.
func (s Size) Even() Size {
	return Size{Width: roundEven(s.Width), Height: roundEven(s.Height)}
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}

func roundEven(v float64) float64 {
	r := math.Round(v/2) * 2
	if r < 2 {
		return 2
	}
	return r
}

// Rect is an axis-aligned rectangle with its origin at the minimum corner.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Offset is a normalized pan from the center of the canvas. Each component
// lies in [-1, 1]: -1 is one edge, 0 is centered, +1 is the opposite edge.
type Offset struct {
	X float64
	Y float64
}

// Validate returns ErrOffsetOutOfRange if either component is outside [-1, 1] or NaN.
func (o Offset) Validate() error {
	if !inUnitRange(o.X) || !inUnitRange(o.Y) {
		return fmt.Errorf("%w: x=%g, y=%g", ErrOffsetOutOfRange, o.X, o.Y)
	}
	return nil
}

// Clamp returns the offset with both components limited to [-1, 1].
// NaN components become 0.
func (o Offset) Clamp() Offset {
	return Offset{X: clampUnit(o.X), Y: clampUnit(o.Y)}
}

func inUnitRange(v float64) bool {
	return v >= -1 && v <= 1
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
