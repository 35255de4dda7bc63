package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRotation is returned when a rotation is not a multiple of 90 degrees.
var ErrInvalidRotation = errors.New("invalid rotation: must be a multiple of 90 degrees")

// Rotation is a quarter-turn rotation. Positive angles follow the standard
// rotation matrix, which turns content clockwise on a y-down raster.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// RotationFromDegrees normalizes any multiple of 90 (negative values included)
// into one of the four rotations.
func RotationFromDegrees(degrees int) (Rotation, error) {
	if degrees%90 != 0 {
		return Rotation0, fmt.Errorf("%w: got %d", ErrInvalidRotation, degrees)
	}
	normalized := ((degrees % 360) + 360) % 360
	return Rotation(normalized), nil
}

// Degrees returns the rotation in degrees.
func (r Rotation) Degrees() int {
	return int(r)
}

// Radians returns the rotation in radians.
func (r Rotation) Radians() float64 {
	return float64(r) * math.Pi / 180
}

// IsQuarterTurn reports whether the rotation exchanges the horizontal and vertical axes.
func (r Rotation) IsQuarterTurn() bool {
	return r == Rotation90 || r == Rotation270
}

// Add returns the rotation obtained by applying r and then other.
func (r Rotation) Add(other Rotation) Rotation {
	return Rotation((int(r) + int(other)) % 360)
}

// IsValid reports whether r is one of the four supported rotations.
func (r Rotation) IsValid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	default:
		return false
	}
}

// Normalize snaps r to the nearest quarter turn in [0, 360). Halfway angles
// round away from zero, so 45 becomes 90 and -45 becomes 270.
func (r Rotation) Normalize() Rotation {
	quarter := int(math.Round(float64(r)/90)) * 90
	return Rotation(((quarter % 360) + 360) % 360)
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d°", int(r))
}

// sinCos returns exact values for quarter turns so that composed transforms
// do not pick up 1e-17 noise from math.Sin/math.Cos.
func (r Rotation) sinCos() (sin, cos float64) {
	switch r {
	case Rotation90:
		return 1, 0
	case Rotation180:
		return 0, -1
	case Rotation270:
		return -1, 0
	default:
		return 0, 1
	}
}
