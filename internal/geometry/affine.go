package geometry

import (
	"fmt"
	"math"
)

// AffineTransform is a 2D affine matrix laid out the CoreGraphics way:
//
//	x' = A*x + C*y + Tx
//	y' = B*x + D*y + Ty
//
// The With* builders append an operation, so it is applied to points that
// have already been mapped by the receiver.
type AffineTransform struct {
	A, B, C, D float64
	Tx, Ty     float64
}

// Identity is the transform that leaves every point unchanged.
var Identity = AffineTransform{A: 1, D: 1}

// RotationTransform returns a pure rotation about the origin.
func RotationTransform(r Rotation) AffineTransform {
	sin, cos := r.sinCos()
	return AffineTransform{A: cos, B: sin, C: -sin, D: cos}
}

// ScaleTransform returns a pure scale about the origin.
func ScaleTransform(sx, sy float64) AffineTransform {
	return AffineTransform{A: sx, D: sy}
}

// TranslationTransform returns a pure translation.
func TranslationTransform(tx, ty float64) AffineTransform {
	return AffineTransform{A: 1, D: 1, Tx: tx, Ty: ty}
}

// Concat returns the transform that applies t first and then u.
func (t AffineTransform) Concat(u AffineTransform) AffineTransform {
	return AffineTransform{
		A:  u.A*t.A + u.C*t.B,
		B:  u.B*t.A + u.D*t.B,
		C:  u.A*t.C + u.C*t.D,
		D:  u.B*t.C + u.D*t.D,
		Tx: u.A*t.Tx + u.C*t.Ty + u.Tx,
		Ty: u.B*t.Tx + u.D*t.Ty + u.Ty,
	}
}

// Rotated appends a rotation about the origin.
func (t AffineTransform) Rotated(r Rotation) AffineTransform {
	return t.Concat(RotationTransform(r))
}

// Scaled appends a scale about the origin.
func (t AffineTransform) Scaled(sx, sy float64) AffineTransform {
	return t.Concat(ScaleTransform(sx, sy))
}

// Translated appends a translation.
func (t AffineTransform) Translated(tx, ty float64) AffineTransform {
	return t.Concat(TranslationTransform(tx, ty))
}

// Apply maps a point through the transform.
func (t AffineTransform) Apply(p Point) Point {
	return Point{
		X: t.A*p.X + t.C*p.Y + t.Tx,
		Y: t.B*p.X + t.D*p.Y + t.Ty,
	}
}

// ApplyToSize maps a size through the linear part of the transform.
// The result may have negative components; callers wanting a display size
// should take Abs.
func (t AffineTransform) ApplyToSize(s Size) Size {
	return Size{
		Width:  t.A*s.Width + t.C*s.Height,
		Height: t.B*s.Width + t.D*s.Height,
	}
}

// BoundingBox returns the axis-aligned box covering the rectangle
// (0, 0, size) after it is mapped by t.
func (t AffineTransform) BoundingBox(size Size) Rect {
	corners := [4]Point{
		t.Apply(Point{0, 0}),
		t.Apply(Point{size.Width, 0}),
		t.Apply(Point{0, size.Height}),
		t.Apply(Point{size.Width, size.Height}),
	}
	minX, minY := corners[0].X, corners[0].Y
	maxX, maxY := minX, minY
	for _, c := range corners[1:] {
		minX = math.Min(minX, c.X)
		minY = math.Min(minY, c.Y)
		maxX = math.Max(maxX, c.X)
		maxY = math.Max(maxY, c.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Determinant returns A*D - B*C. A negative value means the transform mirrors.
func (t AffineTransform) Determinant() float64 {
	return t.A*t.D - t.B*t.C
}

// IsIdentity reports whether t is exactly the identity transform.
func (t AffineTransform) IsIdentity() bool {
	return t == Identity
}

// Orientation decomposes the linear part of t into an optional horizontal
// mirror followed by the nearest quarter-turn rotation. Shear and
// non-uniform scale are ignored.
func (t AffineTransform) Orientation() (rotation Rotation, mirrored bool) {
	a, b := t.A, t.B
	if t.Determinant() < 0 {
		mirrored = true
		// Undo a leading x -> -x flip.
		a, b = -a, -b
	}
	degrees := math.Atan2(b, a) * 180 / math.Pi
	quarter := int(math.Round(degrees/90)) * 90
	rotation, _ = RotationFromDegrees(quarter)
	return rotation, mirrored
}

func (t AffineTransform) String() string {
	return fmt.Sprintf("[%g %g %g %g %g %g]", t.A, t.B, t.C, t.D, t.Tx, t.Ty)
}
