package geometry

import "math"

// RotatedSize returns the frame extent after rotation. Quarter turns swap the axes.
func RotatedSize(videoSize Size, rotation Rotation) Size {
	if rotation.IsQuarterTurn() {
		return videoSize.Swapped()
	}
	return videoSize
}

// ScaleFactor returns the aspect-fill scale that makes rotated cover the
// composition on both axes. The larger ratio wins; the other axis overflows
// and is cropped.
func ScaleFactor(rotated, composition Size) float64 {
	return math.Max(composition.Width/rotated.Width, composition.Height/rotated.Height)
}

// RotatedCenter returns where the center of a videoSize frame anchored at the
// origin lands after a pure rotation about the origin.
func RotatedCenter(videoSize Size, rotation Rotation) Point {
	w, h := videoSize.Width, videoSize.Height
	switch rotation {
	case Rotation90:
		return Point{X: -h / 2, Y: w / 2}
	case Rotation180:
		return Point{X: -w / 2, Y: -h / 2}
	case Rotation270:
		return Point{X: h / 2, Y: -w / 2}
	default:
		return Point{X: w / 2, Y: h / 2}
	}
}

// PanTranslation converts a normalized offset into a pixel translation using
// the bounded-pan policy: each axis may move by at most half of the amount
// the scaled frame overhangs the canvas, so panning never exposes pixels
// outside the source. The Y component is negated because the offset treats
// +Y as down while the transform's Y grows the other way.
func PanTranslation(scaledSize, composition Size, offset Offset) Point {
	o := offset.Clamp()
	availX := math.Max(0, (scaledSize.Width-composition.Width)/2)
	availY := math.Max(0, (scaledSize.Height-composition.Height)/2)
	return Point{X: o.X * availX, Y: -(o.Y * availY)}
}

// ComputeTransform returns the transform that places a videoSize frame into
// a compositionSize canvas: rotate about the origin, aspect-fill scale,
// translate the frame center onto the canvas center, then pan by offset.
//
// Both sizes must be positive. The result is deterministic for identical
// inputs. A source-embedded orientation transform, if any, should be
// composed in front of the result with Concat.
func ComputeTransform(videoSize, compositionSize Size, rotation Rotation, offset Offset) AffineTransform {
	rotated := RotatedSize(videoSize, rotation)
	scale := ScaleFactor(rotated, compositionSize)

	center := RotatedCenter(videoSize, rotation)
	scaledCenter := Point{X: center.X * scale, Y: center.Y * scale}
	canvasCenter := Point{X: compositionSize.Width / 2, Y: compositionSize.Height / 2}
	tx := canvasCenter.X - scaledCenter.X
	ty := canvasCenter.Y - scaledCenter.Y

	base := Identity.
		Rotated(rotation).
		Scaled(scale, scale).
		Translated(tx, ty)

	scaled := Size{Width: rotated.Width * scale, Height: rotated.Height * scale}
	pan := PanTranslation(scaled, compositionSize, offset)
	return base.Translated(pan.X, pan.Y)
}

// RenderSize reshapes source into the target aspect ratio while keeping the
// total pixel count, so the export samples as many pixels as the source has
// instead of snapping to a preset resolution.
func RenderSize(source Size, aspect AspectRatio) Size {
	pixels := source.Area()
	switch aspect {
	case AspectPortrait:
		height := math.Sqrt(pixels * 16 / 9)
		return Size{Width: height * 9 / 16, Height: height}
	case AspectLandscape:
		width := math.Sqrt(pixels * 16 / 9)
		return Size{Width: width, Height: width * 9 / 16}
	default:
		side := math.Sqrt(pixels)
		return Size{Width: side, Height: side}
	}
}
