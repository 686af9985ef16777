package geometry

import (
	"fmt"
	"image"
	"math"
)

// BoundingBox is an axis-aligned rectangle in the original image's pixel
// coordinate space. Coordinates are floating point because detection services
// return sub-pixel positions.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Empty reports whether the box covers no area.
func (b BoundingBox) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Normalize clamps the box into [0,width] x [0,height] and reorders inverted
// edges so the result always has non-negative width and height. Every box
// that originates from an external service must be normalized before use:
// detection backends are not guaranteed to return in-bounds or ordered
// coordinates.
func (b BoundingBox) Normalize(width, height float64) BoundingBox {
	x1, x2 := b.X1, b.X2
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	y1, y2 := b.Y1, b.Y2
	if y1 > y2 {
		y1, y2 = y2, y1
	}

	return BoundingBox{
		X1: clamp(x1, 0, width),
		Y1: clamp(y1, 0, height),
		X2: clamp(x2, 0, width),
		Y2: clamp(y2, 0, height),
	}
}

// Rect converts the box to an integer rectangle, rounding each edge to the
// nearest pixel.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X1)),
		int(math.Round(b.Y1)),
		int(math.Round(b.X2)),
		int(math.Round(b.Y2)),
	)
}

// Array returns the box in its [x1, y1, x2, y2] wire form.
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

// FromArray builds a box from the [x1, y1, x2, y2] wire form.
func FromArray(coords []float64) (BoundingBox, error) {
	if len(coords) != 4 {
		return BoundingBox{}, fmt.Errorf("bounding box must have 4 coordinates, got %d", len(coords))
	}
	return BoundingBox{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}, nil
}

// Equals reports whether two boxes are geometrically identical within eps.
// Floating-point coordinates that travel through JSON must never be compared
// by identity.
func Equals(a, b BoundingBox, eps float64) bool {
	return math.Abs(a.X1-b.X1) <= eps &&
		math.Abs(a.Y1-b.Y1) <= eps &&
		math.Abs(a.X2-b.X2) <= eps &&
		math.Abs(a.Y2-b.Y2) <= eps
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
