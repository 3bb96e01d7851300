// Package ocr defines the text-detection contract used by pixel redaction.
// Engines receive an encoded image and return word-level detections; the
// production engine wraps Tesseract, tests substitute fakes.
package ocr

import (
	"context"
	"image"
)

// Input is a single image submitted for text detection.
type Input struct {
	// PNG is the encoded image payload.
	PNG []byte
	// Languages lists trained-data hints (e.g. "eng"). Empty means the
	// engine default.
	Languages []string
}

// Detection is one recognized token with its location on the image.
type Detection struct {
	// Quad is the four-corner outline of the detected text, clockwise from
	// the upper-left corner. Engines that only report rectangles fill the
	// corners of the rectangle.
	Quad [4]image.Point
	// Text is the recognized token.
	Text string
	// Confidence is the engine's score in [0, 1].
	Confidence float64
}

// Bounds returns the axis-aligned bounding rectangle of the detection quad.
func (d Detection) Bounds() image.Rectangle {
	minX, minY := d.Quad[0].X, d.Quad[0].Y
	maxX, maxY := minX, minY
	for _, p := range d.Quad[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return image.Rect(minX, minY, maxX, maxY)
}

// QuadFromRect builds a detection quad from an axis-aligned rectangle,
// clockwise from the upper-left corner.
func QuadFromRect(r image.Rectangle) [4]image.Point {
	return [4]image.Point{
		{X: r.Min.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y},
		{X: r.Min.X, Y: r.Max.Y},
	}
}

// Engine detects text in images.
type Engine interface {
	// Name identifies the engine for logs and diagnostics.
	Name() string
	// Detect runs text detection on one image and returns zero or more
	// word-level detections.
	Detect(ctx context.Context, in Input) ([]Detection, error)
}
