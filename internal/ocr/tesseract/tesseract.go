// Package tesseract provides the Tesseract-backed text detection engine.
package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/neheller/DICOM-DeID/internal/ocr"
)

// Engine implements ocr.Engine using the gosseract client. A fresh client is
// created per call; gosseract clients are not safe for reuse across images
// with different settings.
type Engine struct {
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine.
func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

// Name implements ocr.Engine.
func (e *Engine) Name() string { return "tesseract" }

// Detect implements ocr.Engine. Word-level bounding boxes are returned with
// confidences rescaled from Tesseract's 0-100 range to [0, 1].
func (e *Engine) Detect(ctx context.Context, in ocr.Input) ([]ocr.Detection, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(in.PNG); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("bounding boxes: %w", err)
	}

	detections := make([]ocr.Detection, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		detections = append(detections, ocr.Detection{
			Quad:       ocr.QuadFromRect(b.Box),
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
		})
	}
	return detections, nil
}
