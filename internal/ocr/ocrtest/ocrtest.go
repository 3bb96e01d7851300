// Package ocrtest provides a canned detection engine for tests that need
// deterministic OCR results without a real recognizer behind them.
package ocrtest

import (
	"context"

	"github.com/neheller/DICOM-DeID/internal/ocr"
)

// Engine returns the same detections on every call. Err, when set, takes
// precedence. Calls counts Detect invocations, one per frame.
type Engine struct {
	Detections []ocr.Detection
	Err        error
	Calls      int
}

// Name identifies the fake in log output.
func (e *Engine) Name() string { return "static" }

// Detect implements ocr.Engine.
func (e *Engine) Detect(_ context.Context, _ ocr.Input) ([]ocr.Detection, error) {
	e.Calls++
	if e.Err != nil {
		return nil, e.Err
	}
	return append([]ocr.Detection(nil), e.Detections...), nil
}
