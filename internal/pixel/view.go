package pixel

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// detectionView renders one frame as an 8-bit RGB PNG for text detection.
// Grayscale frames are contrast-stretched to the full 8-bit range so faint
// annotations survive the depth reduction; color frames are cast directly.
// The view exists only for detection; masking is applied to the original
// samples, never to this buffer.
func detectionView(vol *Volume, frameIndex int) ([]byte, error) {
	if frameIndex < 0 || frameIndex >= len(vol.Frames) {
		return nil, fmt.Errorf("frame index %d out of range", frameIndex)
	}
	samples := vol.Frames[frameIndex].Samples
	if len(samples) != vol.Rows*vol.Cols*vol.SamplesPerPixel {
		return nil, fmt.Errorf("frame %d has %d samples, want %d",
			frameIndex, len(samples), vol.Rows*vol.Cols*vol.SamplesPerPixel)
	}

	img := image.NewRGBA(image.Rect(0, 0, vol.Cols, vol.Rows))

	if vol.SamplesPerPixel == 1 {
		lo, hi := sampleRange(samples)
		span := hi - lo
		for y := 0; y < vol.Rows; y++ {
			for x := 0; x < vol.Cols; x++ {
				v := samples[y*vol.Cols+x]
				var g uint8
				if span > 0 {
					g = uint8((v - lo) * 255 / span)
				}
				img.SetRGBA(x, y, color.RGBA{R: g, G: g, B: g, A: 255})
			}
		}
	} else {
		for y := 0; y < vol.Rows; y++ {
			for x := 0; x < vol.Cols; x++ {
				base := (y*vol.Cols + x) * 3
				img.SetRGBA(x, y, color.RGBA{
					R: clamp8(samples[base]),
					G: clamp8(samples[base+1]),
					B: clamp8(samples[base+2]),
					A: 255,
				})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode detection view: %w", err)
	}
	return buf.Bytes(), nil
}

func sampleRange(samples []int) (lo, hi int) {
	lo, hi = samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
