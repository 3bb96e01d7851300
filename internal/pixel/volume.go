// Package pixel decodes DICOM pixel payloads into a uniform frame model,
// detects and masks burned-in text, and rebuilds the payload for output.
package pixel

import (
	"fmt"
	"image"

	// Decoders for encapsulated (compressed) frames.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Frame holds one frame's samples in row-major order, channels interleaved.
// Values keep the original intensity scale of the stored data.
type Frame struct {
	Samples []int
}

// Volume is the fully decoded pixel payload of one dataset. All frames
// share the same geometry.
type Volume struct {
	Frames          []Frame
	Rows            int
	Cols            int
	SamplesPerPixel int
	BitsAllocated   int
}

// FromDataset decodes the dataset's pixel data into a Volume, including
// decompression of encapsulated transfer syntaxes for which an image
// decoder is registered. Geometry is taken from the dataset attributes.
func FromDataset(ds *dicom.Dataset) (*Volume, error) {
	rows, err := intAttribute(ds, tag.Rows)
	if err != nil {
		return nil, err
	}
	cols, err := intAttribute(ds, tag.Columns)
	if err != nil {
		return nil, err
	}
	spp := intAttributeDefault(ds, tag.SamplesPerPixel, 1)
	bits := intAttributeDefault(ds, tag.BitsAllocated, 16)
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", rows, cols)
	}
	if spp != 1 && spp != 3 {
		return nil, fmt.Errorf("unsupported samples per pixel %d", spp)
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("pixel data element: %w", err)
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if info.IntentionallySkipped || info.IntentionallyUnprocessed {
		return nil, fmt.Errorf("pixel data was not decoded during parse")
	}
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("pixel data contains no frames")
	}

	vol := &Volume{
		Frames:          make([]Frame, 0, len(info.Frames)),
		Rows:            rows,
		Cols:            cols,
		SamplesPerPixel: spp,
		BitsAllocated:   bits,
	}
	for i, fr := range info.Frames {
		samples, err := frameSamples(fr, rows, cols, spp)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		vol.Frames = append(vol.Frames, Frame{Samples: samples})
	}
	return vol, nil
}

// SampleIndex returns the offset of (x, y) channel c in a frame's samples.
func (v *Volume) SampleIndex(x, y, c int) int {
	return (y*v.Cols+x)*v.SamplesPerPixel + c
}

// ToPixelDataInfo rebuilds a native, uncompressed pixel payload from the
// volume, preserving the original bit depth.
func (v *Volume) ToPixelDataInfo() (dicom.PixelDataInfo, error) {
	expected := v.Rows * v.Cols * v.SamplesPerPixel
	for i, fr := range v.Frames {
		if len(fr.Samples) != expected {
			return dicom.PixelDataInfo{}, fmt.Errorf("frame %d has %d samples, want %d", i, len(fr.Samples), expected)
		}
	}

	frames := make([]*frame.Frame, 0, len(v.Frames))
	for _, fr := range v.Frames {
		var native *frame.Frame
		switch {
		case v.BitsAllocated <= 8:
			native = nativeFromSamples[uint8](fr.Samples, 8, v.Rows, v.Cols, v.SamplesPerPixel)
		case v.BitsAllocated <= 16:
			native = nativeFromSamples[uint16](fr.Samples, 16, v.Rows, v.Cols, v.SamplesPerPixel)
		case v.BitsAllocated <= 32:
			native = nativeFromSamples[uint32](fr.Samples, 32, v.Rows, v.Cols, v.SamplesPerPixel)
		default:
			return dicom.PixelDataInfo{}, fmt.Errorf("unsupported bit depth %d", v.BitsAllocated)
		}
		frames = append(frames, native)
	}
	return dicom.PixelDataInfo{Frames: frames}, nil
}

func nativeFromSamples[T uint8 | uint16 | uint32](samples []int, bits, rows, cols, spp int) *frame.Frame {
	nf := frame.NewNativeFrame[T](bits, rows, cols, rows*cols, spp)
	raw := make([]T, len(samples))
	for i, s := range samples {
		raw[i] = T(s)
	}
	nf.RawData = raw
	return &frame.Frame{Encapsulated: false, NativeData: nf}
}

// frameSamples extracts raw sample values from one parsed frame. Native
// frames are read directly so stored intensities survive untouched;
// encapsulated frames go through the registered image decoders.
func frameSamples(fr *frame.Frame, rows, cols, spp int) ([]int, error) {
	if fr == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if !fr.Encapsulated {
		switch nd := fr.NativeData.(type) {
		case *frame.NativeFrame[uint8]:
			return widenSamples(nd.RawData, rows*cols*spp)
		case *frame.NativeFrame[uint16]:
			return widenSamples(nd.RawData, rows*cols*spp)
		case *frame.NativeFrame[uint32]:
			return widenSamples(nd.RawData, rows*cols*spp)
		default:
			return nil, fmt.Errorf("unsupported native frame type %T", fr.NativeData)
		}
	}

	img, err := fr.GetImage()
	if err != nil {
		return nil, fmt.Errorf("decode encapsulated frame: %w", err)
	}
	return samplesFromImage(img, rows, cols, spp)
}

func widenSamples[T uint8 | uint16 | uint32](raw []T, want int) ([]int, error) {
	if len(raw) != want {
		return nil, fmt.Errorf("native frame has %d samples, want %d", len(raw), want)
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		out[i] = int(v)
	}
	return out, nil
}

// samplesFromImage converts a decoded image into interleaved samples. Eight
// bit channels come back from Color.RGBA() left-shifted, so they are shifted
// down again; Gray16 sources keep their full range.
func samplesFromImage(img image.Image, rows, cols, spp int) ([]int, error) {
	bounds := img.Bounds()
	if bounds.Dx() != cols || bounds.Dy() != rows {
		return nil, fmt.Errorf("decoded image is %dx%d, dataset says %dx%d",
			bounds.Dx(), bounds.Dy(), cols, rows)
	}

	out := make([]int, rows*cols*spp)
	if spp == 1 {
		if g16, ok := img.(*image.Gray16); ok {
			for y := 0; y < rows; y++ {
				for x := 0; x < cols; x++ {
					out[y*cols+x] = int(g16.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
				}
			}
			return out, nil
		}
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				out[y*cols+x] = int(r >> 8)
			}
		}
		return out, nil
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (y*cols + x) * 3
			out[base] = int(r >> 8)
			out[base+1] = int(g >> 8)
			out[base+2] = int(b >> 8)
		}
	}
	return out, nil
}

func intAttribute(ds *dicom.Dataset, t tag.Tag) (int, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, fmt.Errorf("attribute %v: %w", t, err)
	}
	values, ok := el.Value.GetValue().([]int)
	if !ok || len(values) == 0 {
		return 0, fmt.Errorf("attribute %v has no integer value", t)
	}
	return values[0], nil
}

func intAttributeDefault(ds *dicom.Dataset, t tag.Tag, fallback int) int {
	v, err := intAttribute(ds, t)
	if err != nil {
		return fallback
	}
	return v
}
