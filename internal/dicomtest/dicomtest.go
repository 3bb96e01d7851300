// Package dicomtest builds small synthetic DICOM objects for exercising the
// de-identification pipeline. Fixtures carry real patient-style identity
// attributes, optional burned-in frame text, and enough structural metadata
// to survive a parse/write round trip.
package dicomtest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// mustNewElement creates a DICOM element and panics on failure. Fixture
// construction errors are programming errors, not test conditions.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	el, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("dicomtest: create element %v: %v", t, err))
	}
	return el
}

// Object describes one synthetic instance. Zero values take the defaults
// applied by withDefaults, so tests set only what they assert on.
type Object struct {
	Rows            int
	Cols            int
	BitsAllocated   int
	SamplesPerPixel int
	FrameCount      int
	Background      int    // fill value for every sample
	BurnedInText    string // drawn on every frame when non-empty

	Accession   string
	PatientName string
	PatientID   string
	StudyID     string

	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
	SOPClassUID    string
	Modality       string

	OmitPixelData bool
	Extra         []*dicom.Element
}

func (o Object) withDefaults() Object {
	if o.Rows == 0 {
		o.Rows = 64
	}
	if o.Cols == 0 {
		o.Cols = 64
	}
	if o.BitsAllocated == 0 {
		o.BitsAllocated = 16
	}
	if o.SamplesPerPixel == 0 {
		o.SamplesPerPixel = 1
	}
	if o.FrameCount == 0 {
		o.FrameCount = 1
	}
	if o.Background == 0 {
		o.Background = 600
	}
	if o.Accession == "" {
		o.Accession = "A1001"
	}
	if o.PatientName == "" {
		o.PatientName = "DOE^JANE"
	}
	if o.PatientID == "" {
		o.PatientID = "MRN0042"
	}
	if o.StudyID == "" {
		o.StudyID = "S1"
	}
	if o.StudyUID == "" {
		o.StudyUID = "1.2.840.99999.1.1"
	}
	if o.SeriesUID == "" {
		o.SeriesUID = "1.2.840.99999.1.2"
	}
	if o.SOPInstanceUID == "" {
		o.SOPInstanceUID = "1.2.840.99999.1.3"
	}
	if o.SOPClassUID == "" {
		// Ultrasound Image Storage
		o.SOPClassUID = "1.2.840.10008.5.1.4.1.1.6.1"
	}
	if o.Modality == "" {
		o.Modality = "US"
	}
	return o
}

// NewDataset assembles a complete dataset for the object, meta group first.
func NewDataset(o Object) dicom.Dataset {
	o = o.withDefaults()

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}), // Explicit VR Little Endian
		mustNewElement(tag.MediaStorageSOPClassUID, []string{o.SOPClassUID}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{o.SOPInstanceUID}),
		mustNewElement(tag.ImplementationClassUID, []string{"1.2.840.99999.0.1"}),

		mustNewElement(tag.PatientName, []string{o.PatientName}),
		mustNewElement(tag.PatientID, []string{o.PatientID}),
		mustNewElement(tag.AccessionNumber, []string{o.Accession}),
		mustNewElement(tag.StudyID, []string{o.StudyID}),
		mustNewElement(tag.StudyInstanceUID, []string{o.StudyUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{o.SeriesUID}),
		mustNewElement(tag.SOPInstanceUID, []string{o.SOPInstanceUID}),
		mustNewElement(tag.SOPClassUID, []string{o.SOPClassUID}),
		mustNewElement(tag.Modality, []string{o.Modality}),
	}

	if !o.OmitPixelData {
		photometric := "MONOCHROME2"
		if o.SamplesPerPixel == 3 {
			photometric = "RGB"
		}
		elements = append(elements,
			mustNewElement(tag.Rows, []int{o.Rows}),
			mustNewElement(tag.Columns, []int{o.Cols}),
			mustNewElement(tag.BitsAllocated, []int{o.BitsAllocated}),
			mustNewElement(tag.BitsStored, []int{o.BitsAllocated}),
			mustNewElement(tag.HighBit, []int{o.BitsAllocated - 1}),
			mustNewElement(tag.PixelRepresentation, []int{0}),
			mustNewElement(tag.SamplesPerPixel, []int{o.SamplesPerPixel}),
			mustNewElement(tag.PhotometricInterpretation, []string{photometric}),
		)
		if o.SamplesPerPixel == 3 {
			elements = append(elements, mustNewElement(tag.PlanarConfiguration, []int{0}))
		}
		if o.FrameCount > 1 {
			elements = append(elements, mustNewElement(tag.NumberOfFrames, []string{fmt.Sprintf("%d", o.FrameCount)}))
		}
		elements = append(elements, mustNewElement(tag.PixelData, o.pixelDataInfo()))
	}

	elements = append(elements, o.Extra...)
	return dicom.Dataset{Elements: elements}
}

func (o Object) pixelDataInfo() dicom.PixelDataInfo {
	frames := make([]*frame.Frame, 0, o.FrameCount)
	for i := 0; i < o.FrameCount; i++ {
		frames = append(frames, o.newFrame())
	}
	return dicom.PixelDataInfo{Frames: frames}
}

func (o Object) newFrame() *frame.Frame {
	pixelsPerFrame := o.Rows * o.Cols
	switch o.BitsAllocated {
	case 8:
		nf := frame.NewNativeFrame[uint8](o.BitsAllocated, o.Rows, o.Cols, pixelsPerFrame, o.SamplesPerPixel)
		fillFrame(nf, o.Rows, o.Cols, o.SamplesPerPixel, uint8(o.Background), o.BurnedInText)
		return &frame.Frame{Encapsulated: false, NativeData: nf}
	default:
		nf := frame.NewNativeFrame[uint16](o.BitsAllocated, o.Rows, o.Cols, pixelsPerFrame, o.SamplesPerPixel)
		fillFrame(nf, o.Rows, o.Cols, o.SamplesPerPixel, uint16(o.Background), o.BurnedInText)
		return &frame.Frame{Encapsulated: false, NativeData: nf}
	}
}

func fillFrame[T uint8 | uint16](nf *frame.NativeFrame[T], rows, cols, spp int, background T, text string) {
	raw := make([]T, rows*cols*spp)
	for i := range raw {
		raw[i] = background
	}
	if text != "" {
		burnText(raw, cols, rows, spp, text, peakValue[T]())
	}
	nf.RawData = raw
}

func peakValue[T uint8 | uint16]() T {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return T(255)
	default:
		return T(65535)
	}
}

// WriteFile writes the object beneath dir, creating parents, and returns
// the file path.
func WriteFile(t *testing.T, dir, name string, o Object) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create fixture directory: %v", err)
	}
	ds := NewDataset(o)
	if err := WriteDataset(path, ds); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

// WriteDataset persists a dataset without a testing.T, for e2e harnesses.
func WriteDataset(path string, ds dicom.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds)
}
