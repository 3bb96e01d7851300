package pixel

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/neheller/DICOM-DeID/internal/logging"
	"github.com/neheller/DICOM-DeID/internal/ocr"
)

// Mode selects how aggressively detected text is masked.
type Mode string

const (
	// ModeFull masks every detection above the confidence threshold.
	ModeFull Mode = "Full"
	// ModeSelective preserves anatomical and orientation labels plus single
	// letters, masking everything else.
	ModeSelective Mode = "Selective"
)

// confidenceThreshold is the minimum OCR confidence for a detection to
// count as text. Detections at or below it are ignored in both modes.
const confidenceThreshold = 0.6

// selectiveKeywords lists the laterality and orientation tokens left
// visible in Selective mode. Matching is case-insensitive substring
// containment on the trimmed detection text.
var selectiveKeywords = []string{
	"right", "left", "rt", "lt", "rk", "lk",
	"kidney", "bladder",
	"sagittal", "sag", "transverse", "trans", "prone",
}

// Redactor masks burned-in text in decoded pixel volumes and persists the
// finished dataset to its output path.
type Redactor struct {
	engine    ocr.Engine
	mode      Mode
	languages []string
	logger    *slog.Logger
}

// NewRedactor builds a redactor around a detection engine.
func NewRedactor(engine ocr.Engine, mode Mode, languages []string, logger *slog.Logger) *Redactor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Redactor{
		engine:    engine,
		mode:      mode,
		languages: append([]string(nil), languages...),
		logger:    logging.ForComponent(logger, "redactor"),
	}
}

// RedactVolume detects and masks text in every frame, in place. Frames are
// independent: a detection or view failure leaves that one frame unredacted
// and processing continues. Returns the number of masked regions.
func (r *Redactor) RedactVolume(ctx context.Context, vol *Volume) (int, error) {
	if r.engine == nil {
		return 0, fmt.Errorf("no detection engine configured")
	}

	masked := 0
	for i := range vol.Frames {
		n, err := r.redactFrame(ctx, vol, i)
		if err != nil {
			r.logger.Warn("frame left unredacted",
				slog.Int("frame", i),
				slog.String("engine", r.engine.Name()),
				slog.Any("error", err))
			continue
		}
		masked += n
	}
	return masked, nil
}

func (r *Redactor) redactFrame(ctx context.Context, vol *Volume, frameIndex int) (int, error) {
	view, err := detectionView(vol, frameIndex)
	if err != nil {
		return 0, err
	}

	detections, err := r.engine.Detect(ctx, ocr.Input{PNG: view, Languages: r.languages})
	if err != nil {
		return 0, fmt.Errorf("detect: %w", err)
	}

	frameBounds := image.Rect(0, 0, vol.Cols, vol.Rows)
	samples := vol.Frames[frameIndex].Samples
	masked := 0
	for _, d := range detections {
		if d.Confidence <= confidenceThreshold {
			continue
		}
		if r.mode == ModeSelective && isPreservedText(d.Text) {
			continue
		}
		rect := d.Bounds().Intersect(frameBounds)
		if rect.Empty() {
			continue
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				base := (y*vol.Cols + x) * vol.SamplesPerPixel
				for c := 0; c < vol.SamplesPerPixel; c++ {
					samples[base+c] = 0
				}
			}
		}
		masked++
	}
	return masked, nil
}

// isPreservedText reports whether a detection should stay visible in
// Selective mode: orientation/laterality keywords and lone letters carry
// clinical meaning, not identity.
func isPreservedText(text string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if cleaned == "" {
		return false
	}
	runes := []rune(cleaned)
	if len(runes) == 1 && unicode.IsLetter(runes[0]) {
		return true
	}
	for _, keyword := range selectiveKeywords {
		if strings.Contains(cleaned, keyword) {
			return true
		}
	}
	return false
}

// Redact masks the volume, swaps the rebuilt payload into the dataset,
// re-asserts the bit layout attributes, and writes the final object to
// outputPath. A failure before the write leaves no partial output file.
func (r *Redactor) Redact(ctx context.Context, ds *dicom.Dataset, vol *Volume, outputPath string) error {
	masked, err := r.RedactVolume(ctx, vol)
	if err != nil {
		return err
	}

	info, err := vol.ToPixelDataInfo()
	if err != nil {
		return fmt.Errorf("rebuild pixel data: %w", err)
	}
	pixelElement, err := dicom.NewElement(tag.PixelData, info)
	if err != nil {
		return fmt.Errorf("pixel data element: %w", err)
	}
	replaceOrAppend(ds, pixelElement)

	// The output is always native and unsigned, whatever the input carried.
	for _, attr := range []struct {
		tag   tag.Tag
		value int
	}{
		{tag.BitsAllocated, vol.BitsAllocated},
		{tag.BitsStored, vol.BitsAllocated},
		{tag.HighBit, vol.BitsAllocated - 1},
		{tag.PixelRepresentation, 0},
		{tag.SamplesPerPixel, vol.SamplesPerPixel},
	} {
		el, err := dicom.NewElement(attr.tag, []int{attr.value})
		if err != nil {
			return fmt.Errorf("attribute %v: %w", attr.tag, err)
		}
		replaceOrAppend(ds, el)
	}

	sortElements(ds)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := writeDataset(outputPath, ds); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	r.logger.Debug("pixel redaction complete",
		slog.String("path", outputPath),
		slog.Int("frames", len(vol.Frames)),
		slog.Int("masked_regions", masked))
	return nil
}

// replaceOrAppend swaps the element with the same tag, or appends when the
// dataset lacks one.
func replaceOrAppend(ds *dicom.Dataset, el *dicom.Element) {
	for i, existing := range ds.Elements {
		if existing.Tag == el.Tag {
			ds.Elements[i] = el
			return
		}
	}
	ds.Elements = append(ds.Elements, el)
}

// sortElements orders elements by (group, element) as serialization requires.
func sortElements(ds *dicom.Dataset) {
	sort.Slice(ds.Elements, func(i, j int) bool {
		if ds.Elements[i].Tag.Group != ds.Elements[j].Tag.Group {
			return ds.Elements[i].Tag.Group < ds.Elements[j].Tag.Group
		}
		return ds.Elements[i].Tag.Element < ds.Elements[j].Tag.Element
	})
}

func writeDataset(filename string, ds *dicom.Dataset) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, *ds)
}
