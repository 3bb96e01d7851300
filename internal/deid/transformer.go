package deid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/neheller/DICOM-DeID/internal/logging"
	"github.com/neheller/DICOM-DeID/internal/pixel"
)

// Per-file skip conditions. The pipeline logs them and moves on; they never
// abort a run.
var (
	ErrNotDICOM         = errors.New("not a DICOM file")
	ErrUnknownAccession = errors.New("accession not in roster")
	ErrPixelDecode      = errors.New("pixel data could not be decoded")
)

// Transformer carries one file end to end: preflight, parse, identity
// substitution, meta rebuild, tag sweep, pixel redaction, persistence,
// manifest entry.
type Transformer struct {
	inputRoot  string
	outputRoot string
	identity   *IdentityMapper
	redactor   *pixel.Redactor
	manifest   *ManifestRecorder
	logger     *slog.Logger
}

// NewTransformer wires the per-run collaborators together. The identity
// mapper, redactor, and manifest recorder are owned by the caller and
// shared across every file of the run.
func NewTransformer(inputRoot, outputRoot string, identity *IdentityMapper, redactor *pixel.Redactor, manifest *ManifestRecorder, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Transformer{
		inputRoot:  inputRoot,
		outputRoot: outputRoot,
		identity:   identity,
		redactor:   redactor,
		manifest:   manifest,
		logger:     logging.ForComponent(logger, "transformer"),
	}
}

// TransformFile de-identifies a single file. On success the output object
// exists on disk and a manifest entry has been appended. Skip conditions
// come back wrapped in ErrNotDICOM, ErrUnknownAccession, or ErrPixelDecode;
// anything else is a per-file failure. No partial output is left behind in
// either case.
func (t *Transformer) TransformFile(ctx context.Context, path string) error {
	if err := checkMagic(path); err != nil {
		return err
	}

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrNotDICOM, path, err)
	}

	accession := stringAttribute(&ds, tag.AccessionNumber)
	pseudonym, ok := t.identity.PseudonymFor(accession)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAccession, accession)
	}

	// Decode before touching anything so undecodable files are skipped
	// with their metadata still intact for diagnostics.
	vol, err := pixel.FromDataset(&ds)
	if err != nil {
		t.logDecodeFailure(path, &ds, err)
		return fmt.Errorf("%w: %v", ErrPixelDecode, err)
	}

	pair := t.identity.EnsureUIDPair(pseudonym)
	sopUID := t.identity.FreshInstanceUID()
	outputPath, err := t.outputPath(path, pseudonym, sopUID)
	if err != nil {
		return err
	}

	if err := t.substituteIdentity(&ds, pseudonym, pair, sopUID); err != nil {
		return err
	}
	if err := rebuildFileMeta(&ds, sopUID); err != nil {
		return err
	}
	stats := t.sweepElements(&ds)

	if err := t.redactor.Redact(ctx, &ds, vol, outputPath); err != nil {
		return fmt.Errorf("persist %s: %w", outputPath, err)
	}

	t.manifest.Append(ManifestEntry{
		OriginalPath:           path,
		DeidPath:               outputPath,
		OriginalAccession:      accession,
		Pseudonym:              pseudonym,
		StudyUID:               pair.StudyUID,
		SeriesUID:              pair.SeriesUID,
		SOPInstanceUID:         sopUID,
		AccessionNumber:        stringAttribute(&ds, tag.AccessionNumber),
		PatientIdentityRemoved: stringAttribute(&ds, tag.PatientIdentityRemoved),
		PatientName:            stringAttribute(&ds, tag.PatientName),
		StudyID:                stringAttribute(&ds, tag.StudyID),
		PatientID:              stringAttribute(&ds, tag.PatientID),
	})

	t.logger.Info("file de-identified",
		slog.String("input", path),
		slog.String("output", outputPath),
		slog.Int("kept", stats.Kept),
		slog.Int("replaced", stats.Replaced),
		slog.Int("wiped", stats.Wiped),
		slog.Int("removed", stats.Removed))
	return nil
}

// checkMagic verifies the DICM marker at offset 128 without parsing.
func checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 132)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("%w: %s is too short for a file header", ErrNotDICOM, path)
	}
	if string(header[128:132]) != "DICM" {
		return fmt.Errorf("%w: %s has no DICM marker", ErrNotDICOM, path)
	}
	return nil
}

// outputPath maps the input location into the de-identified tree. The first
// directory below the input root becomes the pseudonym; deeper directories
// are replaced segment by segment with run-stable tokens; the filename is
// rebuilt from the pseudonym and the fresh SOP instance UID.
func (t *Transformer) outputPath(inputPath, pseudonym, sopUID string) (string, error) {
	rel, err := filepath.Rel(t.inputRoot, inputPath)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", inputPath, err)
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	dirs := segments[:len(segments)-1]

	parts := []string{t.outputRoot, pseudonym}
	if len(dirs) > 1 {
		for _, segment := range dirs[1:] {
			parts = append(parts, t.identity.TokenFor(segment))
		}
	}
	parts = append(parts, pseudonym+"_"+sopUID+".dcm")
	return filepath.Join(parts...), nil
}

// substituteIdentity overwrites every field in the replace set with its
// pseudonymous value, inserting elements the input lacked.
func (t *Transformer) substituteIdentity(ds *dicom.Dataset, pseudonym string, pair UIDPair, sopUID string) error {
	for _, sub := range []struct {
		tag   tag.Tag
		value string
	}{
		{tag.AccessionNumber, pseudonym},
		{tag.PatientID, pseudonym},
		{tag.PatientName, pseudonym},
		{tag.StudyID, pseudonym},
		{tag.PatientIdentityRemoved, "YES"},
		{tag.StudyInstanceUID, pair.StudyUID},
		{tag.SeriesInstanceUID, pair.SeriesUID},
		{tag.SOPInstanceUID, sopUID},
	} {
		if err := upsertString(ds, sub.tag, sub.value); err != nil {
			return fmt.Errorf("substitute %v: %w", sub.tag, err)
		}
	}
	return nil
}

// rebuildFileMeta drops the parsed file meta group and writes a fresh one.
// The transfer syntax is forced to Explicit VR Little Endian: frames are
// re-encoded native, so the output must never advertise the input's
// compressed syntax.
func rebuildFileMeta(ds *dicom.Dataset, sopUID string) error {
	sopClass := stringAttribute(ds, tag.SOPClassUID)

	kept := ds.Elements[:0]
	for _, el := range ds.Elements {
		if el.Tag.Group != 0x0002 {
			kept = append(kept, el)
		}
	}
	ds.Elements = kept

	meta := []struct {
		tag   tag.Tag
		value string
	}{
		{tag.TransferSyntaxUID, "1.2.840.10008.1.2.1"},
		{tag.MediaStorageSOPClassUID, sopClass},
		{tag.MediaStorageSOPInstanceUID, sopUID},
		{tag.ImplementationClassUID, OrgRootUID},
	}
	for _, m := range meta {
		if m.value == "" {
			continue
		}
		el, err := dicom.NewElement(m.tag, []string{m.value})
		if err != nil {
			return fmt.Errorf("file meta %v: %w", m.tag, err)
		}
		ds.Elements = append(ds.Elements, el)
	}
	return nil
}

// sweepStats counts the disposition applied to each swept element.
type sweepStats struct {
	Kept     int
	Replaced int
	Wiped    int
	Removed  int
}

// sweepElements applies the disposition policy to every remaining element:
// kept elements pass through byte for byte, replace-set elements keep their
// substituted values, everything else is emptied in place or dropped. An
// element that cannot be emptied is dropped instead.
func (t *Transformer) sweepElements(ds *dicom.Dataset) sweepStats {
	var stats sweepStats
	survivors := ds.Elements[:0]
	for _, el := range ds.Elements {
		switch {
		case el.Tag.Group == 0x0002:
			// Fresh file meta, rebuilt above.
			survivors = append(survivors, el)
			continue
		case el.Tag == tag.PixelData:
			// The redactor owns the pixel payload.
			survivors = append(survivors, el)
			continue
		case el.Tag.Group%2 == 1:
			// Private elements carry unknowable content.
			stats.Removed++
			continue
		}

		info, err := tag.Find(el.Tag)
		if err != nil {
			stats.Removed++
			continue
		}
		switch Classify(info.Name) {
		case DispositionReplace:
			stats.Replaced++
			survivors = append(survivors, el)
		case DispositionKeep:
			stats.Kept++
			survivors = append(survivors, el)
		default:
			emptied, ok := emptyElement(el)
			if !ok {
				stats.Removed++
				continue
			}
			stats.Wiped++
			survivors = append(survivors, emptied)
		}
	}
	ds.Elements = survivors
	return stats
}

// emptyElement rebuilds an element with a zero-length value of the same
// underlying kind. Sequences and pixel payloads cannot be emptied this way.
func emptyElement(el *dicom.Element) (*dicom.Element, bool) {
	var empty interface{}
	switch el.Value.ValueType() {
	case dicom.Strings:
		empty = []string{}
	case dicom.Ints:
		empty = []int{}
	case dicom.Floats:
		empty = []float64{}
	case dicom.Bytes:
		empty = []byte{}
	default:
		return nil, false
	}
	rebuilt, err := dicom.NewElement(el.Tag, empty)
	if err != nil {
		return nil, false
	}
	return rebuilt, true
}

// logDecodeFailure emits the structural attributes that explain why a pixel
// payload would not decode.
func (t *Transformer) logDecodeFailure(path string, ds *dicom.Dataset, err error) {
	t.logger.Warn("skipping file, pixel decode failed",
		slog.String("path", path),
		slog.String("transfer_syntax", stringAttribute(ds, tag.TransferSyntaxUID)),
		slog.Int("rows", intAttribute(ds, tag.Rows)),
		slog.Int("cols", intAttribute(ds, tag.Columns)),
		slog.Int("bits_allocated", intAttribute(ds, tag.BitsAllocated)),
		slog.Int("samples_per_pixel", intAttribute(ds, tag.SamplesPerPixel)),
		slog.String("number_of_frames", stringAttribute(ds, tag.NumberOfFrames)),
		slog.String("photometric_interpretation", stringAttribute(ds, tag.PhotometricInterpretation)),
		slog.Any("error", err))
}

func upsertString(ds *dicom.Dataset, t tag.Tag, value string) error {
	el, err := dicom.NewElement(t, []string{value})
	if err != nil {
		return err
	}
	for i, existing := range ds.Elements {
		if existing.Tag == t {
			ds.Elements[i] = el
			return nil
		}
	}
	ds.Elements = append(ds.Elements, el)
	return nil
}

func stringAttribute(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	values, ok := el.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func intAttribute(ds *dicom.Dataset, t tag.Tag) int {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0
	}
	values, ok := el.Value.GetValue().([]int)
	if !ok || len(values) == 0 {
		return 0
	}
	return values[0]
}
