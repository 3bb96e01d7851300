package deid

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/neheller/DICOM-DeID/internal/dicomtest"
	"github.com/neheller/DICOM-DeID/internal/ocr"
	"github.com/neheller/DICOM-DeID/internal/ocr/ocrtest"
	"github.com/neheller/DICOM-DeID/internal/pixel"
)

func newTestTransformer(t *testing.T, inputRoot, outputRoot string, roster Roster, engine ocr.Engine, mode pixel.Mode) (*Transformer, *IdentityMapper, *ManifestRecorder) {
	t.Helper()
	identity := NewIdentityMapper(roster, nil)
	manifest := NewManifestRecorder()
	redactor := pixel.NewRedactor(engine, mode, nil, nil)
	return NewTransformer(inputRoot, outputRoot, identity, redactor, manifest, nil), identity, manifest
}

func TestTransformFileEndToEnd(t *testing.T) {
	inputRoot := t.TempDir()
	outputRoot := t.TempDir()
	path := dicomtest.WriteFile(t, inputRoot, filepath.Join("ACC1", "sub", "image.dcm"), dicomtest.Object{
		Accession:   "A123",
		PatientName: "DOE^JANE",
		PatientID:   "MRN0042",
		StudyID:     "S77",
		Rows:        32,
		Cols:        32,
		Background:  900,
	})

	region := image.Rect(8, 8, 24, 16)
	engine := &ocrtest.Engine{Detections: []ocr.Detection{
		{Quad: ocr.QuadFromRect(region), Text: "JOHN DOE", Confidence: 0.92},
	}}
	tr, _, manifest := newTestTransformer(t, inputRoot, outputRoot, Roster{"A123": "P001"}, engine, pixel.ModeFull)

	if err := tr.TransformFile(context.Background(), path); err != nil {
		t.Fatalf("TransformFile: %v", err)
	}
	if manifest.Len() != 1 {
		t.Fatalf("manifest has %d entries, want 1", manifest.Len())
	}
	entry := manifest.Entries()[0]

	if entry.OriginalAccession != "A123" || entry.Pseudonym != "P001" {
		t.Fatalf("entry identity = %q -> %q, want A123 -> P001", entry.OriginalAccession, entry.Pseudonym)
	}
	if !strings.HasPrefix(entry.DeidPath, filepath.Join(outputRoot, "P001")) {
		t.Fatalf("output path %q not under pseudonym directory", entry.DeidPath)
	}
	if !strings.HasSuffix(entry.DeidPath, "P001_"+entry.SOPInstanceUID+".dcm") {
		t.Fatalf("output filename %q does not follow pseudonym_instance pattern", entry.DeidPath)
	}

	out, err := dicom.ParseFile(entry.DeidPath, nil)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	for _, check := range []struct {
		tag  tag.Tag
		want string
	}{
		{tag.AccessionNumber, "P001"},
		{tag.PatientID, "P001"},
		{tag.PatientName, "P001"},
		{tag.StudyID, "P001"},
		{tag.PatientIdentityRemoved, "YES"},
		{tag.StudyInstanceUID, entry.StudyUID},
		{tag.SeriesInstanceUID, entry.SeriesUID},
		{tag.SOPInstanceUID, entry.SOPInstanceUID},
		{tag.Modality, "US"},
		{tag.MediaStorageSOPInstanceUID, entry.SOPInstanceUID},
		{tag.TransferSyntaxUID, "1.2.840.10008.1.2.1"},
	} {
		if got := stringAttribute(&out, check.tag); got != check.want {
			t.Errorf("%v = %q, want %q", check.tag, got, check.want)
		}
	}
	if got := stringAttribute(&out, tag.MediaStorageSOPClassUID); got != "1.2.840.10008.5.1.4.1.1.6.1" {
		t.Errorf("MediaStorageSOPClassUID = %q, want the SOP class, not an instance UID", got)
	}
	if got := stringAttribute(&out, tag.StudyInstanceUID); got == "1.2.840.99999.1.1" {
		t.Error("original StudyInstanceUID survived")
	}

	// The masked region is zero in the persisted pixels.
	vol, err := pixel.FromDataset(&out)
	if err != nil {
		t.Fatalf("decode output pixels: %v", err)
	}
	if got := vol.Frames[0].Samples[vol.SampleIndex(10, 10, 0)]; got != 0 {
		t.Errorf("masked sample = %d, want 0", got)
	}
	if got := vol.Frames[0].Samples[vol.SampleIndex(0, 0, 0)]; got != 900 {
		t.Errorf("unmasked sample = %d, want 900", got)
	}
}

func TestTransformFileUnknownAccession(t *testing.T) {
	inputRoot := t.TempDir()
	outputRoot := t.TempDir()
	path := dicomtest.WriteFile(t, inputRoot, "image.dcm", dicomtest.Object{Accession: "Z999"})

	tr, _, manifest := newTestTransformer(t, inputRoot, outputRoot, Roster{"A123": "P001"}, &ocrtest.Engine{}, pixel.ModeFull)

	err := tr.TransformFile(context.Background(), path)
	if !errors.Is(err, ErrUnknownAccession) {
		t.Fatalf("got %v, want ErrUnknownAccession", err)
	}
	if manifest.Len() != 0 {
		t.Fatalf("manifest has %d entries, want 0", manifest.Len())
	}
	entries, err := os.ReadDir(outputRoot)
	if err != nil {
		t.Fatalf("read output root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("output root not empty: %v", entries)
	}
}

func TestTransformFileRejectsNonDICOM(t *testing.T) {
	inputRoot := t.TempDir()
	path := filepath.Join(inputRoot, "notes.txt")
	if err := os.WriteFile(path, []byte("just text, no marker"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr, _, _ := newTestTransformer(t, inputRoot, t.TempDir(), Roster{}, &ocrtest.Engine{}, pixel.ModeFull)
	if err := tr.TransformFile(context.Background(), path); !errors.Is(err, ErrNotDICOM) {
		t.Fatalf("got %v, want ErrNotDICOM", err)
	}
}

func TestTransformTwoFilesShareStudyAndSeries(t *testing.T) {
	inputRoot := t.TempDir()
	outputRoot := t.TempDir()
	first := dicomtest.WriteFile(t, inputRoot, filepath.Join("ACC1", "a.dcm"), dicomtest.Object{
		Accession: "A123", SOPInstanceUID: "1.2.840.99999.1.10",
	})
	second := dicomtest.WriteFile(t, inputRoot, filepath.Join("ACC1", "b.dcm"), dicomtest.Object{
		Accession: "A123", SOPInstanceUID: "1.2.840.99999.1.11",
	})

	tr, _, manifest := newTestTransformer(t, inputRoot, outputRoot, Roster{"A123": "P001"}, &ocrtest.Engine{}, pixel.ModeFull)
	for _, path := range []string{first, second} {
		if err := tr.TransformFile(context.Background(), path); err != nil {
			t.Fatalf("TransformFile(%s): %v", path, err)
		}
	}

	entries := manifest.Entries()
	if len(entries) != 2 {
		t.Fatalf("manifest has %d entries, want 2", len(entries))
	}
	if entries[0].StudyUID != entries[1].StudyUID {
		t.Errorf("study UIDs differ: %q vs %q", entries[0].StudyUID, entries[1].StudyUID)
	}
	if entries[0].SeriesUID != entries[1].SeriesUID {
		t.Errorf("series UIDs differ: %q vs %q", entries[0].SeriesUID, entries[1].SeriesUID)
	}
	if entries[0].SOPInstanceUID == entries[1].SOPInstanceUID {
		t.Errorf("SOP instance UIDs must be distinct, both %q", entries[0].SOPInstanceUID)
	}
	if entries[0].DeidPath == entries[1].DeidPath {
		t.Errorf("output paths collide: %q", entries[0].DeidPath)
	}
}

func TestOutputPathTokensAreStable(t *testing.T) {
	inputRoot := filepath.Join(string(filepath.Separator), "in")
	outputRoot := filepath.Join(string(filepath.Separator), "out")
	identity := NewIdentityMapper(Roster{}, nil)
	tr := NewTransformer(inputRoot, outputRoot, identity, nil, nil, nil)

	deep := filepath.Join(inputRoot, "ACC1", "seriesA", "sweep2", "f.dcm")
	got1, err := tr.outputPath(deep, "P001", "9.9.1")
	if err != nil {
		t.Fatalf("outputPath: %v", err)
	}
	segments := strings.Split(strings.TrimPrefix(got1, outputRoot+string(filepath.Separator)), string(filepath.Separator))
	if len(segments) != 4 {
		t.Fatalf("got %d segments (%v), want 4", len(segments), segments)
	}
	if segments[0] != "P001" {
		t.Errorf("first segment = %q, want pseudonym", segments[0])
	}
	if segments[1] == "seriesA" || segments[2] == "sweep2" {
		t.Error("original directory names leaked into output path")
	}
	if segments[3] != "P001_9.9.1.dcm" {
		t.Errorf("filename = %q, want P001_9.9.1.dcm", segments[3])
	}

	// Same segment names map to the same tokens on a later file.
	got2, err := tr.outputPath(filepath.Join(inputRoot, "ACC2", "seriesA", "sweep2", "g.dcm"), "P002", "9.9.2")
	if err != nil {
		t.Fatalf("outputPath: %v", err)
	}
	second := strings.Split(strings.TrimPrefix(got2, outputRoot+string(filepath.Separator)), string(filepath.Separator))
	if second[1] != segments[1] || second[2] != segments[2] {
		t.Errorf("tokens not stable across calls: %v vs %v", second[1:3], segments[1:3])
	}

	// A file directly under the input root gets no token segments.
	flat, err := tr.outputPath(filepath.Join(inputRoot, "h.dcm"), "P003", "9.9.3")
	if err != nil {
		t.Fatalf("outputPath: %v", err)
	}
	if want := filepath.Join(outputRoot, "P003", "P003_9.9.3.dcm"); flat != want {
		t.Errorf("flat path = %q, want %q", flat, want)
	}
}

func TestSweepElements(t *testing.T) {
	borrowed, err := dicom.NewElement(tag.StationName, []string{"secret"})
	if err != nil {
		t.Fatal(err)
	}
	mk := func(tg tag.Tag, value interface{}) *dicom.Element {
		el, err := dicom.NewElement(tg, value)
		if err != nil {
			t.Fatalf("element %v: %v", tg, err)
		}
		return el
	}
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mk(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mk(tag.Modality, []string{"US"}),                             // keep
		mk(tag.PatientName, []string{"P001"}),                        // replace, already substituted
		mk(tag.InstitutionalDepartmentName, []string{"Radiology 3"}), // wipe
		mk(tag.Rows, []int{64}),                                      // keep
		{ // private, removed
			Tag:                    tag.Tag{Group: 0x0009, Element: 0x0010},
			RawValueRepresentation: "LO",
			Value:                  borrowed.Value,
		},
		{ // unknown even-group tag, removed
			Tag:                    tag.Tag{Group: 0x0AAA, Element: 0x0002},
			RawValueRepresentation: "LO",
			Value:                  borrowed.Value,
		},
	}}

	tr, _, _ := newTestTransformer(t, t.TempDir(), t.TempDir(), Roster{}, &ocrtest.Engine{}, pixel.ModeFull)
	stats := tr.sweepElements(&ds)

	if stats.Kept != 2 || stats.Replaced != 1 || stats.Wiped != 1 || stats.Removed != 2 {
		t.Fatalf("stats = %+v, want kept=2 replaced=1 wiped=1 removed=2", stats)
	}
	if _, err := ds.FindElementByTag(tag.Tag{Group: 0x0009, Element: 0x0010}); err == nil {
		t.Error("private element survived the sweep")
	}
	if got := stringAttribute(&ds, tag.Modality); got != "US" {
		t.Errorf("kept Modality = %q, want US", got)
	}
	wipedEl, err := ds.FindElementByTag(tag.InstitutionalDepartmentName)
	if err != nil {
		t.Fatal("wiped element was dropped, want empty value kept in place")
	}
	if values, ok := wipedEl.Value.GetValue().([]string); !ok || len(values) != 0 {
		t.Errorf("wiped value = %v, want empty", wipedEl.Value)
	}
}

func TestRebuildFileMeta(t *testing.T) {
	mk := func(tg tag.Tag, value interface{}) *dicom.Element {
		el, err := dicom.NewElement(tg, value)
		if err != nil {
			t.Fatalf("element %v: %v", tg, err)
		}
		return el
	}
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mk(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.4.70"}), // input was compressed
		mk(tag.MediaStorageSOPInstanceUID, []string{"1.2.840.99999.1.3"}),
		mk(tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.6.1"}),
	}}

	if err := rebuildFileMeta(&ds, "9.9.9"); err != nil {
		t.Fatalf("rebuildFileMeta: %v", err)
	}
	if got := stringAttribute(&ds, tag.TransferSyntaxUID); got != "1.2.840.10008.1.2.1" {
		t.Errorf("TransferSyntaxUID = %q, want Explicit VR Little Endian", got)
	}
	if got := stringAttribute(&ds, tag.MediaStorageSOPClassUID); got != "1.2.840.10008.5.1.4.1.1.6.1" {
		t.Errorf("MediaStorageSOPClassUID = %q, want SOP class mirror", got)
	}
	if got := stringAttribute(&ds, tag.MediaStorageSOPInstanceUID); got != "9.9.9" {
		t.Errorf("MediaStorageSOPInstanceUID = %q, want 9.9.9", got)
	}
	if got := stringAttribute(&ds, tag.ImplementationClassUID); got != OrgRootUID {
		t.Errorf("ImplementationClassUID = %q, want %q", got, OrgRootUID)
	}

	count := 0
	for _, el := range ds.Elements {
		if el.Tag == tag.TransferSyntaxUID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("TransferSyntaxUID appears %d times, want exactly once", count)
	}
}

func TestCheckMagic(t *testing.T) {
	dir := t.TempDir()

	real := dicomtest.WriteFile(t, dir, "real.dcm", dicomtest.Object{})
	if err := checkMagic(real); err != nil {
		t.Errorf("checkMagic on real file: %v", err)
	}

	short := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(short, []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := checkMagic(short); !errors.Is(err, ErrNotDICOM) {
		t.Errorf("short file: got %v, want ErrNotDICOM", err)
	}

	long := filepath.Join(dir, "long.bin")
	if err := os.WriteFile(long, make([]byte, 200), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := checkMagic(long); !errors.Is(err, ErrNotDICOM) {
		t.Errorf("unmarked file: got %v, want ErrNotDICOM", err)
	}
}
