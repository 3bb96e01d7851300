package tests

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/neheller/DICOM-DeID/internal/deid"
	"github.com/neheller/DICOM-DeID/internal/dicomtest"
	"github.com/neheller/DICOM-DeID/internal/ocr/ocrtest"
	"github.com/neheller/DICOM-DeID/internal/pixel"
)

// TestErrors_RunAborts covers the two conditions that stop a run before any
// file is touched: an unloadable roster and an unusable input root.
func TestErrors_RunAborts(t *testing.T) {
	valid := t.TempDir()
	roster := writeRoster(t, [][2]string{{"A100", "SUBJ01"}})
	notADir := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(notADir, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name   string
		input  string
		roster string
	}{
		{name: "missing_roster", input: valid, roster: filepath.Join(t.TempDir(), "absent.csv")},
		{name: "missing_input_root", input: filepath.Join(t.TempDir(), "absent"), roster: roster},
		{name: "input_root_is_file", input: notADir, roster: roster},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifestPath := filepath.Join(t.TempDir(), "manifest.csv")
			_, err := deid.Run(context.Background(), deid.RunOptions{
				InputRoot:    tt.input,
				OutputRoot:   t.TempDir(),
				RosterPath:   tt.roster,
				ManifestPath: manifestPath,
				Mode:         pixel.ModeSelective,
			}, &ocrtest.Engine{}, nil)
			if err == nil {
				t.Fatal("Run should fail")
			}
			// An aborted run must not leave a manifest behind.
			if _, statErr := os.Stat(manifestPath); !os.IsNotExist(statErr) {
				t.Errorf("manifest should not exist after abort, stat: %v", statErr)
			}
		})
	}

	t.Logf("✓ Abort conditions verified")
}

// TestErrors_FileSkipSentinels exercises each per-file skip condition
// directly through the transformer and checks the sentinel it wraps.
func TestErrors_FileSkipSentinels(t *testing.T) {
	inputDir := t.TempDir()
	identity := deid.NewIdentityMapper(deid.Roster{"A100": "SUBJ01"}, nil)
	redactor := pixel.NewRedactor(&ocrtest.Engine{}, pixel.ModeFull, nil, nil)
	tr := deid.NewTransformer(inputDir, t.TempDir(), identity, redactor, deid.NewManifestRecorder(), nil)

	short := filepath.Join(inputDir, "short.bin")
	if err := os.WriteFile(short, []byte("DICM"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	unmarked := filepath.Join(inputDir, "unmarked.bin")
	if err := os.WriteFile(unmarked, bytes.Repeat([]byte{0}, 200), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	// DICM marker in place but garbage after it.
	garbage := filepath.Join(inputDir, "garbage.bin")
	payload := bytes.Repeat([]byte{0}, 128)
	payload = append(payload, []byte("DICM")...)
	payload = append(payload, bytes.Repeat([]byte{0xFF}, 64)...)
	if err := os.WriteFile(garbage, payload, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	unknown := dicomtest.WriteFile(t, inputDir, "unknown.dcm", dicomtest.Object{Accession: "Z999"})
	noPixels := dicomtest.WriteFile(t, inputDir, "nopixels.dcm", dicomtest.Object{
		Accession:     "A100",
		OmitPixelData: true,
	})

	tests := []struct {
		name string
		path string
		want error
	}{
		{name: "too_short", path: short, want: deid.ErrNotDICOM},
		{name: "no_dicm_marker", path: unmarked, want: deid.ErrNotDICOM},
		{name: "unparseable_after_marker", path: garbage, want: deid.ErrNotDICOM},
		{name: "accession_not_in_roster", path: unknown, want: deid.ErrUnknownAccession},
		{name: "missing_pixel_data", path: noPixels, want: deid.ErrPixelDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.TransformFile(context.Background(), tt.path)
			if !errors.Is(err, tt.want) {
				t.Fatalf("TransformFile error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Logf("✓ Skip sentinels verified")
}

// TestErrors_EngineFailureIsolated checks that an OCR engine outage never
// fails a file: the frame is left unredacted and processing continues.
func TestErrors_EngineFailureIsolated(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.csv")

	dicomtest.WriteFile(t, inputDir, "scan.dcm", dicomtest.Object{Accession: "A100"})

	stats, err := deid.Run(context.Background(), deid.RunOptions{
		InputRoot:    inputDir,
		OutputRoot:   outputDir,
		RosterPath:   writeRoster(t, [][2]string{{"A100", "SUBJ01"}}),
		ManifestPath: manifestPath,
		Mode:         pixel.ModeFull,
	}, &ocrtest.Engine{Err: errors.New("engine offline")}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want the file processed despite engine failure", stats)
	}
	if outputs := findOutputs(t, outputDir); len(outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outputs))
	}

	t.Logf("✓ Engine failure isolation verified")
}
