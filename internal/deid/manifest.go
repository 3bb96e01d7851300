package deid

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestEntry is one audit row: where a file came from, where its
// de-identified copy went, and the identity values that replaced the
// originals. Entries are appended after a file completes every processing
// step; a skipped file leaves no row.
type ManifestEntry struct {
	OriginalPath           string
	DeidPath               string
	OriginalAccession      string
	Pseudonym              string
	StudyUID               string
	SeriesUID              string
	SOPInstanceUID         string
	AccessionNumber        string
	PatientIdentityRemoved string
	PatientName            string
	StudyID                string
	PatientID              string
}

// manifestHeader matches the column layout consumed by downstream audit
// tooling. deid_accession is the pseudonym; the trailing columns record the
// final values written into the output dataset.
var manifestHeader = []string{
	"original_path",
	"deid_path",
	"original_accession",
	"deid_accession",
	"study_uid",
	"series_uid",
	"sop_instance_uid",
	"AccessionNumber",
	"PatientIdentityRemoved",
	"PatientName",
	"StudyID",
	"PatientID",
}

// ManifestRecorder accumulates entries in memory for the duration of a run
// and serializes them once at the end. Append-only: an entry is never
// mutated or removed after it is recorded.
type ManifestRecorder struct {
	entries []ManifestEntry
}

// NewManifestRecorder returns an empty recorder.
func NewManifestRecorder() *ManifestRecorder {
	return &ManifestRecorder{}
}

// Append records one completed file.
func (r *ManifestRecorder) Append(entry ManifestEntry) {
	r.entries = append(r.entries, entry)
}

// Len returns the number of recorded entries.
func (r *ManifestRecorder) Len() int {
	return len(r.entries)
}

// Entries returns a copy of the recorded entries in append order.
func (r *ManifestRecorder) Entries() []ManifestEntry {
	out := make([]ManifestEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// WriteCSV serializes the manifest to path, creating parent directories.
// The file is written even when no entries were recorded so an empty run
// still leaves an auditable (header-only) manifest.
func (r *ManifestRecorder) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create manifest directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	for _, e := range r.entries {
		record := []string{
			e.OriginalPath,
			e.DeidPath,
			e.OriginalAccession,
			e.Pseudonym,
			e.StudyUID,
			e.SeriesUID,
			e.SOPInstanceUID,
			e.AccessionNumber,
			e.PatientIdentityRemoved,
			e.PatientName,
			e.StudyID,
			e.PatientID,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write manifest row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}
