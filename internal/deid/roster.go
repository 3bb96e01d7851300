package deid

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Roster maps original accession numbers to their assigned pseudonyms. It is
// loaded once before the run and read-only afterwards.
type Roster map[string]string

// Roster CSV column headers.
const (
	rosterAccessionColumn = "accession_num"
	rosterSubjectColumn   = "subject_id"
)

// LoadRoster reads the accession-to-subject CSV at path. Roster exports are
// Latin-1 encoded, so bytes are decoded through ISO 8859-1 before parsing.
// A duplicate accession keeps the last row's subject. Any failure here
// aborts the whole run; there is no per-file fallback without a roster.
func LoadRoster(path string) (Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	return parseRoster(charmap.ISO8859_1.NewDecoder().Reader(f))
}

func parseRoster(r io.Reader) (Roster, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}

	accessionIdx, subjectIdx := -1, -1
	for i, column := range header {
		switch strings.TrimSpace(strings.ToLower(column)) {
		case rosterAccessionColumn:
			accessionIdx = i
		case rosterSubjectColumn:
			subjectIdx = i
		}
	}
	if accessionIdx < 0 || subjectIdx < 0 {
		return nil, fmt.Errorf("roster header must contain %q and %q columns, got %v",
			rosterAccessionColumn, rosterSubjectColumn, header)
	}

	roster := make(Roster)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster line %d: %w", line, err)
		}
		if accessionIdx >= len(record) || subjectIdx >= len(record) {
			continue
		}
		accession := strings.TrimSpace(record[accessionIdx])
		subject := strings.TrimSpace(record[subjectIdx])
		if accession == "" || subject == "" {
			continue
		}
		roster[accession] = subject
	}

	if len(roster) == 0 {
		return nil, fmt.Errorf("roster contains no usable rows")
	}
	return roster, nil
}
