package deid

import "testing"

func testMapper() *IdentityMapper {
	roster := Roster{"A123": "P001", "B456": "P002"}
	return NewIdentityMapper(roster, NewUIDGenerator())
}

func TestPseudonymFor(t *testing.T) {
	m := testMapper()

	tests := []struct {
		name      string
		accession string
		want      string
		wantOK    bool
	}{
		{name: "known accession", accession: "A123", want: "P001", wantOK: true},
		{name: "second known accession", accession: "B456", want: "P002", wantOK: true},
		{name: "unknown accession", accession: "Z999", want: "", wantOK: false},
		{name: "empty accession", accession: "", want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.PseudonymFor(tt.accession)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("PseudonymFor(%q) = %q, %v; want %q, %v",
					tt.accession, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEnsureUIDPairStable(t *testing.T) {
	m := testMapper()

	first := m.EnsureUIDPair("P001")
	if first.StudyUID == "" || first.SeriesUID == "" {
		t.Fatalf("empty UID pair: %+v", first)
	}
	if first.StudyUID == first.SeriesUID {
		t.Fatalf("study and series UID must differ: %+v", first)
	}

	for i := 0; i < 10; i++ {
		if got := m.EnsureUIDPair("P001"); got != first {
			t.Fatalf("pair changed on call %d: %+v != %+v", i, got, first)
		}
	}

	other := m.EnsureUIDPair("P002")
	if other == first {
		t.Fatalf("distinct pseudonyms share a UID pair: %+v", other)
	}
}

func TestTokenForStablePerSegment(t *testing.T) {
	m := testMapper()

	a := m.TokenFor("series_axial")
	b := m.TokenFor("series_coronal")
	if a == b {
		t.Fatalf("distinct segments share token %q", a)
	}
	if again := m.TokenFor("series_axial"); again != a {
		t.Errorf("token changed between calls: %q != %q", again, a)
	}
}

func TestFreshInstanceUIDAlwaysNew(t *testing.T) {
	m := testMapper()
	pair := m.EnsureUIDPair("P001")

	seen := map[string]struct{}{
		pair.StudyUID:  {},
		pair.SeriesUID: {},
	}
	for i := 0; i < 1000; i++ {
		uid := m.FreshInstanceUID()
		if _, dup := seen[uid]; dup {
			t.Fatalf("FreshInstanceUID returned an already-allocated value: %s", uid)
		}
		seen[uid] = struct{}{}
	}
}
