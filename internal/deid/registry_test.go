package deid

import "testing"

func TestNormalizeTagName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "keyword form", input: "PatientID", want: "patientid"},
		{name: "display name with spaces", input: "Specific Character Set", want: "specificcharacterset"},
		{name: "surrounding whitespace", input: "  Rows ", want: "rows"},
		{name: "already normalized", input: "pixeldata", want: "pixeldata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTagName(tt.input); got != tt.want {
				t.Errorf("NormalizeTagName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Disposition
	}{
		{name: "accession is replaced", input: "AccessionNumber", want: DispositionReplace},
		{name: "patient name is replaced", input: "PatientName", want: DispositionReplace},
		{name: "study uid is replaced", input: "StudyInstanceUID", want: DispositionReplace},
		{name: "media storage sop uid is replaced", input: "MediaStorageSOPInstanceUID", want: DispositionReplace},
		{name: "rows kept", input: "Rows", want: DispositionKeep},
		{name: "pixel data kept", input: "PixelData", want: DispositionKeep},
		{name: "modality kept", input: "Modality", want: DispositionKeep},
		{name: "echo time kept", input: "EchoTime", want: DispositionKeep},
		{name: "display-name lookup kept", input: "Bits Allocated", want: DispositionKeep},
		{name: "patient birth date wiped", input: "PatientBirthDate", want: DispositionWipe},
		{name: "referring physician wiped", input: "ReferringPhysicianName", want: DispositionWipe},
		{name: "unknown name wiped", input: "SomeVendorField", want: DispositionWipe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.input); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// SOPInstanceUID appears in both the keep-list and the replace set; the
// substitution must win or original instance identifiers would survive.
func TestClassifyReplaceWinsOverKeep(t *testing.T) {
	if got := Classify("SOPInstanceUID"); got != DispositionReplace {
		t.Fatalf("Classify(SOPInstanceUID) = %v, want %v", got, DispositionReplace)
	}
	if _, inKeep := keepSet["sopinstanceuid"]; !inKeep {
		t.Log("keep-list no longer shadows SOPInstanceUID; overlap guard is vestigial")
	}
}

func TestDispositionString(t *testing.T) {
	tests := []struct {
		d    Disposition
		want string
	}{
		{DispositionKeep, "Keep"},
		{DispositionReplace, "Replace"},
		{DispositionWipe, "Wipe"},
		{DispositionRemove, "Remove"},
		{Disposition(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("Disposition(%d).String() = %q, want %q", int(tt.d), got, tt.want)
		}
	}
}
