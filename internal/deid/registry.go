// Package deid implements DICOM de-identification: tag disposition policy,
// identity mapping, per-file transformation, and the audit manifest.
package deid

import "strings"

// Disposition is the outcome assigned to one metadata element during the
// de-identification sweep.
type Disposition int

const (
	// DispositionKeep leaves the element untouched.
	DispositionKeep Disposition = iota
	// DispositionReplace overwrites the element with a pseudonymous value.
	// Replace targets are handled explicitly by the transformer and never
	// reach the generic sweep.
	DispositionReplace
	// DispositionWipe clears the element value in place.
	DispositionWipe
	// DispositionRemove drops the element from the dataset entirely.
	DispositionRemove
)

// String returns the disposition name.
func (d Disposition) String() string {
	switch d {
	case DispositionKeep:
		return "Keep"
	case DispositionReplace:
		return "Replace"
	case DispositionWipe:
		return "Wipe"
	case DispositionRemove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// replaceSet holds the normalized names of the identity-bearing fields the
// transformer overwrites. Replace wins over the keep-list for these names:
// SOPInstanceUID appears in both and must be substituted, not preserved.
var replaceSet = map[string]struct{}{
	"accessionnumber":            {},
	"patientid":                  {},
	"patientname":                {},
	"studyid":                    {},
	"patientidentityremoved":     {},
	"studyinstanceuid":           {},
	"seriesinstanceuid":          {},
	"sopinstanceuid":             {},
	"mediastoragesopinstanceuid": {},
}

// keepSet holds the normalized names of elements preserved verbatim:
// acquisition geometry, device parameters, and the structural attributes
// required to decode and display pixel data.
var keepSet = map[string]struct{}{
	// Pixel structure and encoding
	"rows":                      {},
	"columns":                   {},
	"bitsallocated":             {},
	"bitsstored":                {},
	"highbit":                   {},
	"pixelrepresentation":       {},
	"samplesperpixel":           {},
	"photometricinterpretation": {},
	"planarconfiguration":       {},
	"pixelaspectratio":          {},
	"numberofframes":            {},
	"pixeldata":                 {},
	"pixelspacing":              {},
	"imagerpixelspacing":        {},
	"lossyimagecompression":     {},

	// Display and intensity mapping
	"windowcenter":                  {},
	"windowwidth":                   {},
	"windowcenterwidthexplanation":  {},
	"rescaleintercept":              {},
	"rescaleslope":                  {},
	"rescaletype":                   {},
	"pixelintensityrelationship":    {},
	"pixelintensityrelationshipsign": {},
	"presentationlutshape":          {},

	// Geometry and orientation
	"imageorientation":           {},
	"imageorientationpatient":    {},
	"imageorientationslide":      {},
	"imageposition":              {},
	"imagepositionpatient":       {},
	"sourceorientation":          {},
	"sourceposition":             {},
	"slicelocation":              {},
	"slicethickness":             {},
	"spacingbetweenslices":       {},
	"patientposition":            {},
	"patientorientation":         {},
	"positionreferenceindicator": {},
	"frameofreferenceuid":        {},
	"laterality":                 {},
	"imagelaterality":            {},

	// Acquisition parameters
	"acquisitionmatrix":            {},
	"angioflag":                    {},
	"dbdt":                         {},
	"echonumbers":                  {},
	"echotime":                     {},
	"echotrainlength":              {},
	"flipangle":                    {},
	"imagingfrequency":             {},
	"inplanephaseencodingdirection": {},
	"inversiontime":                {},
	"magneticfieldstrength":        {},
	"mracquisitiontype":            {},
	"numberofaverages":             {},
	"numberofphaseencodingsteps":   {},
	"numberofslices":               {},
	"numberoftimeslices":           {},
	"percentphasefieldofview":      {},
	"percentsampling":              {},
	"pixelbandwidth":               {},
	"repetitiontime":               {},
	"sar":                          {},
	"scanningsequence":             {},
	"scanoptions":                  {},
	"sequencename":                 {},
	"sequencevariant":              {},
	"variableflipangleflag":        {},
	"exposureindex":                {},
	"targetexposureindex":          {},
	"deviationindex":               {},
	"relativexrayexposure":         {},
	"detectortype":                 {},
	"detectorconfiguration":        {},

	// Device and institution
	"manufacturer":          {},
	"manufacturermodelname": {},
	"deviceserialnumber":    {},
	"softwareversions":      {},
	"stationname":           {},
	"institutionname":       {},
	"institutionaddress":    {},
	"transducerdata":        {},

	// Structure, codes, and descriptions
	"modality":                       {},
	"imagetype":                      {},
	"instancenumber":                 {},
	"seriesnumber":                   {},
	"seriesdescription":              {},
	"studydescription":               {},
	"protocolname":                   {},
	"viewname":                       {},
	"bodypartexamined":               {},
	"burnedinannotation":             {},
	"specificcharacterset":           {},
	"sopclassuid":                    {},
	// SOPInstanceUID is also in the replace set; Classify checks the
	// replace set first so the substitution wins.
	"sopinstanceuid": {},
	"codemeaning":                    {},
	"codevalue":                      {},
	"longcodevalue":                  {},
	"urncodevalue":                   {},
	"codingschemedesignator":         {},
	"performedprocedurestepdescription": {},
	"requestedproceduredescription":  {},
	"fillerordernumberimagingservicerequest": {},
	"longitudinaltemporalinformationmodified": {},
	"deidentificationmethodcodesequence":      {},

	// Sequences preserved whole
	"anatomicregionsequence":                  {},
	"acquisitioncontextsequence":              {},
	"procedurecodesequence":                   {},
	"performedprotocolcodesequence":           {},
	"requestattributessequence":               {},
	"referencedperformedprocedurestepsequence": {},
	"sequenceofultrasoundregions":             {},
	"ultrasoundcolordatapresent":              {},
}

// NormalizeTagName lowercases a tag name and strips spaces so lookups are
// insensitive to keyword vs. display-name formatting.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
}

// Classify maps a raw element name to its disposition. Decision order:
// identity-bearing fields first (Replace), then the keep-list, then Wipe.
// The sweep escalates Wipe to Remove for private tags and elements whose
// value cannot be cleared.
func Classify(name string) Disposition {
	normalized := NormalizeTagName(name)
	if _, ok := replaceSet[normalized]; ok {
		return DispositionReplace
	}
	if _, ok := keepSet[normalized]; ok {
		return DispositionKeep
	}
	return DispositionWipe
}
