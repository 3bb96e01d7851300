package deid

// UIDPair ties every file of one pseudonym to a single study and series.
// A pair is allocated once, on first encounter, and never changes.
type UIDPair struct {
	StudyUID  string
	SeriesUID string
}

// IdentityMapper holds the accession roster and allocates the identifiers
// that must stay consistent across files: the per-pseudonym UID pair and the
// per-segment path tokens. All state is per run. Not safe for concurrent
// use.
type IdentityMapper struct {
	roster Roster
	uids   *UIDGenerator
	pairs  map[string]UIDPair
	tokens map[string]string
}

// NewIdentityMapper builds a mapper over a loaded roster.
func NewIdentityMapper(roster Roster, uids *UIDGenerator) *IdentityMapper {
	if uids == nil {
		uids = NewUIDGenerator()
	}
	return &IdentityMapper{
		roster: roster,
		uids:   uids,
		pairs:  make(map[string]UIDPair),
		tokens: make(map[string]string),
	}
}

// PseudonymFor looks the accession up in the roster. A miss means the file
// must be skipped, not the run aborted.
func (m *IdentityMapper) PseudonymFor(accession string) (string, bool) {
	pseudonym, ok := m.roster[accession]
	return pseudonym, ok
}

// EnsureUIDPair returns the pseudonym's UID pair, allocating it on first
// call. Later calls for the same pseudonym return the identical pair.
func (m *IdentityMapper) EnsureUIDPair(pseudonym string) UIDPair {
	if pair, ok := m.pairs[pseudonym]; ok {
		return pair
	}
	pair := UIDPair{
		StudyUID:  m.uids.Generate(),
		SeriesUID: m.uids.Generate(),
	}
	m.pairs[pseudonym] = pair
	return pair
}

// TokenFor returns the opaque token for a path segment, stable for the
// whole run: the same segment name always maps to the same token.
func (m *IdentityMapper) TokenFor(segment string) string {
	if token, ok := m.tokens[segment]; ok {
		return token
	}
	token := m.uids.Generate()
	m.tokens[segment] = token
	return token
}

// FreshInstanceUID allocates a new SOP instance identifier, distinct from
// every identifier handed out earlier in the run.
func (m *IdentityMapper) FreshInstanceUID() string {
	return m.uids.Generate()
}
