package deid

import (
	"math/big"

	"github.com/google/uuid"
)

// OrgRootUID is the organizational root under which every generated
// identifier lives.
const OrgRootUID = "1.3.6.1.4.1.11129.5.1"

// UIDGenerator allocates DICOM unique identifiers beneath OrgRootUID. The
// suffix is the decimal form of a random 128-bit value, which keeps the
// longest identifier at 61 characters, inside the 64-character UID limit.
// Allocated values are remembered so a repeat within one run is regenerated
// rather than returned twice. Not safe for concurrent use.
type UIDGenerator struct {
	root   string
	seen   map[string]struct{}
	suffix func() string
}

// NewUIDGenerator returns a generator rooted at OrgRootUID.
func NewUIDGenerator() *UIDGenerator {
	return &UIDGenerator{
		root:   OrgRootUID,
		seen:   make(map[string]struct{}),
		suffix: randomUIDSuffix,
	}
}

// Generate returns an identifier distinct from every identifier this
// generator has produced before.
func (g *UIDGenerator) Generate() string {
	for {
		uid := g.root + "." + g.suffix()
		if _, dup := g.seen[uid]; dup {
			continue
		}
		g.seen[uid] = struct{}{}
		return uid
	}
}

// randomUIDSuffix renders a version-4 UUID as one decimal UID component.
// big.Int never prints leading zeros, so the component is always valid.
func randomUIDSuffix() string {
	u := uuid.New()
	return new(big.Int).SetBytes(u[:]).String()
}
