// Package identity normalizes property identity and computes the stable
// hashes used for deduplication.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/stwalsh4118/parcelheat/internal/models"
)

// SyntheticPrefix marks parcel ids synthesized from name, county and address.
// Such ids are lower-trust than jurisdiction-assigned APNs.
const SyntheticPrefix = "SYN_"

// syntheticHashLen is the number of hex characters kept from the synthetic hash.
const syntheticHashLen = 16

var (
	// ErrEmptyParcelID is returned when a parcel id normalizes to nothing.
	ErrEmptyParcelID = errors.New("parcel id is empty")
	// ErrEmptyCounty is returned when a county name normalizes to nothing.
	ErrEmptyCounty = errors.New("county is empty")
)

// CountyNormalizer maps free-text county names to a canonical spelling.
type CountyNormalizer struct {
	known    map[string]string
	fallback string
}

// NewCountyNormalizer builds a normalizer over the canonical county names.
// Unrecognised input resolves to fallback.
func NewCountyNormalizer(canonical []string, fallback string) *CountyNormalizer {
	known := make(map[string]string, len(canonical))
	for _, name := range canonical {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		known[countyKey(name)] = name
	}
	fallback = strings.TrimSpace(fallback)
	if fallback != "" {
		known[countyKey(fallback)] = fallback
	}
	return &CountyNormalizer{known: known, fallback: fallback}
}

// Normalize returns the canonical county name. Matching is case-insensitive and
// ignores punctuation and a trailing "County" or "Parish".
func (n *CountyNormalizer) Normalize(county string) (string, error) {
	key := countyKey(county)
	if key == "" {
		if n.fallback == "" {
			return "", ErrEmptyCounty
		}
		return n.fallback, nil
	}
	if canonical, ok := n.known[key]; ok {
		return canonical, nil
	}
	if n.fallback == "" {
		return "", ErrEmptyCounty
	}
	return n.fallback, nil
}

// Known reports whether county matches a configured canonical name exactly
// (after key folding), without applying the fallback.
func (n *CountyNormalizer) Known(county string) bool {
	_, ok := n.known[countyKey(county)]
	return ok
}

func countyKey(county string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(county) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	if n := len(fields); n > 1 && (fields[n-1] == "county" || fields[n-1] == "parish") {
		fields = fields[:n-1]
	}
	return strings.Join(fields, " ")
}

// NormalizeParcelID upper-cases the id and strips whitespace and the
// separators counties format APNs with ("-", ".", "/").
func NormalizeParcelID(parcelID string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(parcelID) {
		if unicode.IsSpace(r) || r == '-' || r == '.' || r == '/' {
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "", ErrEmptyParcelID
	}
	return b.String(), nil
}

// IsSynthetic reports whether parcelID was produced by SyntheticParcelID.
func IsSynthetic(parcelID string) bool {
	return strings.HasPrefix(parcelID, SyntheticPrefix)
}

// SyntheticParcelID derives a stable pseudo-APN for sources without an
// authoritative parcel id. Inputs are normalized so formatting noise between
// pulls maps to the same id.
func SyntheticParcelID(ownerName, county, address string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		normalizeText(ownerName),
		normalizeText(county),
		normalizeText(address),
	}, "|")))
	return SyntheticPrefix + strings.ToUpper(hex.EncodeToString(sum[:]))[:syntheticHashLen]
}

// Fingerprint is the dedup key of a distress signal: SHA-256 over
// (parcel, county, event type, source). Timestamps and payload are excluded.
func Fingerprint(parcelID, county string, eventType models.EventType, source string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		parcelID,
		strings.ToLower(county),
		string(eventType),
		strings.ToLower(strings.TrimSpace(source)),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// normalizeText lower-cases s, drops punctuation and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
