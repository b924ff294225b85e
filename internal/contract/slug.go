package contract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	slugValid   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// MaxSlugLength bounds generated slugs.
const MaxSlugLength = 128

// Slugify lowercases s, folds accents to their base letters and collapses
// every other run of characters into a single dash.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	slug := slugInvalid.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(slug, "-")
}

// DeterministicSlug slugifies raw and appends a short digest of the raw
// input, so two inputs that slugify identically ("a b" and "a-b") still get
// distinct slugs while the same input always yields the same slug.
func DeterministicSlug(raw string) string {
	digest := hashWithDomain(DomainSlugSalt, []byte(raw))[:8]
	base := Slugify(raw)
	if max := MaxSlugLength - len(digest) - 1; len(base) > max {
		base = strings.TrimRight(base[:max], "-")
	}
	if base == "" {
		return digest
	}
	return base + "-" + digest
}

// ValidSlug reports whether s is a well-formed slug.
func ValidSlug(s string) bool {
	return len(s) <= MaxSlugLength && slugValid.MatchString(s)
}

// ExecuteSlug is the deterministic slug of the execute event for a request.
// Its uniqueness makes a second execution of the same request fail.
func ExecuteSlug(requestID string) string {
	return "execute-" + requestID
}
