package contract

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Latest is the version selector that resolves to the highest version.
const Latest = "latest"

// TypeRef is a parsed "<slug>@<version>" reference.
//
// An empty Version (bare slug) behaves like "latest".
type TypeRef struct {
	Slug    string
	Version string
}

// ParseTypeRef parses "slug@version" or a bare "slug".
func ParseTypeRef(ref string) (TypeRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return TypeRef{}, fmt.Errorf("empty type reference")
	}
	slug, version, found := strings.Cut(ref, "@")
	if slug == "" {
		return TypeRef{}, fmt.Errorf("type reference %q has no slug", ref)
	}
	if !found || version == "" || version == Latest {
		return TypeRef{Slug: slug, Version: ""}, nil
	}
	if _, err := semver.NewVersion(version); err != nil {
		return TypeRef{}, fmt.Errorf("type reference %q: invalid version: %w", ref, err)
	}
	return TypeRef{Slug: slug, Version: version}, nil
}

// MustParseTypeRef is like ParseTypeRef but panics on error.
// Use only for compile-time constants.
func MustParseTypeRef(ref string) TypeRef {
	r, err := ParseTypeRef(ref)
	if err != nil {
		panic(err)
	}
	return r
}

// IsLatest reports whether the reference selects the highest version.
func (r TypeRef) IsLatest() bool {
	return r.Version == ""
}

// String renders the reference; bare slugs render as "slug@latest".
func (r TypeRef) String() string {
	if r.IsLatest() {
		return r.Slug + "@" + Latest
	}
	return r.Slug + "@" + r.Version
}

// Matches reports whether a concrete contract version satisfies this
// reference. "1.0" and "1.0.0" are the same version.
func (r TypeRef) Matches(slug, version string) bool {
	if r.Slug != slug {
		return false
	}
	if r.IsLatest() {
		return true
	}
	return SameVersion(r.Version, version)
}

// SameVersion compares two semantic versions for equality, falling back to
// string equality when either fails to parse.
func SameVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb)
}

// HighestVersion returns the index of the highest semantic version in
// versions, or -1 if none parse.
func HighestVersion(versions []string) int {
	best := -1
	var bestV *semver.Version
	for i, s := range versions {
		v, err := semver.NewVersion(s)
		if err != nil {
			continue
		}
		if bestV == nil || v.GreaterThan(bestV) {
			best, bestV = i, v
		}
	}
	return best
}
