package update

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	apperrors "uplift/internal/errors"
)

// Version represents a parsed semantic version.
// The zero value sorts below every parsed version.
type Version struct {
	sv  *semver.Version
	raw string
}

// ParseVersion parses a semantic version string.
// Accepts versions with or without 'v' prefix (e.g., "1.2.3" or "v1.2.3").
// Partial versions such as "1.2" are rejected.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, apperrors.New(apperrors.CodeParse, "empty version string", nil)
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "v"), "V")
	sv, err := semver.StrictNewVersion(trimmed)
	if err != nil {
		return Version{}, apperrors.New(apperrors.CodeParse, "invalid version "+raw, err)
	}
	return Version{sv: sv, raw: raw}, nil
}

// MustParseVersion is like ParseVersion but panics on malformed input.
// Intended for constants and tests.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return v.sv == nil
}

// String returns the version without the 'v' prefix.
func (v Version) String() string {
	if v.sv == nil {
		return ""
	}
	return v.sv.String()
}

// Original returns the string the version was parsed from.
func (v Version) Original() string {
	return v.raw
}

// Major returns the major version number.
func (v Version) Major() uint64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Major()
}

// Minor returns the minor version number.
func (v Version) Minor() uint64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Minor()
}

// Patch returns the patch version number.
func (v Version) Patch() uint64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Patch()
}

// Prerelease returns the pre-release identifiers, or "" for a release.
func (v Version) Prerelease() string {
	if v.sv == nil {
		return ""
	}
	return v.sv.Prerelease()
}

// IsPrerelease reports whether the version carries pre-release identifiers.
func (v Version) IsPrerelease() bool {
	return v.Prerelease() != ""
}

// Compare compares two versions using semantic-versioning precedence.
// Returns:
//
//	-1 if a < b
//	 0 if a == b
//	 1 if a > b
//
// Build metadata is ignored.
func Compare(a, b Version) int {
	switch {
	case a.sv == nil && b.sv == nil:
		return 0
	case a.sv == nil:
		return -1
	case b.sv == nil:
		return 1
	}
	return a.sv.Compare(b.sv)
}

// IsNewer reports whether candidate sorts strictly after current.
func IsNewer(candidate, current Version) bool {
	return Compare(candidate, current) > 0
}

// LessThan returns true if v < other.
func (v Version) LessThan(other Version) bool {
	return Compare(v, other) < 0
}

// Equal returns true if v and other have the same precedence.
func (v Version) Equal(other Version) bool {
	return Compare(v, other) == 0
}
