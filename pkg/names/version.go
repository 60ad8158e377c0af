// Package names provides the package identity codec: NuGet-style
// four-segment semantic versions and the deterministic, lossless
// encoding of (package id, version, extension) into cache file names.
package names

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a four-segment semantic version (major.minor.patch.revision)
// with an optional prerelease tag, matching NuGet-style versioning.
// Missing segments are zero, so "1.0", "1.0.0" and "1.0.0.0" compare equal.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Revision   int
	Prerelease string
}

// ParseVersion parses a version string such as "1.2.3", "1.2.3.4" or
// "2.0.0-beta.1". A leading "v" or "V" is not accepted here; callers
// that deal with tag names strip it first (see ParseTagVersion).
func ParseVersion(s string) (Version, error) {
	var v Version
	if s == "" {
		return v, fmt.Errorf("empty version string")
	}

	numeric := s
	if i := strings.IndexByte(s, '-'); i >= 0 {
		numeric = s[:i]
		v.Prerelease = s[i+1:]
		if v.Prerelease == "" {
			return Version{}, fmt.Errorf("version %q has an empty prerelease tag", s)
		}
	}

	parts := strings.Split(numeric, ".")
	if len(parts) > 4 {
		return Version{}, fmt.Errorf("version %q has more than four segments", s)
	}

	segments := [4]int{}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || (len(part) > 1 && part[0] == '0') {
			return Version{}, fmt.Errorf("version %q has an invalid segment %q", s, part)
		}
		segments[i] = n
	}

	v.Major, v.Minor, v.Patch, v.Revision = segments[0], segments[1], segments[2], segments[3]
	return v, nil
}

// ParseTagVersion parses a VCS tag name as a version, tolerating a
// single leading "v" or "V" (the common convention for release tags).
func ParseTagVersion(tag string) (Version, error) {
	if len(tag) > 0 && (tag[0] == 'v' || tag[0] == 'V') {
		tag = tag[1:]
	}
	return ParseVersion(tag)
}

// String formats the version. Trailing zero revision is omitted so the
// canonical form of "1.2.3.0" is "1.2.3"; major.minor.patch are always
// printed.
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Revision != 0 {
		fmt.Fprintf(&b, ".%d", v.Revision)
	}
	if v.Prerelease != "" {
		b.WriteByte('-')
		b.WriteString(v.Prerelease)
	}
	return b.String()
}

// Compare returns -1, 0 or 1. Numeric segments are compared first; a
// release version sorts after any prerelease of the same numeric
// version, and prerelease tags compare per semver (dot-separated
// identifiers, numeric identifiers compared numerically).
func (v Version) Compare(o Version) int {
	for _, pair := range [][2]int{
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Patch, o.Patch},
		{v.Revision, o.Revision},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	return comparePrerelease(v.Prerelease, o.Prerelease)
}

// Equal reports version equality under the versioning scheme, never
// string equality: "1.0" and "1.0.0.0" are equal.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

func comparePrerelease(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "": // release > prerelease
		return 1
	case b == "":
		return -1
	}

	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		switch {
		case aerr == nil && berr == nil:
			if an < bn {
				return -1
			}
			return 1
		case aerr == nil: // numeric identifiers sort before alphanumeric
			return -1
		case berr == nil:
			return 1
		default:
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}
	if len(as) < len(bs) {
		return -1
	}
	return 1
}
