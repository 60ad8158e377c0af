package names

import (
	"fmt"
	"regexp"
	"strings"
)

// PackageIdentity identifies a package within a feed. IDs compare
// case-insensitively; versions compare under the versioning scheme.
type PackageIdentity struct {
	PackageID string
	Version   Version
}

// Matches reports whether two identities refer to the same package
// version. Never a raw string comparison.
func (p PackageIdentity) Matches(o PackageIdentity) bool {
	return strings.EqualFold(p.PackageID, o.PackageID) && p.Version.Equal(o.Version)
}

// SupportedExtensions lists the archive extensions the cache
// recognizes, longest-match first so ".tar.gz" wins over ".gz".
var SupportedExtensions = []string{".tar.gz", ".nupkg", ".zip", ".tgz"}

// packageIDPattern constrains package ids to characters that are safe
// in file names on every supported platform. The separator '@' used by
// the filename codec is deliberately excluded, which is what makes the
// encoding lossless.
var packageIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+([._-][A-Za-z0-9]+)*(/[A-Za-z0-9]+([._-][A-Za-z0-9]+)*)?$`)

// ValidPackageID reports whether id is a well-formed package id.
// A single '/' is permitted for owner/repo style ids.
func ValidPackageID(id string) bool {
	return packageIDPattern.MatchString(id)
}

// EncodeFileName produces the deterministic cache file name for a
// package. The '/' of owner/repo ids is flattened to '%' so the name
// stays a single path element; '%' is not a valid id character, so the
// mapping round-trips.
func EncodeFileName(id string, version Version, ext string) string {
	flat := strings.ReplaceAll(id, "/", "%")
	return fmt.Sprintf("%s@%s%s", flat, version.String(), ext)
}

// DecodeFileName parses a cache file name produced by EncodeFileName
// back into an identity and extension. It returns an error for any
// name that does not round-trip; callers scanning a cache directory
// skip such names rather than failing the lookup.
func DecodeFileName(name string) (PackageIdentity, string, error) {
	ext := ""
	for _, candidate := range SupportedExtensions {
		if strings.HasSuffix(name, candidate) {
			ext = candidate
			break
		}
	}
	if ext == "" {
		return PackageIdentity{}, "", fmt.Errorf("file name %q has no supported package extension", name)
	}

	stem := strings.TrimSuffix(name, ext)
	at := strings.IndexByte(stem, '@')
	if at <= 0 || at == len(stem)-1 {
		return PackageIdentity{}, "", fmt.Errorf("file name %q is not a cache-encoded package name", name)
	}

	id := strings.ReplaceAll(stem[:at], "%", "/")
	if !ValidPackageID(id) {
		return PackageIdentity{}, "", fmt.Errorf("file name %q decodes to invalid package id %q", name, id)
	}

	version, err := ParseVersion(stem[at+1:])
	if err != nil {
		return PackageIdentity{}, "", fmt.Errorf("file name %q has an unparsable version: %w", name, err)
	}

	return PackageIdentity{PackageID: id, Version: version}, ext, nil
}
