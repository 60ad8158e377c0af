package packages

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// Cache is the on-disk package cache, partitioned by feed id. File
// names are the deterministic encoding of (package id, version,
// extension), so the cache needs no auxiliary metadata: a lookup is a
// scan-and-decode, and a concurrent writer producing the same content
// under the same name is harmless.
type Cache struct {
	root string
	log  *telemetry.Logger
}

// NewCache creates a cache rooted at root.
func NewCache(root string, logger *telemetry.Logger) *Cache {
	return &Cache{
		root: root,
		log:  logger.NewComponentLogger("cache"),
	}
}

// Dir returns the cache directory for a feed, creating it if needed.
func (c *Cache) Dir(feedID string) (string, error) {
	dir := filepath.Join(c.root, feedID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return dir, nil
}

// Lookup scans the feed's cache directory recursively for a file whose
// name decodes to the wanted identity with any supported extension.
// First match wins. Undecodable names are logged and skipped, since a
// malformed cache entry must never fail the lookup. A nil return with
// nil error means a clean miss.
func (c *Cache) Lookup(feedID string, want names.PackageIdentity) (*PackageFile, error) {
	dir, err := c.Dir(feedID)
	if err != nil {
		return nil, err
	}

	var found *PackageFile
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if found != nil || d.IsDir() {
			return nil
		}

		identity, ext, decodeErr := names.DecodeFileName(d.Name())
		if decodeErr != nil {
			c.log.WithFeed(feedID).Debugf("skipping undecodable cache entry %s: %v", d.Name(), decodeErr)
			return nil
		}
		if !identity.Matches(want) {
			return nil
		}

		pf, hashErr := describe(path, identity, ext)
		if hashErr != nil {
			return hashErr
		}
		found = pf
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache for feed %s: %w", feedID, err)
	}

	return found, nil
}

// Place moves a fully written temporary file to its deterministic name
// inside the feed's cache directory. The rename is atomic on the same
// filesystem, so a concurrent reader never observes a partial entry;
// an existing entry with the same name is simply overwritten.
func (c *Cache) Place(feedID, tmpPath string, identity names.PackageIdentity, ext string) (*PackageFile, error) {
	dir, err := c.Dir(feedID)
	if err != nil {
		return nil, err
	}

	final := filepath.Join(dir, names.EncodeFileName(identity.PackageID, identity.Version, ext))
	if err := os.Rename(tmpPath, final); err != nil {
		return nil, fmt.Errorf("failed to place %s into cache: %w", final, err)
	}

	return describe(final, identity, ext)
}

// describe stats and hashes a cached file into its PackageFile record.
func describe(path string, identity names.PackageIdentity, ext string) (*PackageFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cached package %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat cached package %s: %w", path, err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("failed to hash cached package %s: %w", path, err)
	}

	return &PackageFile{
		Path:      path,
		Identity:  identity,
		Extension: ext,
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Size:      info.Size(),
	}, nil
}
