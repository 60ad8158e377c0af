package packages

import (
	"context"
	"io"

	"github.com/stevedore-deploy/stevedore/pkg/names"
)

// PackageFile is a resolved local package: the cache path, the identity
// decoded from its deterministic file name, and the content hash.
type PackageFile struct {
	Path      string
	Identity  names.PackageIdentity
	Extension string

	// Hash is the hex-encoded SHA-256 of the file content.
	Hash string

	Size int64
}

// FetchRequest identifies the package a feed must locate.
type FetchRequest struct {
	PackageID string
	Version   names.Version
}

// ProgressFunc receives per-chunk transfer progress. total is zero when
// the feed does not report a content length.
type ProgressFunc func(transferred, total int64)

// Fetcher is one feed protocol. A Fetch call is a single download
// attempt: it locates the package on the feed, streams the artifact to
// dst and returns its file extension. Failures are classified (see
// ErrorKind) so the resolver's retry loop can tell transient from
// fatal. Implementations live in pkg/feeds.
type Fetcher interface {
	Type() string
	Fetch(ctx context.Context, req FetchRequest, dst io.Writer, progress ProgressFunc) (ext string, err error)
}
