package feeds

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// fileShareFeed serves packages from a local or mounted directory. The
// share holds cache-encoded file names, so locating a package is a
// directory scan with the filename codec; undecodable names are
// skipped, matching the cache lookup discipline.
type fileShareFeed struct {
	def Definition
	log *telemetry.Logger
}

func (f *fileShareFeed) Type() string { return string(TypeFileShare) }

func (f *fileShareFeed) Fetch(ctx context.Context, req packages.FetchRequest, dst io.Writer, progress packages.ProgressFunc) (string, error) {
	want := names.PackageIdentity{PackageID: req.PackageID, Version: req.Version}

	var matchPath, matchExt string
	err := filepath.WalkDir(f.def.URI, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if matchPath != "" || d.IsDir() {
			return nil
		}
		identity, ext, decodeErr := names.DecodeFileName(d.Name())
		if decodeErr != nil {
			return nil
		}
		if identity.Matches(want) {
			matchPath, matchExt = path, ext
		}
		return nil
	})
	if err != nil {
		return "", packages.NewError(packages.KindTransientNetwork,
			fmt.Sprintf("failed to scan file share %s", f.def.URI), err)
	}
	if matchPath == "" {
		return "", packages.NewError(packages.KindPackageNotFound,
			fmt.Sprintf("package %s %s not found on file share", req.PackageID, req.Version), nil).
			WithPackage(req.PackageID, f.def.ID)
	}

	src, err := os.Open(matchPath)
	if err != nil {
		return "", packages.NewError(packages.KindTransientNetwork,
			fmt.Sprintf("failed to open %s", matchPath), err)
	}
	defer src.Close()

	var total int64
	if info, statErr := src.Stat(); statErr == nil {
		total = info.Size()
	}

	f.log.WithPackage(req.PackageID, req.Version.String()).Debugf("copying %s", matchPath)
	pw := &progressWriter{dst: dst, total: total, progress: progress}
	if _, err := io.Copy(pw, src); err != nil {
		return "", packages.NewError(packages.KindTransientNetwork,
			fmt.Sprintf("failed to copy %s", matchPath), err)
	}
	return matchExt, nil
}
