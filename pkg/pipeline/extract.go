package pipeline

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/stevedore-deploy/stevedore/pkg/packages"
)

// FetcherFactory resolves a feed id to its fetch strategy. Wired from
// the configured feed definitions by the command layer.
type FetcherFactory func(feedID string) (packages.Fetcher, error)

// ExtractOptions carry the acquisition knobs the orchestrator passes
// per invocation.
type ExtractOptions struct {
	ForceDownload bool
	MaxAttempts   int
	Backoff       time.Duration
}

// ExtractConvention materializes the package via the cache/downloader
// and unpacks it into the staging directory under the working
// directory. The extraction path is surfaced as output variables for
// later conventions and the final journal write.
type ExtractConvention struct {
	resolver *packages.Resolver
	fetchers FetcherFactory
	opts     ExtractOptions
}

// NewExtractConvention builds the extraction step.
func NewExtractConvention(resolver *packages.Resolver, fetchers FetcherFactory, opts ExtractOptions) *ExtractConvention {
	return &ExtractConvention{resolver: resolver, fetchers: fetchers, opts: opts}
}

func (c *ExtractConvention) Name() string { return "extract-package" }

func (c *ExtractConvention) Install(ctx context.Context, dctx *DeploymentContext) (Result, error) {
	key, err := journalKeyFromVariables(dctx.Variables)
	if err != nil {
		return Continue, err
	}
	feedID, ok := dctx.Variables.Get(VarFeedID)
	if !ok || feedID == "" {
		return Continue, fmt.Errorf("variable %s is not set", VarFeedID)
	}

	fetcher, err := c.fetchers(feedID)
	if err != nil {
		return Continue, err
	}

	var lastPercent int
	pf, err := c.resolver.Resolve(ctx, packages.ResolveRequest{
		PackageID:     key.PackageID,
		Version:       key.Version,
		FeedID:        feedID,
		ForceDownload: c.opts.ForceDownload,
		MaxAttempts:   c.opts.MaxAttempts,
		Backoff:       c.opts.Backoff,
		Progress: func(transferred, total int64) {
			if total <= 0 {
				return
			}
			percent := int(transferred * 100 / total)
			if percent == lastPercent {
				return
			}
			lastPercent = percent
			_ = dctx.Emitter.Progress(percent, fmt.Sprintf("Downloading %s %s", key.PackageID, key.Version))
		},
	}, fetcher)
	if err != nil {
		return Continue, err
	}
	dctx.PackageFile = pf

	stagingDir := filepath.Join(dctx.WorkingDirectory, "staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return Continue, fmt.Errorf("failed to create staging directory: %w", err)
	}

	count, err := extractArchive(pf, stagingDir)
	if err != nil {
		return Continue, err
	}
	dctx.Log.WithPackage(key.PackageID, key.Version.String()).
		Infof("extracted %d entries to %s", count, stagingDir)

	if err := dctx.SetOutputVariable(VarInstallationDirectoryPath, stagingDir); err != nil {
		return Continue, err
	}
	if err := dctx.SetOutputVariable(VarOriginalPackageDirectoryPath, stagingDir); err != nil {
		return Continue, err
	}
	return Continue, nil
}

// extractArchive unpacks a resolved package into dir and returns the
// number of files written.
func extractArchive(pf *packages.PackageFile, dir string) (int, error) {
	switch pf.Extension {
	case ".zip", ".nupkg":
		return extractZip(pf.Path, dir)
	case ".tar.gz", ".tgz":
		return extractTarGz(pf.Path, dir)
	default:
		return 0, fmt.Errorf("cannot extract package with extension %s", pf.Extension)
	}
}

func extractZip(path, dir string) (int, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open package archive: %w", err)
	}
	defer reader.Close()

	count := 0
	for _, entry := range reader.File {
		if strings.HasSuffix(entry.Name, "/") {
			continue
		}
		target, err := safeJoin(dir, entry.Name)
		if err != nil {
			return count, err
		}

		src, err := entry.Open()
		if err != nil {
			return count, fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
		}
		err = writeEntry(target, src, entry.Mode())
		src.Close()
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func extractTarGz(path, dir string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open package archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	count := 0
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return count, err
		}
		if err := writeEntry(target, tr, hdr.FileInfo().Mode()); err != nil {
			return count, err
		}
		count++
	}
}

// safeJoin joins an archive entry name under dir, rejecting names that
// would escape it.
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %s escapes the extraction directory", name)
	}
	return target, nil
}

func writeEntry(target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}
	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return dst.Close()
}
