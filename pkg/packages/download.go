package packages

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// DefaultMinFreeBytes is the free disk space required below the cache
// root before a download is attempted.
const DefaultMinFreeBytes = 500 * 1024 * 1024

// ResolveRequest carries everything Resolve needs for one package.
type ResolveRequest struct {
	PackageID string
	Version   names.Version
	FeedID    string

	// ForceDownload bypasses the cache lookup and always fetches.
	ForceDownload bool

	// MaxAttempts bounds the download retry loop; zero means one
	// attempt. Backoff is slept between consecutive attempts.
	MaxAttempts int
	Backoff     time.Duration

	// Progress, when set, receives per-chunk transfer progress.
	Progress ProgressFunc
}

// Resolver materializes packages: cache hit or feed fetch with bounded
// retry, archive normalization and atomic cache placement.
type Resolver struct {
	cache   *Cache
	metrics *telemetry.Metrics
	log     *telemetry.Logger

	// minFreeBytes below the cache root aborts before fetching.
	minFreeBytes uint64

	// sleep and freeSpace are seams for tests; production uses
	// time.Sleep and a statfs of the cache directory.
	sleep     func(time.Duration)
	freeSpace func(dir string) (uint64, error)
}

// NewResolver creates a resolver over the given cache.
func NewResolver(cache *Cache, metrics *telemetry.Metrics, logger *telemetry.Logger) *Resolver {
	return &Resolver{
		cache:        cache,
		metrics:      metrics,
		log:          logger.NewComponentLogger("resolver"),
		minFreeBytes: DefaultMinFreeBytes,
		sleep:        time.Sleep,
		freeSpace:    freeDiskSpace,
	}
}

// SetMinFreeBytes overrides the free disk space floor; zero keeps the
// default.
func (r *Resolver) SetMinFreeBytes(n uint64) {
	if n > 0 {
		r.minFreeBytes = n
	}
}

// Resolve returns the local file for the requested package: from the
// cache when possible, otherwise fetched from the feed. The returned
// file always lives under the feed's cache directory with its
// deterministic name.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest, fetcher Fetcher) (*PackageFile, error) {
	want := names.PackageIdentity{PackageID: req.PackageID, Version: req.Version}
	log := r.log.WithFeed(req.FeedID).WithPackage(req.PackageID, req.Version.String())

	if !req.ForceDownload {
		hit, err := r.cache.Lookup(req.FeedID, want)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			r.metrics.CacheHit(req.FeedID)
			log.Infof("package found in cache at %s", hit.Path)
			return hit, nil
		}
	}
	r.metrics.CacheMiss(req.FeedID)

	dir, err := r.cache.Dir(req.FeedID)
	if err != nil {
		return nil, err
	}
	if err := r.checkFreeSpace(dir); err != nil {
		return nil, err
	}

	tmpPath, ext, err := r.fetchWithRetry(ctx, req, fetcher, dir, log)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	if ext == ".zip" {
		result, err := NormalizeArchive(tmpPath)
		if err != nil {
			return nil, NewError(KindArchiveEntry, "failed to normalize downloaded archive", err).
				WithPackage(req.PackageID, req.FeedID)
		}
		if result.Rewritten {
			log.Debug("stripped synthetic top-level directory from archive")
		}
		for _, warning := range result.Warnings {
			log.Warnf("archive normalization: %s", warning)
		}
	}

	pf, err := r.cache.Place(req.FeedID, tmpPath, want, ext)
	if err != nil {
		return nil, err
	}
	log.Infof("package cached at %s", pf.Path)
	return pf, nil
}

// fetchWithRetry runs the bounded retry loop: each attempt streams into
// a fresh temp file in the cache directory, transient failures sleep
// the backoff and try again, fatal classifications escalate
// immediately. Exhaustion wraps the last failure.
func (r *Resolver) fetchWithRetry(ctx context.Context, req ResolveRequest, fetcher Fetcher, dir string, log *telemetry.Logger) (string, string, error) {
	attempts := req.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		r.metrics.DownloadAttempt(fetcher.Type(), attempt)

		tmpPath, ext, err := r.fetchOnce(ctx, req, fetcher, dir)
		if err == nil {
			if fi, statErr := os.Stat(tmpPath); statErr == nil {
				r.metrics.DownloadedBytes(fetcher.Type(), fi.Size())
			}
			return tmpPath, ext, nil
		}

		if !IsTransient(err) {
			r.metrics.DownloadFailed(fetcher.Type())
			return "", "", err
		}

		lastErr = err
		log.WithError(err).Warnf("download attempt %d/%d failed", attempt, attempts)

		if attempt < attempts {
			r.sleep(req.Backoff)
		}
	}

	r.metrics.DownloadFailed(fetcher.Type())
	return "", "", NewError(KindDownloadExhausted,
		fmt.Sprintf("all %d download attempts failed", attempts), lastErr).
		WithPackage(req.PackageID, req.FeedID)
}

// fetchOnce performs a single attempt into a temp file. The temp file
// lives in the cache directory so the final placement is a same-
// filesystem atomic rename.
func (r *Resolver) fetchOnce(ctx context.Context, req ResolveRequest, fetcher Fetcher, dir string) (string, string, error) {
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create download temp file: %w", err)
	}
	tmpPath := tmp.Name()

	ext, err := fetcher.Fetch(ctx, FetchRequest{PackageID: req.PackageID, Version: req.Version}, tmp, req.Progress)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", "", err
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", "", fmt.Errorf("failed to sync downloaded package: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", fmt.Errorf("failed to close downloaded package: %w", err)
	}

	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return tmpPath, ext, nil
}

func (r *Resolver) checkFreeSpace(dir string) error {
	free, err := r.freeSpace(dir)
	if err != nil {
		// Statfs failing is no reason to refuse a deployment.
		r.log.WithError(err).Warn("could not determine free disk space")
		return nil
	}
	if free < r.minFreeBytes {
		return fmt.Errorf("insufficient disk space under %s: %d bytes free, %d required", dir, free, r.minFreeBytes)
	}
	return nil
}
