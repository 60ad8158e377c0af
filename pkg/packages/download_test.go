package packages

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// fakeFetcher scripts a sequence of Fetch outcomes: one error per
// attempt, then success writing content.
type fakeFetcher struct {
	failures []error
	content  string
	ext      string

	calls int
}

func (f *fakeFetcher) Type() string { return "fake" }

func (f *fakeFetcher) Fetch(_ context.Context, _ FetchRequest, dst io.Writer, progress ProgressFunc) (string, error) {
	f.calls++
	if f.calls <= len(f.failures) {
		return "", f.failures[f.calls-1]
	}
	if _, err := io.WriteString(dst, f.content); err != nil {
		return "", err
	}
	if progress != nil {
		progress(int64(len(f.content)), int64(len(f.content)))
	}
	return f.ext, nil
}

func newTestResolver(t *testing.T) (*Resolver, *Cache, *[]time.Duration) {
	t.Helper()
	cache := NewCache(t.TempDir(), telemetry.Nop())
	resolver := NewResolver(cache, telemetry.NewMetrics(telemetry.MetricsConfig{}), telemetry.Nop())

	var slept []time.Duration
	resolver.sleep = func(d time.Duration) { slept = append(slept, d) }
	resolver.freeSpace = func(string) (uint64, error) { return 1 << 40, nil }
	return resolver, cache, &slept
}

func TestResolveCacheHitSkipsFetch(t *testing.T) {
	resolver, cache, _ := newTestResolver(t)
	dir, err := cache.Dir("feed-a")
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	writeCacheFile(t, dir, "Acme.Web@1.0.0.zip", "cached")

	fetcher := &fakeFetcher{content: "fresh", ext: ".zip"}
	pf, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID: "Acme.Web",
		Version:   mustVersion(t, "1.0.0"),
		FeedID:    "feed-a",
	}, fetcher)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times on a cache hit, want 0", fetcher.calls)
	}
	data, err := os.ReadFile(pf.Path)
	if err != nil {
		t.Fatalf("reading resolved file: %v", err)
	}
	if string(data) != "cached" {
		t.Errorf("resolved content %q, want the cached copy", data)
	}
}

func TestResolveForceDownloadBypassesCache(t *testing.T) {
	resolver, cache, _ := newTestResolver(t)
	dir, err := cache.Dir("feed-a")
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	writeCacheFile(t, dir, "Acme.Web@1.0.0.nupkg", "stale")

	fetcher := &fakeFetcher{content: "fresh", ext: ".nupkg"}
	pf, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID:     "Acme.Web",
		Version:       mustVersion(t, "1.0.0"),
		FeedID:        "feed-a",
		ForceDownload: true,
	}, fetcher)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", fetcher.calls)
	}
	data, err := os.ReadFile(pf.Path)
	if err != nil {
		t.Fatalf("reading resolved file: %v", err)
	}
	if string(data) != "fresh" {
		t.Errorf("resolved content %q, force download must replace the cached copy", data)
	}
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	resolver, _, slept := newTestResolver(t)

	transient := NewError(KindTransientNetwork, "connection reset", nil)
	fetcher := &fakeFetcher{
		failures: []error{transient, transient, transient},
		content:  "fresh",
		ext:      ".nupkg",
	}

	pf, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID:   "Acme.Web",
		Version:     mustVersion(t, "1.0.0"),
		FeedID:      "feed-a",
		MaxAttempts: 5,
		Backoff:     250 * time.Millisecond,
	}, fetcher)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fetcher.calls != 4 {
		t.Errorf("fetcher called %d times, want 4 (three failures then success)", fetcher.calls)
	}
	// Backoff is slept exactly once per failed attempt that has a
	// successor, never after the final one.
	if len(*slept) != 3 {
		t.Fatalf("slept %d times, want 3", len(*slept))
	}
	for _, d := range *slept {
		if d != 250*time.Millisecond {
			t.Errorf("slept %v, want 250ms", d)
		}
	}
	if pf.Identity.PackageID != "Acme.Web" {
		t.Errorf("resolved identity %q", pf.Identity.PackageID)
	}
}

func TestResolveStopsOnFatalError(t *testing.T) {
	resolver, _, slept := newTestResolver(t)

	fatal := NewError(KindAuthentication, "bad credentials", nil)
	fetcher := &fakeFetcher{failures: []error{fatal}, content: "never", ext: ".nupkg"}

	_, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID:   "Acme.Web",
		Version:     mustVersion(t, "1.0.0"),
		FeedID:      "feed-a",
		MaxAttempts: 5,
		Backoff:     time.Second,
	}, fetcher)
	if err == nil {
		t.Fatal("expected the authentication failure to surface")
	}
	if KindOf(err) != KindAuthentication {
		t.Errorf("kind = %v, want authentication", KindOf(err))
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, a fatal error must not be retried", fetcher.calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %d times after a fatal error, want 0", len(*slept))
	}
}

func TestResolveExhaustionWrapsLastError(t *testing.T) {
	resolver, _, slept := newTestResolver(t)

	first := NewError(KindTransientNetwork, "timeout", nil)
	last := NewError(KindTransientNetwork, "connection refused", nil)
	fetcher := &fakeFetcher{failures: []error{first, first, last}}

	_, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID:   "Acme.Web",
		Version:     mustVersion(t, "1.0.0"),
		FeedID:      "feed-a",
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
	}, fetcher)
	if err == nil {
		t.Fatal("expected exhaustion to fail the resolve")
	}
	if KindOf(err) != KindDownloadExhausted {
		t.Errorf("kind = %v, want download-exhausted", KindOf(err))
	}
	if !errors.Is(err, last) {
		t.Error("exhaustion error must wrap the final attempt's failure")
	}
	if len(*slept) != 2 {
		t.Errorf("slept %d times, want 2 (between three attempts)", len(*slept))
	}
}

func TestResolveNormalizesDownloadedZip(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	// A fetcher that serves a GitHub-style archive with a synthetic
	// top-level directory.
	src := filepath.Join(t.TempDir(), "src.zip")
	buildZip(t, src, map[string]string{
		"acme-web-1.0.0/app.dll": "binary",
	})
	raw, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("reading source archive: %v", err)
	}

	fetcher := &fakeFetcher{content: string(raw), ext: ".zip"}
	pf, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID: "Acme.Web",
		Version:   mustVersion(t, "1.0.0"),
		FeedID:    "feed-a",
	}, fetcher)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := readZip(t, pf.Path)
	if _, ok := got["app.dll"]; !ok {
		t.Fatalf("cached archive entries = %v, want the synthetic root stripped", got)
	}
}

func TestResolveRefusesWhenDiskIsFull(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	resolver.freeSpace = func(string) (uint64, error) { return 1024, nil }

	fetcher := &fakeFetcher{content: "fresh", ext: ".zip"}
	_, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID: "Acme.Web",
		Version:   mustVersion(t, "1.0.0"),
		FeedID:    "feed-a",
	}, fetcher)
	if err == nil {
		t.Fatal("expected a disk space failure")
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times, the disk check must run first", fetcher.calls)
	}
}

func TestResolveProgressReachesCaller(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	var transferred int64
	fetcher := &fakeFetcher{content: "fresh", ext: ".nupkg"}
	_, err := resolver.Resolve(context.Background(), ResolveRequest{
		PackageID: "Acme.Web",
		Version:   mustVersion(t, "1.0.0"),
		FeedID:    "feed-a",
		Progress: func(n, _ int64) {
			transferred = n
		},
	}, fetcher)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if transferred != int64(len("fresh")) {
		t.Errorf("progress reported %d bytes, want %d", transferred, len("fresh"))
	}
}
