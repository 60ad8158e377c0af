package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

const (
	// tagPageSize is the fixed per_page value for tag listing requests.
	tagPageSize = 1000

	// maxTagPages bounds pagination. The tag endpoint signals
	// exhaustion with an empty page, but a feed that keeps returning
	// full pages without the requested version would otherwise page
	// forever.
	maxTagPages = 100
)

// gitHubFeed resolves owner/repo package ids against a GitHub-style
// REST API: tags are listed page by page until one parses to the
// requested version, then that tag's zipball is downloaded.
type gitHubFeed struct {
	def    Definition
	log    *telemetry.Logger
	client *http.Client
}

// tag is one element of the tag-listing response.
type tag struct {
	Name       string `json:"name"`
	ZipballURL string `json:"zipball_url"`
}

func (f *gitHubFeed) Type() string { return string(TypeGitHub) }

func (f *gitHubFeed) Fetch(ctx context.Context, req packages.FetchRequest, dst io.Writer, progress packages.ProgressFunc) (string, error) {
	owner, repo, err := splitOwnerRepo(req.PackageID)
	if err != nil {
		return "", err
	}

	zipballURL, err := f.findTag(ctx, owner, repo, req.Version)
	if err != nil {
		return "", err
	}

	f.log.WithPackage(req.PackageID, req.Version.String()).Debugf("downloading zipball from %s", zipballURL)
	if err := f.download(ctx, zipballURL, dst, progress); err != nil {
		return "", err
	}
	return ".zip", nil
}

// splitOwnerRepo splits a package id into owner and repository on the
// first separator. Both halves must be non-empty; this fails fast
// before any network request.
func splitOwnerRepo(packageID string) (string, string, error) {
	owner, repo, found := strings.Cut(packageID, "/")
	if !found || owner == "" || repo == "" {
		return "", "", packages.NewError(packages.KindInvalidPackageID,
			fmt.Sprintf("package id %q must take the form owner/repo", packageID), nil)
	}
	return owner, repo, nil
}

// findTag pages the tag-listing endpoint until a tag name parses to the
// requested version. An empty page means the feed is exhausted.
func (f *gitHubFeed) findTag(ctx context.Context, owner, repo string, version names.Version) (string, error) {
	for page := 1; page <= maxTagPages; page++ {
		tags, err := f.listTags(ctx, owner, repo, page)
		if err != nil {
			return "", err
		}
		if len(tags) == 0 {
			break
		}

		for _, t := range tags {
			tagVersion, err := names.ParseTagVersion(t.Name)
			if err != nil {
				// Not every tag is a release tag.
				continue
			}
			if tagVersion.Equal(version) {
				return t.ZipballURL, nil
			}
		}
	}

	return "", packages.NewError(packages.KindPackageNotFound,
		fmt.Sprintf("no tag of %s/%s matches version %s", owner, repo, version), nil).
		WithPackage(owner+"/"+repo, f.def.ID)
}

func (f *gitHubFeed) listTags(ctx context.Context, owner, repo string, page int) ([]tag, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/tags?page=%d&per_page=%d",
		strings.TrimSuffix(f.def.URI, "/"), owner, repo, page, tagPageSize)

	resp, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyResponse(resp); err != nil {
		return nil, err
	}

	var tags []tag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, packages.NewError(packages.KindTransientNetwork,
			"failed to decode tag listing", err)
	}
	return tags, nil
}

func (f *gitHubFeed) download(ctx context.Context, url string, dst io.Writer, progress packages.ProgressFunc) error {
	resp, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := classifyResponse(resp); err != nil {
		return err
	}

	pw := &progressWriter{dst: dst, total: resp.ContentLength, progress: progress}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		return packages.NewError(packages.KindTransientNetwork, "zipball transfer failed", err)
	}
	return nil
}

func (f *gitHubFeed) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, packages.NewError(packages.KindRequestRejected, "failed to build request", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if f.def.Credentials.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.def.Credentials.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, packages.NewError(packages.KindTransientNetwork, "request to feed failed", err)
	}
	return resp, nil
}

// classifyResponse maps HTTP status codes onto the error taxonomy.
// 401, 422 and quota-exhausted 403 are fatal; everything else
// unexpected is transient and left to the retry loop.
func classifyResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return packages.NewError(packages.KindAuthentication,
			"feed rejected the supplied credentials", nil)
	case resp.StatusCode == http.StatusForbidden:
		if wait, limited := rateLimitWait(resp, time.Now()); limited {
			return packages.NewError(packages.KindRateLimited,
				fmt.Sprintf("feed rate limit exhausted; resets in %s", wait.Round(time.Second)), nil).
				WithRetryAfter(wait)
		}
		return packages.NewError(packages.KindTransientNetwork,
			fmt.Sprintf("feed returned %s", resp.Status), nil)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return packages.NewError(packages.KindRequestRejected,
			"feed rejected the request as unprocessable", nil)
	default:
		return packages.NewError(packages.KindTransientNetwork,
			fmt.Sprintf("feed returned %s", resp.Status), nil)
	}
}

// rateLimitWait inspects the quota headers on a 403. When the remaining
// quota reads zero it computes how long until the reset epoch.
func rateLimitWait(resp *http.Response, now time.Time) (time.Duration, bool) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining != "0" {
		return 0, false
	}

	resetEpoch, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return 0, true
	}

	wait := time.Unix(resetEpoch, 0).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}
