package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// indexFeed queries a NuGet-like package index for an exact id+version
// and downloads the artifact URL the index returns.
type indexFeed struct {
	def    Definition
	log    *telemetry.Logger
	client *http.Client
}

// indexEntry is the package metadata returned by the index query.
type indexEntry struct {
	PackageID   string `json:"packageId"`
	Version     string `json:"version"`
	DownloadURL string `json:"downloadUrl"`
	Extension   string `json:"fileExtension"`
}

func (f *indexFeed) Type() string { return string(TypeIndex) }

func (f *indexFeed) Fetch(ctx context.Context, req packages.FetchRequest, dst io.Writer, progress packages.ProgressFunc) (string, error) {
	entry, err := f.query(ctx, req)
	if err != nil {
		return "", err
	}

	ext := entry.Extension
	if ext == "" {
		ext = ".nupkg"
	}

	f.log.WithPackage(req.PackageID, req.Version.String()).Debugf("downloading artifact from %s", entry.DownloadURL)
	if err := f.download(ctx, entry.DownloadURL, dst, progress); err != nil {
		return "", err
	}
	return ext, nil
}

// query asks the index for the exact id+version. 404 means the package
// is not on this feed, which is fatal rather than transient.
func (f *indexFeed) query(ctx context.Context, req packages.FetchRequest) (*indexEntry, error) {
	queryURL := fmt.Sprintf("%s/packages?id=%s&version=%s",
		strings.TrimSuffix(f.def.URI, "/"),
		url.QueryEscape(req.PackageID),
		url.QueryEscape(req.Version.String()))

	resp, err := f.get(ctx, queryURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, packages.NewError(packages.KindPackageNotFound,
			fmt.Sprintf("package %s %s not found on feed", req.PackageID, req.Version), nil).
			WithPackage(req.PackageID, f.def.ID)
	}
	if err := classifyResponse(resp); err != nil {
		return nil, err
	}

	var entry indexEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, packages.NewError(packages.KindTransientNetwork,
			"failed to decode package index response", err)
	}
	if entry.DownloadURL == "" {
		return nil, packages.NewError(packages.KindRequestRejected,
			"package index response carries no download URL", nil)
	}

	// The index answered for the right package; trust but verify.
	if entry.Version != "" {
		got, err := names.ParseVersion(entry.Version)
		if err != nil || !got.Equal(req.Version) {
			return nil, packages.NewError(packages.KindRequestRejected,
				fmt.Sprintf("package index returned version %q for requested %s", entry.Version, req.Version), err)
		}
	}

	return &entry, nil
}

func (f *indexFeed) download(ctx context.Context, downloadURL string, dst io.Writer, progress packages.ProgressFunc) error {
	resp, err := f.get(ctx, downloadURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := classifyResponse(resp); err != nil {
		return err
	}

	pw := &progressWriter{dst: dst, total: resp.ContentLength, progress: progress}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		return packages.NewError(packages.KindTransientNetwork, "artifact transfer failed", err)
	}
	return nil
}

func (f *indexFeed) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, packages.NewError(packages.KindRequestRejected, "failed to build request", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if f.def.Credentials.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.def.Credentials.Token)
	} else if f.def.Credentials.Username != "" {
		req.SetBasicAuth(f.def.Credentials.Username, f.def.Credentials.Password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, packages.NewError(packages.KindTransientNetwork, "request to feed failed", err)
	}
	return resp, nil
}
