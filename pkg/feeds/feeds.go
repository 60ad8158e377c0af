// Package feeds implements the remote package source protocols: local
// file shares, SFTP shares, NuGet-like package indexes, and GitHub-style
// tag feeds. A feed locates and streams exactly one artifact per Fetch
// call; retry policy lives in the package resolver, not here.
package feeds

import (
	"io"
	"net/http"
	"time"

	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// Type identifies a feed protocol.
type Type string

const (
	TypeFileShare Type = "fileshare"
	TypeSFTP      Type = "sftp"
	TypeIndex     Type = "index"
	TypeGitHub    Type = "github"
)

// UserAgent identifies the agent on every feed request.
const UserAgent = "stevedore-agent (package acquisition; +https://github.com/stevedore-deploy/stevedore)"

// Credentials authenticate against a feed. Which fields apply depends
// on the feed type: Token for HTTP feeds, Username/Password or
// PrivateKeyPEM for SFTP.
type Credentials struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Token         string `yaml:"token"`
	PrivateKeyPEM string `yaml:"private_key_pem"`
}

// Definition describes a configured feed.
type Definition struct {
	ID          string      `yaml:"id" validate:"required"`
	Type        Type        `yaml:"type" validate:"required,oneof=fileshare sftp index github"`
	URI         string      `yaml:"uri" validate:"required"`
	Credentials Credentials `yaml:"credentials"`
}

// New builds the fetcher for a feed definition.
func New(def Definition, logger *telemetry.Logger) (packages.Fetcher, error) {
	log := logger.NewComponentLogger("feeds").WithFeed(def.ID)
	switch def.Type {
	case TypeFileShare:
		return &fileShareFeed{def: def, log: log}, nil
	case TypeSFTP:
		return &sftpFeed{def: def, log: log}, nil
	case TypeIndex:
		return &indexFeed{def: def, log: log, client: newHTTPClient()}, nil
	case TypeGitHub:
		return &gitHubFeed{def: def, log: log, client: newHTTPClient()}, nil
	default:
		return nil, packages.NewError(packages.KindRequestRejected,
			"unknown feed type "+string(def.Type), nil)
	}
}

// newHTTPClient builds the shared HTTP client. No overall request
// timeout is set: large artifact downloads are legitimately slow, and
// the dial/TLS bounds below keep a dead feed from hanging forever.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second
	return &http.Client{Transport: transport}
}

// progressWriter counts bytes through an io.Writer and reports them to
// a ProgressFunc.
type progressWriter struct {
	dst         io.Writer
	total       int64
	transferred int64
	progress    packages.ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.transferred += int64(n)
	if w.progress != nil && n > 0 {
		w.progress(w.transferred, w.total)
	}
	return n, err
}
