package feeds

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/stevedore-deploy/stevedore/pkg/names"
	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

// sftpFeed serves packages from a remote directory over SFTP. The feed
// URI takes the form sftp://host[:port]/path/to/packages; like the
// local file share, the remote directory holds cache-encoded names.
type sftpFeed struct {
	def Definition
	log *telemetry.Logger

	// KnownHostsPath defaults to the user's known_hosts; an empty host
	// key callback is never used.
	KnownHostsPath string
}

func (f *sftpFeed) Type() string { return string(TypeSFTP) }

func (f *sftpFeed) Fetch(ctx context.Context, req packages.FetchRequest, dst io.Writer, progress packages.ProgressFunc) (string, error) {
	host, root, err := f.parseURI()
	if err != nil {
		return "", err
	}

	client, closeAll, err := f.connect(host)
	if err != nil {
		return "", err
	}
	defer closeAll()

	want := names.PackageIdentity{PackageID: req.PackageID, Version: req.Version}

	entries, err := client.ReadDir(root)
	if err != nil {
		return "", packages.NewError(packages.KindTransientNetwork,
			fmt.Sprintf("failed to list %s on %s", root, host), err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		identity, ext, decodeErr := names.DecodeFileName(entry.Name())
		if decodeErr != nil || !identity.Matches(want) {
			continue
		}

		remotePath := root + "/" + entry.Name()
		f.log.WithPackage(req.PackageID, req.Version.String()).Debugf("downloading %s from %s", remotePath, host)

		src, err := client.Open(remotePath)
		if err != nil {
			return "", packages.NewError(packages.KindTransientNetwork,
				fmt.Sprintf("failed to open %s", remotePath), err)
		}
		defer src.Close()

		pw := &progressWriter{dst: dst, total: entry.Size(), progress: progress}
		if _, err := io.Copy(pw, src); err != nil {
			return "", packages.NewError(packages.KindTransientNetwork,
				fmt.Sprintf("transfer of %s failed", remotePath), err)
		}
		return ext, nil
	}

	return "", packages.NewError(packages.KindPackageNotFound,
		fmt.Sprintf("package %s %s not found on SFTP share", req.PackageID, req.Version), nil).
		WithPackage(req.PackageID, f.def.ID)
}

func (f *sftpFeed) parseURI() (host, root string, err error) {
	u, err := url.Parse(f.def.URI)
	if err != nil || u.Scheme != "sftp" || u.Host == "" || u.Path == "" {
		return "", "", packages.NewError(packages.KindRequestRejected,
			fmt.Sprintf("feed URI %q is not a valid sftp://host/path URI", f.def.URI), err)
	}
	host = u.Host
	if u.Port() == "" {
		host += ":22"
	}
	return host, u.Path, nil
}

// connect dials SSH and opens an SFTP session. Auth failures are
// classified fatal so the retry loop does not hammer the server.
func (f *sftpFeed) connect(host string) (*sftp.Client, func(), error) {
	clientConfig, err := f.buildClientConfig()
	if err != nil {
		return nil, nil, err
	}

	sshConn, err := ssh.Dial("tcp", host, clientConfig)
	if err != nil {
		kind := packages.KindTransientNetwork
		if _, isAuth := err.(*ssh.ServerAuthError); isAuth {
			kind = packages.KindAuthentication
		}
		return nil, nil, packages.NewError(kind,
			fmt.Sprintf("failed to connect to %s", host), err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return nil, nil, packages.NewError(packages.KindTransientNetwork,
			fmt.Sprintf("failed to open SFTP session on %s", host), err)
	}

	return client, func() {
		_ = client.Close()
		_ = sshConn.Close()
	}, nil
}

func (f *sftpFeed) buildClientConfig() (*ssh.ClientConfig, error) {
	creds := f.def.Credentials

	var authMethods []ssh.AuthMethod
	switch {
	case creds.PrivateKeyPEM != "":
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKeyPEM))
		if err != nil {
			return nil, packages.NewError(packages.KindAuthentication,
				"failed to parse SFTP private key", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	case creds.Password != "":
		authMethods = append(authMethods, ssh.Password(creds.Password))
	default:
		return nil, packages.NewError(packages.KindAuthentication,
			"SFTP feed requires a password or private key", nil)
	}

	hostKeyCallback, err := f.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}, nil
}

func (f *sftpFeed) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := f.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, packages.NewError(packages.KindAuthentication,
				"cannot locate known_hosts for SFTP host verification", err)
		}
		path = home + "/.ssh/known_hosts"
	}

	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, packages.NewError(packages.KindAuthentication,
			fmt.Sprintf("failed to load known_hosts from %s", path), err)
	}
	return callback, nil
}
