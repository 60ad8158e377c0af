package feeds

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevedore-deploy/stevedore/pkg/packages"
	"github.com/stevedore-deploy/stevedore/pkg/telemetry"
)

func TestFileShareFetch(t *testing.T) {
	share := t.TempDir()

	content := []byte("package-bytes")
	if err := os.WriteFile(filepath.Join(share, "Acme.Web@1.0.0.zip"), content, 0644); err != nil {
		t.Fatal(err)
	}
	// Noise the scan must skip without failing.
	if err := os.WriteFile(filepath.Join(share, "README.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := New(Definition{ID: "feeds-share", Type: TypeFileShare, URI: share}, telemetry.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var buf bytes.Buffer
	var lastTransferred, lastTotal int64
	ext, err := f.Fetch(context.Background(), requestFor(t, "acme.web", "1.0.0.0"), &buf,
		func(transferred, total int64) { lastTransferred, lastTotal = transferred, total })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if ext != ".zip" {
		t.Errorf("ext = %q, want .zip", ext)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Error("content mismatch")
	}
	if lastTransferred != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Errorf("progress = (%d, %d), want (%d, %d)", lastTransferred, lastTotal, len(content), len(content))
	}
}

func TestFileShareNotFound(t *testing.T) {
	f, err := New(Definition{ID: "feeds-share", Type: TypeFileShare, URI: t.TempDir()}, telemetry.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var buf bytes.Buffer
	_, err = f.Fetch(context.Background(), requestFor(t, "Acme.Web", "1.0.0"), &buf, nil)
	if packages.KindOf(err) != packages.KindPackageNotFound {
		t.Errorf("kind = %q, want package-not-found", packages.KindOf(err))
	}
}
