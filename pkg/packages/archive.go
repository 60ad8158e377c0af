package packages

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// NormalizeResult reports what a de-nesting pass did. Warnings carry
// per-entry rewrite failures: a bad entry is skipped rather than
// aborting the whole rewrite, but the loss is surfaced, not swallowed.
type NormalizeResult struct {
	// Rewritten is true when the archive wrapped its contents in a
	// single synthetic top-level directory and was rewritten with that
	// segment stripped.
	Rewritten bool

	// Warnings describe entries that could not be rewritten and were
	// dropped from the normalized archive.
	Warnings []string
}

// NormalizeArchive rewrites a zip archive in place when every entry
// sits under one synthetic top-level directory, as GitHub's archive
// export produces. The leading path segment is stripped from every
// entry, directory entries are dropped, and each entry's compressed
// bytes are copied raw so compression is preserved without a
// re-deflate. Archives that are already root-relative are left
// untouched.
func NormalizeArchive(path string) (NormalizeResult, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return NormalizeResult{}, fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	prefix := syntheticRoot(reader.File)
	if prefix == "" {
		_ = reader.Close()
		return NormalizeResult{}, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".denest-*")
	if err != nil {
		_ = reader.Close()
		return NormalizeResult{}, fmt.Errorf("failed to create rewrite temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	result := NormalizeResult{Rewritten: true}
	writer := zip.NewWriter(tmp)

	for _, entry := range reader.File {
		name := strings.TrimPrefix(entry.Name, prefix)
		if name == "" || strings.HasSuffix(entry.Name, "/") {
			// The synthetic root itself, or a directory entry: dropped.
			continue
		}

		if err := copyEntryRaw(writer, entry, name); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("entry %s skipped: %v", entry.Name, err))
			continue
		}
	}

	if err := writer.Close(); err != nil {
		_ = reader.Close()
		_ = tmp.Close()
		return NormalizeResult{}, fmt.Errorf("failed to finalize rewritten archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = reader.Close()
		return NormalizeResult{}, fmt.Errorf("failed to close rewritten archive: %w", err)
	}
	if err := reader.Close(); err != nil {
		return NormalizeResult{}, fmt.Errorf("failed to close source archive: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return NormalizeResult{}, fmt.Errorf("failed to replace archive with rewritten copy: %w", err)
	}

	return result, nil
}

// copyEntryRaw writes one entry under a new name, transplanting the
// already-compressed bytes so the original compression method and
// checksums carry over.
func copyEntryRaw(writer *zip.Writer, entry *zip.File, name string) error {
	header := entry.FileHeader
	header.Name = name

	dst, err := writer.CreateRaw(&header)
	if err != nil {
		return err
	}

	src, err := entry.OpenRaw()
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return nil
}

// syntheticRoot returns the shared "dir/" prefix when every entry of
// the archive lives under exactly one top-level directory, or "" when
// the layout is already root-relative.
func syntheticRoot(entries []*zip.File) string {
	prefix := ""
	for _, entry := range entries {
		name := entry.Name
		if name == "" {
			return ""
		}
		i := strings.IndexByte(name, '/')
		if i <= 0 {
			// A top-level file: nothing synthetic about this layout.
			return ""
		}
		root := name[:i+1]
		if prefix == "" {
			prefix = root
		} else if prefix != root {
			return ""
		}
	}
	return prefix
}
