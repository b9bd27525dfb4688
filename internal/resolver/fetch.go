// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/runpack/runpack/internal/checksum"
	"github.com/runpack/runpack/internal/registry"
	"github.com/runpack/runpack/pkg/runtimedef"
)

// defaultMaxMemberSize is the upper bound on bytes extracted per archive
// member (4 GiB). Prevents decompression bombs.
const defaultMaxMemberSize = 4 << 30

// ErrUnsafeEntry is returned when an archive member would escape the
// extraction directory, via its path or a symlink target.
var ErrUnsafeEntry = errors.New("unsafe archive entry")

// Fetch downloads the entry's artifact into a temp file inside destDir,
// verifies its SHA-256 against entry.Checksum before anything else, then
// renames it to <name>-<version>.tar.gz and returns that path. A mismatch
// removes the download and fails; no partial or unverified artifact ever
// lands under its final name.
func (r *Resolver) Fetch(ctx context.Context, name string, entry registry.Entry, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination: %w", err)
	}

	tmpPath, err := r.downloadToTempFile(ctx, entry.DownloadURL, destDir)
	if err != nil {
		return "", err
	}

	if err := checksum.VerifyFile(tmpPath, entry.Checksum); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	finalPath := filepath.Join(destDir, runtimedef.ArchiveFilename(name, entry.Version))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("finalizing download: %w", err)
	}

	r.log.Info("artifact fetched",
		"runtime", name,
		"version", entry.Version,
		"archive", finalPath,
		"checksum", entry.Checksum)
	return finalPath, nil
}

// downloadToTempFile streams the artifact at rawURL into a temporary file in
// dir and returns its path. The caller removes the file when done.
func (r *Resolver) downloadToTempFile(ctx context.Context, rawURL, dir string) (_ string, err error) {
	body, err := r.openArtifact(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(dir, ".runpack-fetch-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if closeErr := tmp.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		// Best-effort removal of partially written temp file.
		_ = os.Remove(tmp.Name())
		return "", &FetchError{URL: rawURL, Err: err}
	}

	return tmp.Name(), nil
}

// openArtifact opens the artifact for reading, over HTTP or from a local
// path. Timed-out or partial downloads are discarded and retried from
// scratch by the underlying client, never resumed.
func (r *Resolver) openArtifact(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if !isHTTPSource(rawURL) {
		f, err := os.Open(localPath(rawURL))
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return resp.Body, nil
}

// Extract unpacks a verified tar.gz archive into destDir, which the
// extraction owns: any failure removes the partially-extracted tree. Member
// paths and symlink targets must stay inside destDir.
func (r *Resolver) Extract(ctx context.Context, archivePath, destDir string) (err error) {
	defer func() {
		if err != nil {
			_ = os.RemoveAll(destDir)
		}
	}()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return fmt.Errorf("reading tar entry: %w", nextErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		destPath := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !within(destDir, destPath) {
			return fmt.Errorf("archive member %q escapes destination: %w", hdr.Name, ErrUnsafeEntry)
		}

		mode := hdr.FileInfo().Mode().Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, mode); err != nil {
				return fmt.Errorf("creating directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", hdr.Name, err)
			}
			if err := r.extractFile(tr, destPath, mode, hdr.Name); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := r.extractSymlink(hdr, destPath, destDir); err != nil {
				return err
			}
		default:
			r.log.Warn("skipping unsupported archive entry",
				"name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	return nil
}

// extractFile copies one regular member to destPath, capped at the
// per-member size limit.
func (r *Resolver) extractFile(tr *tar.Reader, destPath string, mode os.FileMode, name string) (err error) {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", name, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(tr, r.maxMemberSize+1))
	if err != nil {
		return fmt.Errorf("extracting %s: %w", name, err)
	}
	if n > r.maxMemberSize {
		return fmt.Errorf("archive member %s exceeds the %d byte extraction cap", name, r.maxMemberSize)
	}
	return nil
}

// extractSymlink recreates a symlink member after rejecting absolute or
// escaping targets. The bundle relocates across filesystems, so only links
// that stay inside the extracted tree are trustworthy.
func (r *Resolver) extractSymlink(hdr *tar.Header, destPath, destDir string) error {
	if filepath.IsAbs(hdr.Linkname) {
		return fmt.Errorf("symlink %q has absolute target %q: %w", hdr.Name, hdr.Linkname, ErrUnsafeEntry)
	}
	resolved := filepath.Join(filepath.Dir(destPath), hdr.Linkname)
	if !within(destDir, resolved) {
		return fmt.Errorf("symlink %q target %q escapes destination: %w", hdr.Name, hdr.Linkname, ErrUnsafeEntry)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", hdr.Name, err)
	}
	if err := os.RemoveAll(destPath); err != nil {
		return fmt.Errorf("replacing %s: %w", hdr.Name, err)
	}
	if err := os.Symlink(hdr.Linkname, destPath); err != nil {
		return fmt.Errorf("creating symlink %s: %w", hdr.Name, err)
	}
	return nil
}

// Install resolves name at spec, fetches and verifies the artifact, and
// extracts the bundle tree into destDir. The intermediate archive is removed
// after a successful extraction.
func (r *Resolver) Install(ctx context.Context, name, spec, destDir string) (registry.Entry, error) {
	entry, err := r.Resolve(ctx, name, spec)
	if err != nil {
		return registry.Entry{}, err
	}

	archivePath, err := r.Fetch(ctx, name, entry, filepath.Dir(destDir))
	if err != nil {
		return registry.Entry{}, err
	}

	if err := r.Extract(ctx, archivePath, destDir); err != nil {
		_ = os.Remove(archivePath)
		return registry.Entry{}, err
	}
	_ = os.Remove(archivePath)

	r.log.Info("bundle installed",
		"runtime", name,
		"version", entry.Version,
		"dest", destDir)
	return entry, nil
}

// within reports whether candidate stays inside base after cleaning.
func within(base, candidate string) bool {
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
