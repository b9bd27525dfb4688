// SPDX-License-Identifier: MPL-2.0

// Package packager turns a finished bundle tree into a distributable release
// artifact: a tar.gz of the tree's contents plus a SHA-256 sidecar. The
// digest binds to the final archive bytes, never to logical content, because
// bit-for-bit tar reproducibility is not guaranteed across implementations.
package packager

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/runpack/runpack/internal/checksum"
	"github.com/runpack/runpack/pkg/runtimedef"
)

// ErrPackaging is the sentinel error wrapped by PackagingError.
var ErrPackaging = errors.New("archive packaging failed")

// excludedBasenames are cache directories (or stray files) that never belong
// in a release archive. Matching directories are pruned whole.
var excludedBasenames = map[string]bool{
	"__pycache__": true,
	".cache":      true,
}

// excludedSuffixes are bytecode and cache file endings that are build-time
// noise, not bundle contents, and must not affect the checksum.
var excludedSuffixes = []string{".pyc", ".pyo"}

type (
	// Artifact is the released output for one (name, version) pair.
	Artifact struct {
		Name        string
		Version     string
		ArchivePath string
		SidecarPath string
		// SHA256 is the hex digest of the final archive bytes.
		SHA256 string
		// Size is the archive size in bytes.
		Size int64
	}

	// PackagingError is returned when archiving, hashing, or finalizing an
	// artifact fails. It is fatal for the affected runtime.
	PackagingError struct {
		Runtime string
		Stage   string
		Err     error
	}

	// Packager writes release artifacts into a distribution directory.
	Packager struct {
		distDir string
		log     *log.Logger
	}
)

// Error implements the error interface.
func (e *PackagingError) Error() string {
	return fmt.Sprintf("runtime %s: %s: %v", e.Runtime, e.Stage, e.Err)
}

// Unwrap returns ErrPackaging so callers can use errors.Is for programmatic detection.
func (e *PackagingError) Unwrap() error { return ErrPackaging }

// Tag returns the artifact's release identifier in name@version form.
func (a *Artifact) Tag() string { return a.Name + "@" + a.Version }

// New creates a Packager that writes artifacts under distDir.
func New(distDir string, logger *log.Logger) *Packager {
	return &Packager{distDir: distDir, log: logger}
}

// Package archives the contents of root (no wrapper directory) into
// <distDir>/<name>-<version>.tar.gz, computes the archive's SHA-256, and
// writes the sidecar record. The archive is staged under a partial name and
// renamed only after the digest is computed, so a consumer-visible archive is
// always complete. Validation here must reject exactly what build-time
// validation rejects.
func (p *Packager) Package(ctx context.Context, def *runtimedef.Definition, root string) (*Artifact, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("definition rejected: %w", err)
	}

	archiveName := runtimedef.ArchiveFilename(def.Name, def.Version)
	archivePath := filepath.Join(p.distDir, archiveName)
	partialPath := filepath.Join(p.distDir, ".tmp-"+archiveName+".partial")

	if err := os.MkdirAll(p.distDir, 0o755); err != nil {
		return nil, &PackagingError{Runtime: def.Name, Stage: "create dist dir", Err: err}
	}

	if err := p.writeArchiveFile(ctx, partialPath, root); err != nil {
		_ = os.Remove(partialPath) // Best-effort cleanup of partial file
		return nil, &PackagingError{Runtime: def.Name, Stage: "write archive", Err: err}
	}

	digest, err := checksum.FileDigest(partialPath)
	if err != nil {
		_ = os.Remove(partialPath)
		return nil, &PackagingError{Runtime: def.Name, Stage: "compute digest", Err: err}
	}

	info, err := os.Stat(partialPath)
	if err != nil {
		_ = os.Remove(partialPath)
		return nil, &PackagingError{Runtime: def.Name, Stage: "stat archive", Err: err}
	}

	if err := os.Rename(partialPath, archivePath); err != nil {
		_ = os.Remove(partialPath)
		return nil, &PackagingError{Runtime: def.Name, Stage: "finalize archive", Err: err}
	}

	sidecarPath := filepath.Join(p.distDir, runtimedef.SidecarFilename(def.Name, def.Version))
	if err := checksum.WriteSidecar(sidecarPath, digest, archiveName); err != nil {
		return nil, &PackagingError{Runtime: def.Name, Stage: "write sidecar", Err: err}
	}

	p.log.Info("artifact packaged",
		"runtime", def.Name,
		"version", def.Version,
		"archive", archivePath,
		"sha256", digest,
		"size", info.Size())

	return &Artifact{
		Name:        def.Name,
		Version:     def.Version,
		ArchivePath: archivePath,
		SidecarPath: sidecarPath,
		SHA256:      digest,
		Size:        info.Size(),
	}, nil
}

// writeArchiveFile streams the tar.gz to path and fsyncs before closing so
// the digest step reads fully persisted bytes.
func (p *Packager) writeArchiveFile(ctx context.Context, path, root string) (err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := writeArchive(ctx, out, root); err != nil {
		return err
	}
	return out.Sync()
}

// writeArchive tars the contents of root into w. filepath.WalkDir visits
// entries in lexical order, so member order is deterministic for a given
// tree. Member names are /-separated and relative to root: extraction at the
// consumer's expected path recreates the layout with no renaming step.
func writeArchive(ctx context.Context, w io.Writer, root string) error {
	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		if excludedBasenames[d.Name()] {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && hasExcludedSuffix(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name = rel + "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}

		return nil
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = gzw.Close()
		return walkErr
	}

	if err := tw.Close(); err != nil {
		_ = gzw.Close()
		return err
	}
	return gzw.Close()
}

func hasExcludedSuffix(name string) bool {
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
