// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/runpack/runpack/internal/checksum"
	"github.com/runpack/runpack/internal/registry"
	"github.com/runpack/runpack/internal/resolver"
)

// testCatalog returns a registry document with two python releases.
func testCatalog() *registry.Document {
	doc := registry.NewDocument()
	doc.SetEntry("python", registry.Entry{
		Version:     "1.3.2",
		Description: "CPython runtime",
		DownloadURL: "https://cdn.example.com/python-1.3.2.tar.gz",
		Checksum:    checksum.WithPrefix(checksum.Digest([]byte("python-1.3.2"))),
		Size:        1024,
		Platforms:   []string{"ubuntu-amd64"},
	})
	doc.SetEntry("python", registry.Entry{
		Version:     "1.4.0",
		Description: "CPython runtime",
		DownloadURL: "https://cdn.example.com/python-1.4.0.tar.gz",
		Checksum:    checksum.WithPrefix(checksum.Digest([]byte("python-1.4.0"))),
		Size:        2048,
		Platforms:   []string{"ubuntu-amd64"},
	})
	doc.UpdatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return doc
}

// writeRegistry writes a registry document to a temp file and returns its path.
func writeRegistry(t *testing.T, doc *registry.Document) string {
	t.Helper()

	data, err := doc.Bytes()
	if err != nil {
		t.Fatalf("encoding catalog: %v", err)
	}
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	return path
}

func TestRunResolve_LatestStyled(t *testing.T) {
	t.Parallel()

	source := writeRegistry(t, testCatalog())

	var stdout bytes.Buffer
	p := resolveParams{
		stdout: &stdout,
		source: source,
		logger: log.New(io.Discard),
		ttl:    time.Minute,
		name:   "python",
		spec:   resolver.LatestSpec,
	}

	if err := runResolve(context.Background(), p); err != nil {
		t.Fatalf("runResolve failed: %v", err)
	}

	out := stdout.String()
	for _, token := range []string{"python@1.4.0", "https://cdn.example.com/python-1.4.0.tar.gz", "2048 bytes", "ubuntu-amd64"} {
		if !strings.Contains(out, token) {
			t.Errorf("stdout %q does not contain %q", out, token)
		}
	}
}

func TestRunResolve_ExactVersionJSON(t *testing.T) {
	t.Parallel()

	source := writeRegistry(t, testCatalog())

	var stdout bytes.Buffer
	p := resolveParams{
		stdout:  &stdout,
		source:  source,
		logger:  log.New(io.Discard),
		ttl:     time.Minute,
		name:    "python",
		spec:    "1.3.2",
		jsonOut: true,
	}

	if err := runResolve(context.Background(), p); err != nil {
		t.Fatalf("runResolve failed: %v", err)
	}

	var entry registry.Entry
	if err := json.Unmarshal(stdout.Bytes(), &entry); err != nil {
		t.Fatalf("stdout is not valid entry JSON: %v\n%s", err, stdout.String())
	}
	if entry.Version != "1.3.2" {
		t.Errorf("Version = %q, want 1.3.2", entry.Version)
	}
	if entry.Size != 1024 {
		t.Errorf("Size = %d, want 1024", entry.Size)
	}
}

func TestRunResolve_UnknownRuntime(t *testing.T) {
	t.Parallel()

	source := writeRegistry(t, testCatalog())

	var stdout bytes.Buffer
	p := resolveParams{
		stdout: &stdout,
		source: source,
		logger: log.New(io.Discard),
		ttl:    time.Minute,
		name:   "ghost",
		spec:   resolver.LatestSpec,
	}

	err := runResolve(context.Background(), p)
	if !errors.Is(err, resolver.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
