// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/runpack/runpack/internal/registry"
	"github.com/runpack/runpack/pkg/semver"
)

func testCatalog() *registry.Document {
	doc := registry.NewDocument()
	for _, version := range []string{"1.3.1", "1.3.2", "1.4.0"} {
		doc.SetEntry("python", registry.Entry{
			Version:     version,
			Description: "CPython runtime",
			DownloadURL: "https://artifacts.example.com/python-" + version + ".tar.gz",
			Checksum:    "sha256:aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899",
			Size:        1024,
			Platforms:   []string{"ubuntu-amd64"},
		})
	}
	for _, version := range []string{"1.9.0", "1.10.0"} {
		doc.SetEntry("openjdk-21", registry.Entry{
			Version:     version,
			DownloadURL: "https://artifacts.example.com/openjdk-21-" + version + ".tar.gz",
			Checksum:    "sha256:00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
			Size:        2048,
			Platforms:   []string{"ubuntu-amd64", "ubuntu-arm64"},
		})
	}
	return doc
}

// writeCatalog persists a catalog to disk and returns its path for use as a
// file-based registry source.
func writeCatalog(t *testing.T, doc *registry.Document) string {
	t.Helper()

	data, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	return path
}

func newFileResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	source := writeCatalog(t, testCatalog())
	return New(source, log.New(io.Discard), opts...)
}

func TestResolver_ResolveExactVersion(t *testing.T) {
	t.Parallel()

	r := newFileResolver(t)

	entry, err := r.Resolve(context.Background(), "python", "1.3.2")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if entry.Version != "1.3.2" {
		t.Errorf("Version = %q, want %q", entry.Version, "1.3.2")
	}
	if entry.DownloadURL != "https://artifacts.example.com/python-1.3.2.tar.gz" {
		t.Errorf("DownloadURL = %q", entry.DownloadURL)
	}
}

func TestResolver_ResolveLatestIsNumeric(t *testing.T) {
	t.Parallel()

	r := newFileResolver(t)

	tests := []struct {
		name    string
		runtime string
		want    string
	}{
		{name: "highest of three", runtime: "python", want: "1.4.0"},
		{name: "ten beats nine", runtime: "openjdk-21", want: "1.10.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := r.Resolve(context.Background(), tt.runtime, LatestSpec)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if entry.Version != tt.want {
				t.Errorf("Version = %q, want %q", entry.Version, tt.want)
			}
		})
	}
}

func TestResolver_ResolveUnknownRuntime(t *testing.T) {
	t.Parallel()

	r := newFileResolver(t)

	_, err := r.Resolve(context.Background(), "ruby", "latest")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error is not *NotFoundError: %v", err)
	}
	if notFound.Name != "ruby" || notFound.Spec != "latest" {
		t.Errorf("NotFoundError = %+v", notFound)
	}
}

func TestResolver_ResolveUnknownVersion(t *testing.T) {
	t.Parallel()

	r := newFileResolver(t)

	_, err := r.Resolve(context.Background(), "python", "9.9.9")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
}

func TestResolver_ResolveRejectsMalformedSpec(t *testing.T) {
	t.Parallel()

	r := newFileResolver(t)

	_, err := r.Resolve(context.Background(), "python", "1.3")
	if !errors.Is(err, semver.ErrInvalidVersion) {
		t.Fatalf("Resolve() error = %v, want semver.ErrInvalidVersion", err)
	}
}

func TestResolver_DocumentReturnsIndependentCopy(t *testing.T) {
	t.Parallel()

	r := newFileResolver(t)

	doc, err := r.Document(context.Background())
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	doc.SetEntry("python", registry.Entry{Version: "1.3.2", Checksum: "sha256:tampered"})

	entry, err := r.Resolve(context.Background(), "python", "1.3.2")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if entry.Checksum == "sha256:tampered" {
		t.Error("mutating the returned document leaked into the resolver cache")
	}
}

func TestResolver_HTTPSourceCachesWithinTTL(t *testing.T) {
	t.Parallel()

	catalog, err := testCatalog().Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		_, _ = w.Write(catalog)
	}))
	defer srv.Close()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r := New(srv.URL, log.New(io.Discard),
		WithHTTPClient(&http.Client{}),
		WithClock(func() time.Time { return now }))

	for range 3 {
		if _, err := r.Document(context.Background()); err != nil {
			t.Fatalf("Document() error = %v", err)
		}
	}
	if hits != 1 {
		t.Fatalf("hits = %d after cached reads, want 1", hits)
	}

	now = now.Add(DefaultRegistryTTL + time.Second)
	if _, err := r.Document(context.Background()); err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if hits != 2 {
		t.Errorf("hits = %d after TTL expiry, want 2", hits)
	}
}

func TestResolver_InvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	catalog, err := testCatalog().Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		_, _ = w.Write(catalog)
	}))
	defer srv.Close()

	r := New(srv.URL, log.New(io.Discard), WithHTTPClient(&http.Client{}))

	if _, err := r.Document(context.Background()); err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	r.Invalidate()
	if _, err := r.Document(context.Background()); err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
}

func TestResolver_StaleCatalogServedWhenRefreshFails(t *testing.T) {
	t.Parallel()

	catalog, err := testCatalog().Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		if hits > 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(catalog)
	}))
	defer srv.Close()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r := New(srv.URL, log.New(io.Discard),
		WithHTTPClient(&http.Client{}),
		WithClock(func() time.Time { return now }))

	if _, err := r.Document(context.Background()); err != nil {
		t.Fatalf("Document() error = %v", err)
	}

	now = now.Add(DefaultRegistryTTL + time.Second)
	entry, err := r.Resolve(context.Background(), "python", "latest")
	if err != nil {
		t.Fatalf("Resolve() after failed refresh error = %v, want stale catalog", err)
	}
	if entry.Version != "1.4.0" {
		t.Errorf("Version = %q, want %q", entry.Version, "1.4.0")
	}
}

func TestResolver_HTTPErrorWithoutCacheFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(srv.URL, log.New(io.Discard), WithHTTPClient(&http.Client{}))

	_, err := r.Document(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Document() error = %v, want ErrFetch", err)
	}
}

func TestResolver_MissingLocalRegistry(t *testing.T) {
	t.Parallel()

	r := New(filepath.Join(t.TempDir(), "absent.json"), log.New(io.Discard))

	_, err := r.Document(context.Background())
	if err == nil {
		t.Fatal("Document() error = nil, want read failure")
	}
}

func TestResolver_FileSchemeSource(t *testing.T) {
	t.Parallel()

	source := "file://" + writeCatalog(t, testCatalog())
	r := New(source, log.New(io.Discard))

	entry, err := r.Resolve(context.Background(), "python", "1.4.0")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if entry.Version != "1.4.0" {
		t.Errorf("Version = %q, want %q", entry.Version, "1.4.0")
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips query and fragment",
			in:   "https://registry.example.com/registry.json?token=secret#frag",
			want: "https://registry.example.com/registry.json",
		},
		{
			name: "plain url unchanged",
			in:   "https://registry.example.com/registry.json",
			want: "https://registry.example.com/registry.json",
		},
		{
			name: "invalid url",
			in:   "http://bad url with spaces\x7f",
			want: "<invalid-url>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := redactURL(tt.in); got != tt.want {
				t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
