// SPDX-License-Identifier: MPL-2.0

// Package resolver is the consumer side of the pipeline: it resolves a
// runtime name plus version spec against the published registry, fetches the
// released archive, verifies its checksum before anything touches disk
// permanently, and extracts the bundle tree. Checksum verification is a
// trust boundary: a mismatch aborts with nothing installed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/runpack/runpack/internal/registry"
	"github.com/runpack/runpack/pkg/runtimedef"
	"github.com/runpack/runpack/pkg/semver"
)

const (
	// LatestSpec is the version spec that selects the numerically highest
	// published version.
	LatestSpec = "latest"

	// DefaultRegistryTTL caches the parsed registry document in-process.
	DefaultRegistryTTL = 5 * time.Minute

	// maxRegistryBytes is the upper bound on registry document size.
	// Prevents unbounded memory consumption from malformed responses.
	maxRegistryBytes = 10 << 20

	// defaultRetryMax bounds HTTP retries for registry and artifact fetches.
	defaultRetryMax = 3
)

var (
	// ErrNotFound is the sentinel error wrapped by NotFoundError.
	ErrNotFound = errors.New("runtime version not found")

	// ErrFetch is the sentinel error wrapped by FetchError.
	ErrFetch = errors.New("artifact fetch failed")
)

type (
	// NotFoundError is returned when a name or version is not in the
	// registry. Resolution never falls back to a close-enough version.
	NotFoundError struct {
		Name string
		Spec string
	}

	// FetchError is returned when downloading an artifact fails after
	// retries. Transient: the caller may rerun the fetch.
	FetchError struct {
		URL string
		Err error
	}

	// Resolver reads the published registry and installs bundles from it.
	Resolver struct {
		source        string
		ttl           time.Duration
		maxMemberSize int64
		httpClient    *http.Client
		clock         func() time.Time
		log           *log.Logger

		mu        sync.Mutex
		cached    *registry.Document
		fetchedAt time.Time
	}

	// Option configures a Resolver.
	Option func(*Resolver)
)

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("runtime %s@%s not found in registry", e.Name, e.Spec)
}

// Unwrap returns ErrNotFound for errors.Is() compatibility.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", redactURL(e.URL), e.Err)
}

// Unwrap returns ErrFetch so callers can use errors.Is for programmatic detection.
func (e *FetchError) Unwrap() error { return ErrFetch }

// WithTTL overrides how long the cached registry document stays fresh.
func WithTTL(d time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = d
	}
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy
// configurations.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// WithClock sets a custom time source for testing.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// WithMaxMemberSize caps the bytes extracted per archive member.
func WithMaxMemberSize(n int64) Option {
	return func(r *Resolver) {
		r.maxMemberSize = n
	}
}

// New creates a Resolver reading the registry from source, which is either
// an HTTP(S) URL or a local file path.
func New(source string, logger *log.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		source:        source,
		ttl:           DefaultRegistryTTL,
		maxMemberSize: defaultMaxMemberSize,
		httpClient:    newRetryClient(),
		clock:         time.Now,
		log:           logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newRetryClient builds the HTTP client used for registry and artifact
// fetches: bounded retries with exponential backoff.
func newRetryClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultRetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = nil
	return rc.StandardClient()
}

// Document returns the current registry catalog, from cache when fresh. A
// failed refresh falls back to the stale copy with a warning rather than
// failing resolution outright. The returned document is the caller's copy.
func (r *Resolver) Document(ctx context.Context) (*registry.Document, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// Invalidate drops the cached registry document; the next read refetches.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

// Resolve selects the registry entry for name and spec. LatestSpec picks the
// numerically highest published version (component-wise integer compare,
// never lexicographic); anything else must be an exact MAJOR.MINOR.PATCH
// match.
func (r *Resolver) Resolve(ctx context.Context, name, spec string) (registry.Entry, error) {
	doc, err := r.document(ctx)
	if err != nil {
		return registry.Entry{}, err
	}

	versions := doc.Versions(name)
	if len(versions) == 0 {
		return registry.Entry{}, &NotFoundError{Name: name, Spec: spec}
	}

	if spec == LatestSpec {
		latest, err := semver.Latest(versions)
		if err != nil {
			return registry.Entry{}, &NotFoundError{Name: name, Spec: spec}
		}
		entry, _ := doc.Entry(name, latest)
		r.log.Debug("resolved latest", "runtime", name, "version", latest)
		return entry, nil
	}

	if err := runtimedef.ValidateVersion(spec); err != nil {
		return registry.Entry{}, fmt.Errorf("invalid version spec %q: %w", spec, err)
	}

	entry, ok := doc.Entry(name, spec)
	if !ok {
		return registry.Entry{}, &NotFoundError{Name: name, Spec: spec}
	}
	return entry, nil
}

// document returns the shared cached catalog, refreshing it past the TTL.
func (r *Resolver) document(ctx context.Context) (*registry.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.clock().Sub(r.fetchedAt) < r.ttl {
		return r.cached, nil
	}

	doc, err := r.loadDocument(ctx)
	if err != nil {
		if r.cached != nil {
			r.log.Warn("registry refresh failed; serving stale catalog",
				"source", redactURL(r.source), "error", err)
			return r.cached, nil
		}
		return nil, err
	}

	r.cached = doc
	r.fetchedAt = r.clock()
	return doc, nil
}

// loadDocument reads and parses the registry from its source.
func (r *Resolver) loadDocument(ctx context.Context) (*registry.Document, error) {
	if isHTTPSource(r.source) {
		return r.fetchDocument(ctx)
	}

	data, err := os.ReadFile(localPath(r.source))
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return registry.ParseDocument(data)
}

// fetchDocument downloads the registry document over HTTP.
func (r *Resolver) fetchDocument(ctx context.Context) (*registry.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.source, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: r.source, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: r.source, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryBytes))
	if err != nil {
		return nil, &FetchError{URL: r.source, Err: err}
	}
	return registry.ParseDocument(data)
}

// isHTTPSource reports whether source is a URL rather than a file path.
func isHTTPSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// localPath strips an optional file:// scheme.
func localPath(source string) string {
	return strings.TrimPrefix(source, "file://")
}

// redactURL strips query parameters and fragments from a URL for safe
// inclusion in error messages and logs.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
