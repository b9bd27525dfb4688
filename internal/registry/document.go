// SPDX-License-Identifier: MPL-2.0

// Package registry maintains the multi-version JSON catalog that maps
// runtime names and versions to released artifacts. The catalog is the
// pipeline's only shared mutable state: all writes go through a Store with
// optimistic concurrency, and a (name, version) pair binds to exactly one
// checksum for its lifetime.
package registry

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// SchemaVersion is the registry document schema this package reads and writes.
const SchemaVersion = 1

type (
	// Entry is the released artifact metadata for one runtime version.
	Entry struct {
		Version     string `json:"version"`
		Description string `json:"description"`
		DownloadURL string `json:"download_url"`
		// Checksum is the archive digest in "sha256:<hex>" form.
		Checksum  string   `json:"checksum"`
		Size      int64    `json:"size"`
		Platforms []string `json:"platforms"`
	}

	// Document is the full catalog: runtime name, then version, then entry.
	Document struct {
		Version   int                         `json:"version"`
		UpdatedAt time.Time                   `json:"updated_at"`
		Runtimes  map[string]map[string]Entry `json:"runtimes"`
	}
)

// NewDocument returns an empty catalog at the current schema version.
func NewDocument() *Document {
	return &Document{
		Version:  SchemaVersion,
		Runtimes: make(map[string]map[string]Entry),
	}
}

// ParseDocument decodes a registry document from its JSON bytes.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry document: %w", err)
	}
	if doc.Runtimes == nil {
		doc.Runtimes = make(map[string]map[string]Entry)
	}
	return &doc, nil
}

// Bytes renders the document as indented JSON with a trailing newline. Go
// sorts map keys during encoding, so identical catalogs produce identical
// bytes.
func (d *Document) Bytes() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode registry document: %w", err)
	}
	return append(data, '\n'), nil
}

// Entry returns the entry for (name, version) if present.
func (d *Document) Entry(name, version string) (Entry, bool) {
	versions, ok := d.Runtimes[name]
	if !ok {
		return Entry{}, false
	}
	e, ok := versions[version]
	return e, ok
}

// SetEntry merges exactly one entry into the catalog, leaving every other
// name and version untouched.
func (d *Document) SetEntry(name string, e Entry) {
	if d.Runtimes == nil {
		d.Runtimes = make(map[string]map[string]Entry)
	}
	versions, ok := d.Runtimes[name]
	if !ok {
		versions = make(map[string]Entry)
		d.Runtimes[name] = versions
	}
	versions[e.Version] = e
}

// Versions returns the version strings published for name, sorted
// lexically for stable output. Callers needing semantic order go through
// pkg/semver.
func (d *Document) Versions(name string) []string {
	versions := d.Runtimes[name]
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Names returns all runtime names in the catalog, sorted.
func (d *Document) Names() []string {
	out := make([]string, 0, len(d.Runtimes))
	for name := range d.Runtimes {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy. Updater attempts mutate the clone, so a failed
// compare-and-swap never leaves a half-merged document for the retry to
// re-read.
func (d *Document) Clone() *Document {
	out := &Document{
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
		Runtimes:  make(map[string]map[string]Entry, len(d.Runtimes)),
	}
	for name, versions := range d.Runtimes {
		cp := make(map[string]Entry, len(versions))
		for v, e := range versions {
			e.Platforms = slices.Clone(e.Platforms)
			cp[v] = e
		}
		out.Runtimes[name] = cp
	}
	return out
}

// Equal reports whether two entries carry identical released metadata.
func (e Entry) Equal(other Entry) bool {
	return e.Version == other.Version &&
		e.Description == other.Description &&
		e.DownloadURL == other.DownloadURL &&
		e.Checksum == other.Checksum &&
		e.Size == other.Size &&
		slices.Equal(e.Platforms, other.Platforms)
}
