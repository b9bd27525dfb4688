// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/runpack/runpack/internal/checksum"
	"github.com/runpack/runpack/internal/packager"
	"github.com/runpack/runpack/pkg/runtimedef"
)

const (
	// DefaultPublishAttempts bounds optimistic-concurrency retries.
	DefaultPublishAttempts = 5

	// basePublishBackoff is the first retry delay; later retries double it.
	basePublishBackoff = 50 * time.Millisecond
)

var (
	// ErrChecksumConflict is the sentinel error wrapped by ConflictError.
	ErrChecksumConflict = errors.New("registry checksum conflict")

	// ErrWriteRace is returned when publish retries are exhausted because
	// other writers kept changing the catalog. Transient; the caller may
	// rerun the publish.
	ErrWriteRace = errors.New("registry write race")
)

type (
	// Outcome classifies what a successful publish did to the catalog.
	Outcome string

	// ConflictError reports an attempt to republish a released version
	// with different archive bytes. Fatal: it would silently redirect
	// consumers that already trust the version.
	ConflictError struct {
		Name     string
		Version  string
		Existing string
		Proposed string
	}

	// Updater merges one released artifact per call into the catalog.
	Updater struct {
		store    Store
		attempts int
		clock    func() time.Time
		log      *log.Logger
	}

	// UpdaterOption configures an Updater.
	UpdaterOption func(*Updater)
)

const (
	// OutcomeCreated means the version had no entry before.
	OutcomeCreated Outcome = "created"
	// OutcomeUnchanged means the entry already matched; nothing was written.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeMetadataUpdated means checksum matched but metadata fields
	// (description, URL, platforms) were refreshed.
	OutcomeMetadataUpdated Outcome = "metadata-updated"
)

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("runtime %s@%s: published checksum %s does not match proposed %s; released bytes never change under a version",
		e.Name, e.Version, e.Existing, e.Proposed)
}

// Unwrap returns ErrChecksumConflict so callers can use errors.Is for programmatic detection.
func (e *ConflictError) Unwrap() error { return ErrChecksumConflict }

// WithAttempts overrides the retry budget for write races.
func WithAttempts(n int) UpdaterOption {
	return func(u *Updater) {
		u.attempts = n
	}
}

// WithClock sets a custom time source for testing.
func WithClock(clock func() time.Time) UpdaterOption {
	return func(u *Updater) {
		u.clock = clock
	}
}

// NewUpdater creates an Updater writing through store.
func NewUpdater(store Store, logger *log.Logger, opts ...UpdaterOption) *Updater {
	u := &Updater{
		store:    store,
		attempts: DefaultPublishAttempts,
		clock:    time.Now,
		log:      logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Publish merges the artifact's entry into the catalog under
// runtimes[name][version] with a read-modify-write cycle. A revision
// mismatch reloads and retries with doubling backoff up to the attempt
// budget, then surfaces ErrWriteRace. A checksum conflict is fatal on the
// first sighting and is never retried; the catalog stays untouched.
// Validation here must reject exactly what build-time validation rejects.
func (u *Updater) Publish(ctx context.Context, def *runtimedef.Definition, artifact *packager.Artifact, downloadURL string) (Outcome, error) {
	if err := def.Validate(); err != nil {
		return "", fmt.Errorf("definition rejected: %w", err)
	}

	proposed := Entry{
		Version:     def.Version,
		Description: def.Description,
		DownloadURL: downloadURL,
		Checksum:    checksum.WithPrefix(artifact.SHA256),
		Size:        artifact.Size,
		Platforms:   slices.Clone(def.Platforms),
	}

	for attempt := range u.attempts {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return "", fmt.Errorf("publish aborted: %w", err)
			}
			time.Sleep(basePublishBackoff * time.Duration(1<<(attempt-1)))
		}

		doc, rev, err := u.store.Load(ctx)
		if err != nil {
			return "", err
		}

		outcome, err := mergeEntry(doc, def.Name, proposed)
		if err != nil {
			return "", err
		}
		if outcome == OutcomeUnchanged {
			u.log.Info("registry already current",
				"runtime", def.Name, "version", def.Version)
			return OutcomeUnchanged, nil
		}

		doc.UpdatedAt = u.clock().UTC().Truncate(time.Second)

		if err := u.store.CompareAndSwap(ctx, doc, rev); err != nil {
			if errors.Is(err, ErrRevisionMismatch) {
				u.log.Debug("registry write raced; reloading",
					"runtime", def.Name, "attempt", attempt+1)
				continue
			}
			return "", err
		}

		u.log.Info("registry updated",
			"runtime", def.Name,
			"version", def.Version,
			"outcome", string(outcome),
			"checksum", proposed.Checksum)
		return outcome, nil
	}

	return "", fmt.Errorf("publish %s@%s: %d attempts exhausted: %w",
		def.Name, def.Version, u.attempts, ErrWriteRace)
}

// mergeEntry applies the checksum-binding rules to one (name, version) slot:
// insert when absent, refresh metadata when the checksum matches, reject
// when it does not. Only OutcomeUnchanged leaves doc unmodified.
func mergeEntry(doc *Document, name string, proposed Entry) (Outcome, error) {
	existing, ok := doc.Entry(name, proposed.Version)
	if !ok {
		doc.SetEntry(name, proposed)
		return OutcomeCreated, nil
	}

	if existing.Checksum != proposed.Checksum {
		return "", &ConflictError{
			Name:     name,
			Version:  proposed.Version,
			Existing: existing.Checksum,
			Proposed: proposed.Checksum,
		}
	}

	if existing.Equal(proposed) {
		return OutcomeUnchanged, nil
	}

	doc.SetEntry(name, proposed)
	return OutcomeMetadataUpdated, nil
}
