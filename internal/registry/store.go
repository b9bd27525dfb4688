// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/runpack/runpack/internal/checksum"
)

const (
	// DefaultLockTimeout is how old a lock file must be before another
	// writer may take it over as stale.
	DefaultLockTimeout = 10 * time.Second

	// lockPollInterval is the wait between lock acquisition attempts.
	lockPollInterval = 25 * time.Millisecond
)

// ErrRevisionMismatch is returned by CompareAndSwap when the stored document
// changed after the caller's Load. The caller reloads and retries.
var ErrRevisionMismatch = errors.New("registry revision mismatch")

type (
	// Revision identifies the exact document bytes a Load observed. It is
	// an opaque content hash; NoRevision means the document did not exist.
	Revision string

	// Store is the narrow read-modify-write interface over the catalog.
	Store interface {
		// Load returns the current document and its revision. A missing
		// catalog yields an empty document and NoRevision, not an error.
		Load(ctx context.Context) (*Document, Revision, error)
		// CompareAndSwap writes doc if the stored revision still equals
		// expected, otherwise returns ErrRevisionMismatch.
		CompareAndSwap(ctx context.Context, doc *Document, expected Revision) error
	}

	// FileStore keeps the catalog as a single JSON file. Writers serialize
	// through an exclusive lock file; revisions are content hashes of the
	// file bytes.
	FileStore struct {
		path        string
		lockTimeout time.Duration
	}

	// FileStoreOption configures a FileStore.
	FileStoreOption func(*FileStore)
)

// NoRevision is the revision of a catalog that does not exist yet.
const NoRevision Revision = ""

// WithLockTimeout overrides the stale-lock takeover age.
func WithLockTimeout(d time.Duration) FileStoreOption {
	return func(s *FileStore) {
		s.lockTimeout = d
	}
}

// NewFileStore creates a FileStore persisting the catalog at path.
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:        path,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the catalog file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the catalog file. A missing file is an empty catalog.
func (s *FileStore) Load(_ context.Context) (*Document, Revision, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), NoRevision, nil
		}
		return nil, NoRevision, fmt.Errorf("failed to read registry: %w", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, NoRevision, err
	}
	return doc, Revision(checksum.Digest(data)), nil
}

// CompareAndSwap writes doc atomically if the stored bytes still hash to
// expected. The lock file serializes concurrent writers on the same host;
// the revision check catches writers that raced between Load and lock
// acquisition.
func (s *FileStore) CompareAndSwap(ctx context.Context, doc *Document, expected Revision) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	release, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer release()

	current, err := s.currentRevision()
	if err != nil {
		return err
	}
	if current != expected {
		return fmt.Errorf("registry changed since load: %w", ErrRevisionMismatch)
	}

	data, err := doc.Bytes()
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to rename registry: %w", err)
	}

	return nil
}

// currentRevision hashes the stored bytes under the lock.
func (s *FileStore) currentRevision() (Revision, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NoRevision, nil
		}
		return NoRevision, fmt.Errorf("failed to read registry: %w", err)
	}
	return Revision(checksum.Digest(data)), nil
}

// acquireLock creates the exclusive lock file, polling until it succeeds,
// the context ends, or a stale lock (older than lockTimeout) is taken over.
func (s *FileStore) acquireLock(ctx context.Context) (release func(), err error) {
	lockPath := s.path + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create registry lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > s.lockTimeout {
			// The holder died. Remove and race for it on the next pass.
			_ = os.Remove(lockPath)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for registry lock: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}
