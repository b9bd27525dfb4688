// SPDX-License-Identifier: MPL-2.0

// Package checksum implements SHA-256 digests for bundle artifacts and the
// sha256sum-compatible sidecar files published next to them. The registry
// stores digests with a "sha256:" prefix; sidecar files carry the bare hex.
package checksum

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prefix is the algorithm prefix carried by registry checksum fields.
const Prefix = "sha256:"

var (
	// ErrMismatch indicates the computed SHA-256 digest does not match the expected one.
	ErrMismatch = errors.New("checksum mismatch")

	// ErrNoEntry indicates a sidecar file contained no parseable checksum line.
	ErrNoEntry = errors.New("no valid checksum entry found")
)

type (
	// Entry is a single sidecar line: a SHA-256 digest bound to a filename.
	Entry struct {
		Digest   string // Hex-encoded SHA-256 digest (64 characters, lowercase)
		Filename string // Artifact filename this digest applies to
	}

	// MismatchError provides details about a checksum verification failure.
	// It wraps ErrMismatch so callers can use errors.Is for classification.
	MismatchError struct {
		Path     string
		Expected string
		Got      string
	}
)

// Error returns a human-readable description of the mismatch, showing both
// expected and actual digests for debugging.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.Path, e.Expected, e.Got)
}

// Unwrap returns ErrMismatch so callers can use errors.Is.
func (e *MismatchError) Unwrap() error { return ErrMismatch }

// WithPrefix returns the digest in registry form ("sha256:<hex>").
func WithPrefix(digest string) string {
	return Prefix + strings.ToLower(digest)
}

// StripPrefix removes the "sha256:" prefix if present and lowercases the digest.
// Registry fields and bare sidecar digests both normalize through here.
func StripPrefix(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, Prefix))
}

// Digest returns the lowercase hex-encoded SHA-256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileDigest computes and returns the lowercase hex-encoded SHA-256 digest of
// the file at path. The file is streamed through the hash function, so
// multi-gigabyte bundle archives do not load into memory.
func FileDigest(path string) (_ string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile computes the SHA-256 digest of the file at path and compares it
// with expected, which may carry the "sha256:" prefix or be bare hex. Returns
// nil on a match (case-insensitive), or a *MismatchError wrapping ErrMismatch.
func VerifyFile(path, expected string) error {
	want := StripPrefix(expected)

	got, err := FileDigest(path)
	if err != nil {
		return err
	}

	if !strings.EqualFold(got, want) {
		return &MismatchError{
			Path:     path,
			Expected: want,
			Got:      got,
		}
	}

	return nil
}

// FormatSidecar renders a single sidecar line in sha256sum output format:
// "<hex-digest>  <filename>\n" (two spaces between digest and filename).
func FormatSidecar(digest, filename string) string {
	return fmt.Sprintf("%s  %s\n", strings.ToLower(digest), filename)
}

// WriteSidecar writes the sidecar file for an artifact. The sidecar is tiny;
// it is written directly rather than via a temp file.
func WriteSidecar(path, digest, filename string) error {
	if err := os.WriteFile(path, []byte(FormatSidecar(digest, filename)), 0o644); err != nil {
		return fmt.Errorf("writing checksum sidecar: %w", err)
	}
	return nil
}

// ParseSidecar parses sidecar content in sha256sum output format and returns
// the first valid entry. Empty lines and lines that do not match the format
// are skipped; ErrNoEntry is returned when nothing valid remains.
func ParseSidecar(r io.Reader) (Entry, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// The sha256sum format uses exactly two spaces between digest and filename.
		parts := strings.SplitN(line, "  ", 2)
		if len(parts) != 2 {
			continue
		}

		digest := parts[0]
		filename := strings.TrimSpace(parts[1])

		if filename == "" || !isValidHexDigest(digest) {
			continue
		}

		return Entry{
			Digest:   strings.ToLower(digest),
			Filename: filename,
		}, nil
	}

	if err := scanner.Err(); err != nil {
		return Entry{}, fmt.Errorf("reading checksum sidecar: %w", err)
	}

	return Entry{}, ErrNoEntry
}

// ReadSidecarFile parses the sidecar file at path.
func ReadSidecarFile(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = f.Close() }()

	return ParseSidecar(f)
}

// isValidHexDigest checks if s is a 64-character hex-encoded SHA-256 digest.
func isValidHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
