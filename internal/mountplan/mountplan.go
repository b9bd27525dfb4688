// SPDX-License-Identifier: MPL-2.0

// Package mountplan compiles a populated bundle tree plus its runtime
// definition into the ordered mount manifest a bundle consumer needs.
// Standard mounts come from a fixed canonical table, authored mounts keep
// their authored order, and writability is decided by a package-level
// allow-list rather than per bundle.
package mountplan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/runpack/runpack/pkg/runtimedef"
)

// RuntimeHomeVar names the environment variable consumers use to locate the
// mounted runtime. It defaults to "/" because standard mounts land on
// absolute system paths.
const RuntimeHomeVar = "RUNPACK_RUNTIME_HOME"

// ManifestFilename is the manifest's conventional filename next to a bundle.
const ManifestFilename = "manifest.json"

var (
	// ErrWritableNotAllowed is the sentinel error wrapped by WritableNotAllowedError.
	ErrWritableNotAllowed = errors.New("writable mount target not allowed")

	// ErrDuplicateTarget is the sentinel error wrapped by DuplicateTargetError.
	ErrDuplicateTarget = errors.New("duplicate mount target")
)

// canonicalTable is the fixed emission order for standard mounts: system
// binaries, libraries, arch-specific libraries, then trust material.
// Authored mounts follow the table, writable scratch comes last.
var canonicalTable = []struct {
	source string
	target string
}{
	{"usr/bin", "/usr/bin"},
	{"usr/lib", "/usr/lib"},
	{"usr/lib64", "/usr/lib64"},
	{"lib", "/lib"},
	{"lib64", "/lib64"},
	{"etc/ssl", "/etc/ssl"},
}

// scratchTable holds the writable scratch mounts emitted after all others.
var scratchTable = []struct {
	source string
	target string
}{
	{"tmp", "/tmp"},
}

// writableTargets is the only source of mount writability. Targets outside
// this set are always mounted readonly; an authored mount asking otherwise
// is a compile error, not a per-bundle override.
var writableTargets = map[string]bool{
	"/tmp":     true,
	"/var/tmp": true,
}

type (
	// Mount is one source/target/readonly tuple in emission order. Source
	// is relative to the bundle root, target is absolute on the consumer
	// side.
	Mount struct {
		Source   string `json:"source"`
		Target   string `json:"target"`
		Readonly bool   `json:"readonly"`
	}

	// Manifest is the compiled mount manifest for one runtime version.
	Manifest struct {
		Runtime string            `json:"runtime"`
		Version string            `json:"version"`
		Mounts  []Mount           `json:"mounts"`
		Env     map[string]string `json:"env"`
	}

	// WritableNotAllowedError reports an authored mount that asked for a
	// writable target outside the allow-list.
	WritableNotAllowedError struct {
		Source string
		Target string
	}

	// DuplicateTargetError reports two emitted mounts claiming the same
	// container target.
	DuplicateTargetError struct {
		Target string
	}
)

// Error implements the error interface.
func (e *WritableNotAllowedError) Error() string {
	return fmt.Sprintf("mount %s: target %s must be readonly (writable targets: /tmp, /var/tmp)",
		e.Source, e.Target)
}

// Unwrap returns ErrWritableNotAllowed so callers can use errors.Is for programmatic detection.
func (e *WritableNotAllowedError) Unwrap() error { return ErrWritableNotAllowed }

// Error implements the error interface.
func (e *DuplicateTargetError) Error() string {
	return fmt.Sprintf("duplicate mount target %s", e.Target)
}

// Unwrap returns ErrDuplicateTarget for errors.Is() compatibility.
func (e *DuplicateTargetError) Unwrap() error { return ErrDuplicateTarget }

// Compile walks the canonical table and the definition's authored mounts over
// the bundle tree at root and emits the ordered manifest. A mount is emitted
// only when its source directory exists and holds at least one non-directory
// entry; identical trees and definitions always compile to identical bytes.
func Compile(root string, def *runtimedef.Definition) (*Manifest, error) {
	m := &Manifest{
		Runtime: def.Name,
		Version: def.Version,
		Mounts:  make([]Mount, 0, len(canonicalTable)+len(def.Mounts)+len(scratchTable)),
		Env:     make(map[string]string, len(def.Env)+1),
	}

	seen := make(map[string]struct{})
	emit := func(source, target string) error {
		target = path.Clean(target)
		if _, dup := seen[target]; dup {
			return &DuplicateTargetError{Target: target}
		}

		populated, err := hasContent(filepath.Join(root, filepath.FromSlash(source)))
		if err != nil {
			return fmt.Errorf("mount source %s: %w", source, err)
		}
		if !populated {
			return nil
		}

		seen[target] = struct{}{}
		m.Mounts = append(m.Mounts, Mount{
			Source:   source,
			Target:   target,
			Readonly: !writableTargets[target],
		})
		return nil
	}

	for _, c := range canonicalTable {
		if err := emit(c.source, c.target); err != nil {
			return nil, err
		}
	}

	for _, spec := range def.Mounts {
		target := path.Clean(spec.Target.String())
		if !spec.Readonly && !writableTargets[target] {
			return nil, &WritableNotAllowedError{
				Source: spec.Source.String(),
				Target: target,
			}
		}
		if err := emit(spec.Source.Clean().String(), target); err != nil {
			return nil, err
		}
	}

	for _, s := range scratchTable {
		if err := emit(s.source, s.target); err != nil {
			return nil, err
		}
	}

	for k, v := range def.Env {
		m.Env[k] = v
	}
	if _, ok := m.Env[RuntimeHomeVar]; !ok {
		m.Env[RuntimeHomeVar] = "/"
	}

	return m, nil
}

// hasContent reports whether dir exists and contains at least one
// non-directory entry anywhere below it. Empty trees mount nothing.
func hasContent(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		// A plain file is content in itself.
		return true, nil
	}

	errFound := errors.New("found")
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return true, nil
	}
	return false, err
}

// Bytes renders the manifest as stable, indented JSON with a trailing
// newline. Map keys sort deterministically, so identical manifests are
// byte-identical.
func (m *Manifest) Bytes() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile writes the manifest atomically using temp file + rename.
func (m *Manifest) WriteFile(path string) error {
	data, err := m.Bytes()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}
