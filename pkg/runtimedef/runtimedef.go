// SPDX-License-Identifier: MPL-2.0

// Package runtimedef defines runtime bundle definitions: the authored CUE
// documents that drive bundle builds, plus the name/version grammar and the
// mount specification types shared by the build and distribution pipeline.
package runtimedef

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/runpack/runpack/pkg/semver"
)

// DefinitionFilename is the CUE document name inside each runtime directory.
const DefinitionFilename = "runtime.cue"

var (
	// ErrInvalidName is the sentinel error wrapped by InvalidNameError.
	ErrInvalidName = errors.New("invalid runtime name")

	// ErrInvalidBundlePath is the sentinel error wrapped by InvalidBundlePathError.
	ErrInvalidBundlePath = errors.New("invalid bundle-relative path")

	// ErrInvalidTargetPath is the sentinel error wrapped by InvalidTargetPathError.
	ErrInvalidTargetPath = errors.New("invalid mount target path")

	// ErrInvalidMountSpec is the sentinel error wrapped by InvalidMountSpecError.
	ErrInvalidMountSpec = errors.New("invalid mount spec")

	// ErrInvalidAssetPlan is the sentinel error wrapped by InvalidAssetPlanError.
	ErrInvalidAssetPlan = errors.New("invalid asset plan")
)

// nameRegex matches runtime names: lowercase alphanumerics, dots, and hyphens.
// Uppercase, underscores, slashes, and whitespace are rejected.
var nameRegex = regexp.MustCompile(`^[a-z0-9.-]+$`)

type (
	// Definition is a parsed runtime definition document. One definition
	// describes how to build, mount, and publish a single runtime version.
	Definition struct {
		// Name is the runtime's machine name (e.g. "openjdk-21").
		Name string `json:"name"`
		// Version is the strict MAJOR.MINOR.PATCH bundle version.
		Version string `json:"version"`
		// Description is free-form text shown in registry listings.
		Description string `json:"description,omitempty"`
		// Platforms lists the platform identifiers this bundle targets.
		Platforms []string `json:"platforms"`
		// Build declares how the bundle tree is populated.
		Build BuildSpec `json:"build,omitempty"`
		// Mounts are the language-specific mounts, in authored order.
		// Consumers may rely on mount precedence, so order is preserved
		// through compilation.
		Mounts []MountSpec `json:"mounts,omitempty"`
		// Env is emitted verbatim into the mount manifest (interpreter
		// home, search-path entries, and similar).
		Env map[string]string `json:"env,omitempty"`

		// FilePath is the definition file this was parsed from (set by Parse).
		FilePath string `json:"-"`
	}

	// BuildSpec declares the bundle source producers for a definition:
	// an ordered list of asset plans, then an optional shell hook.
	BuildSpec struct {
		// Script is an inline POSIX shell hook run after asset plans.
		Script string `json:"script,omitempty"`
		// Assets are evaluated in order; each plan copies the first
		// matching candidate into the bundle tree.
		Assets []AssetPlan `json:"assets,omitempty"`
	}

	// AssetPlan copies one asset into the bundle tree. Candidates are
	// evaluated in priority order; the first one that exists on the host
	// wins. Criticality is data: a critical plan with no match aborts the
	// build, a non-critical one is skipped with a warning.
	AssetPlan struct {
		// Target is the bundle-relative destination path.
		Target BundlePath `json:"target"`
		// Sources are candidate host paths, checked in order. Doublestar
		// glob patterns are allowed.
		Sources []string `json:"sources"`
		// Critical marks the asset as required (default true).
		Critical bool `json:"critical"`
		// Dereference resolves symlinks to regular files during the copy.
		// Trust stores (CA certificates) typically need this.
		Dereference bool `json:"dereference,omitempty"`
	}

	// BundlePath is a path relative to the bundle root. A valid path is
	// non-empty, relative, and does not escape the root via "..".
	BundlePath string

	// TargetPath is an absolute mount destination inside the consumer's
	// environment. A valid path is absolute and non-empty.
	TargetPath string

	// MountSpec is one mount tuple of the compiled mount manifest.
	MountSpec struct {
		Source   BundlePath `json:"source"`
		Target   TargetPath `json:"target"`
		Readonly bool       `json:"readonly"`
	}

	// InvalidNameError is returned when a runtime name violates the grammar.
	InvalidNameError struct {
		Value string
	}

	// InvalidBundlePathError is returned when a BundlePath is empty,
	// absolute, or escapes the bundle root.
	InvalidBundlePathError struct {
		Value  BundlePath
		Reason string
	}

	// InvalidTargetPathError is returned when a TargetPath is empty or relative.
	InvalidTargetPathError struct {
		Value TargetPath
	}

	// InvalidMountSpecError is returned when a MountSpec has one or more
	// invalid fields. It wraps the individual field validation errors.
	InvalidMountSpecError struct {
		Value     MountSpec
		FieldErrs []error
	}

	// InvalidAssetPlanError is returned when an AssetPlan is malformed.
	InvalidAssetPlanError struct {
		Target BundlePath
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid runtime name %q (want lowercase alphanumerics, dots, hyphens)", e.Value)
}

// Unwrap returns ErrInvalidName so callers can use errors.Is for programmatic detection.
func (e *InvalidNameError) Unwrap() error { return ErrInvalidName }

// Error implements the error interface.
func (e *InvalidBundlePathError) Error() string {
	return fmt.Sprintf("invalid bundle-relative path %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidBundlePath for errors.Is() compatibility.
func (e *InvalidBundlePathError) Unwrap() error { return ErrInvalidBundlePath }

// Error implements the error interface.
func (e *InvalidTargetPathError) Error() string {
	return fmt.Sprintf("invalid mount target path %q: must be absolute", e.Value)
}

// Unwrap returns ErrInvalidTargetPath for errors.Is() compatibility.
func (e *InvalidTargetPathError) Unwrap() error { return ErrInvalidTargetPath }

// Error implements the error interface.
func (e *InvalidMountSpecError) Error() string {
	return fmt.Sprintf("invalid mount %s: %d field error(s)", e.Value, len(e.FieldErrs))
}

// Unwrap returns ErrInvalidMountSpec plus the individual field errors, so
// errors.Is matches both the mount-level sentinel and the field-level ones.
func (e *InvalidMountSpecError) Unwrap() []error {
	return append([]error{ErrInvalidMountSpec}, e.FieldErrs...)
}

// Error implements the error interface.
func (e *InvalidAssetPlanError) Error() string {
	return fmt.Sprintf("invalid asset plan for %q: %s", e.Target, e.Reason)
}

// Unwrap returns ErrInvalidAssetPlan so callers can use errors.Is for programmatic detection.
func (e *InvalidAssetPlanError) Unwrap() error { return ErrInvalidAssetPlan }

// ValidateName returns an error if the runtime name violates the grammar.
// Both the build gate and the publish gate call this; a name that builds
// must be publishable.
func ValidateName(name string) error {
	if !nameRegex.MatchString(name) {
		return &InvalidNameError{Value: name}
	}
	return nil
}

// ValidateVersion returns an error if the version string violates the strict
// MAJOR.MINOR.PATCH grammar. Grammar errors originate in pkg/semver, so
// callers match with errors.Is(err, semver.ErrInvalidVersion).
func ValidateVersion(version string) error {
	_, err := semver.Parse(version)
	return err
}

// String returns the string representation of the BundlePath.
func (p BundlePath) String() string { return string(p) }

// Validate returns an error if the BundlePath is empty, absolute, or escapes
// the bundle root via "..".
func (p BundlePath) Validate() error {
	s := string(p)
	if strings.TrimSpace(s) == "" {
		return &InvalidBundlePathError{Value: p, Reason: "must be non-empty"}
	}
	if path.IsAbs(s) {
		return &InvalidBundlePathError{Value: p, Reason: "must be relative to the bundle root"}
	}
	clean := path.Clean(s)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return &InvalidBundlePathError{Value: p, Reason: "must not escape the bundle root"}
	}
	return nil
}

// Clean returns the path with redundant separators and dot segments removed.
func (p BundlePath) Clean() BundlePath { return BundlePath(path.Clean(string(p))) }

// String returns the string representation of the TargetPath.
func (p TargetPath) String() string { return string(p) }

// Validate returns an error if the TargetPath is empty or not absolute.
func (p TargetPath) Validate() error {
	s := string(p)
	if strings.TrimSpace(s) == "" || !path.IsAbs(s) {
		return &InvalidTargetPathError{Value: p}
	}
	return nil
}

// Validate returns an error if any field of the MountSpec is invalid.
func (m MountSpec) Validate() error {
	var errs []error
	if err := m.Source.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := m.Target.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidMountSpecError{Value: m, FieldErrs: errs}
	}
	return nil
}

// String returns the mount in "source:target[:ro]" format.
func (m MountSpec) String() string {
	s := string(m.Source) + ":" + string(m.Target)
	if m.Readonly {
		s += ":ro"
	}
	return s
}

// Validate returns an error if the AssetPlan is malformed: the target must be
// a valid bundle-relative path and at least one source candidate is required.
func (a AssetPlan) Validate() error {
	if err := a.Target.Validate(); err != nil {
		return err
	}
	if len(a.Sources) == 0 {
		return &InvalidAssetPlanError{Target: a.Target, Reason: "at least one source candidate is required"}
	}
	for _, src := range a.Sources {
		if strings.TrimSpace(src) == "" {
			return &InvalidAssetPlanError{Target: a.Target, Reason: "source candidates must be non-empty"}
		}
	}
	return nil
}

// Tag returns the release tag for the definition ("name@version").
// Callers validate the definition before tagging.
func (d *Definition) Tag() string {
	return d.Name + "@" + d.Version
}

// ArchiveFilename returns the artifact filename for a runtime version:
// "<name>-<version>.tar.gz". The producer and the consumer sides both derive
// filenames through here so they can never drift apart.
func ArchiveFilename(name, version string) string {
	return fmt.Sprintf("%s-%s.tar.gz", name, version)
}

// SidecarFilename returns the checksum sidecar filename for an archive.
func SidecarFilename(name, version string) string {
	return ArchiveFilename(name, version) + ".sha256"
}
