// SPDX-License-Identifier: MPL-2.0

package runtimedef

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// standardTargets are the container paths the mount compiler's canonical
// tables claim. An authored mount may shadow one only while the matching
// canonical tree is empty; once it has content the compile fails with a
// duplicate target.
var standardTargets = map[string]bool{
	"/usr/bin":   true,
	"/usr/lib":   true,
	"/usr/lib64": true,
	"/lib":       true,
	"/lib64":     true,
	"/etc/ssl":   true,
	"/tmp":       true,
}

// Warning is a non-fatal validation finding. Warnings never block a build;
// the CLI prints them and continues.
type Warning struct {
	// Field is the definition field the warning applies to, when known.
	Field string
	// Message describes the finding.
	Message string
}

// String renders the warning for CLI output.
func (w Warning) String() string {
	if w.Field != "" {
		return fmt.Sprintf("%s: %s", w.Field, w.Message)
	}
	return w.Message
}

// Validate checks every field of the definition and returns the aggregated
// violations, or nil when the definition is clean. Name and version use the
// shared grammar validators, so a definition that passes here is accepted by
// every later pipeline stage.
func (d *Definition) Validate() error {
	var errs []error

	if err := ValidateName(d.Name); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateVersion(d.Version); err != nil {
		errs = append(errs, err)
	}

	if len(d.Platforms) == 0 {
		errs = append(errs, fmt.Errorf("platforms: at least one platform identifier is required"))
	}
	for i, p := range d.Platforms {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("platforms[%d]: must be non-empty", i))
		}
	}

	for i, plan := range d.Build.Assets {
		if err := plan.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("build.assets[%d]: %w", i, err))
		}
	}

	seenTargets := make(map[TargetPath]int, len(d.Mounts))
	for i, m := range d.Mounts {
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mounts[%d]: %w", i, err))
			continue
		}
		if prev, dup := seenTargets[m.Target]; dup {
			errs = append(errs, fmt.Errorf("mounts[%d]: duplicate target %q (already used by mounts[%d])", i, m.Target, prev))
			continue
		}
		seenTargets[m.Target] = i
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Lint reports non-fatal findings for a definition parsed from dir. The
// directory basename is expected to match the declared name; a mismatch is
// a warning rather than an error so renames do not brick existing trees.
func (d *Definition) Lint(dir string) []Warning {
	var warnings []Warning

	if dir != "" {
		base := filepath.Base(filepath.Clean(dir))
		if base != d.Name {
			warnings = append(warnings, Warning{
				Field:   "name",
				Message: fmt.Sprintf("directory %q does not match declared name %q", base, d.Name),
			})
		}
	}

	if strings.TrimSpace(d.Description) == "" {
		warnings = append(warnings, Warning{
			Field:   "description",
			Message: "empty description; registry listings will show a blank entry",
		})
	}

	for i, m := range d.Mounts {
		if standardTargets[path.Clean(m.Target.String())] {
			warnings = append(warnings, Warning{
				Field:   fmt.Sprintf("mounts[%d].target", i),
				Message: fmt.Sprintf("%s shadows a standard mount target and collides once the canonical tree has content", m.Target),
			})
		}
	}

	return warnings
}
