// SPDX-License-Identifier: MPL-2.0

// Package semver implements the strict MAJOR.MINOR.PATCH version grammar used
// for runtime bundles. All three components are mandatory and numeric; there is
// no prerelease, build metadata, or "v" prefix. Comparison is component-wise
// numeric, so "1.10.0" sorts above "1.9.0".
package semver

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
var ErrInvalidVersion = errors.New("invalid version format")

type (
	// Version is a parsed MAJOR.MINOR.PATCH version.
	Version struct {
		Major    int
		Minor    int
		Patch    int
		Original string
	}

	// InvalidVersionError is returned when a string does not satisfy the
	// MAJOR.MINOR.PATCH grammar.
	InvalidVersionError struct {
		Input string
	}
)

// versionRegex matches exactly three dot-separated numeric components.
var versionRegex = regexp.MustCompile(`^([0-9]+)\.([0-9]+)\.([0-9]+)$`)

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version format %q (want MAJOR.MINOR.PATCH, e.g. 1.4.0)", e.Input)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// Parse parses a version string into a Version.
func Parse(s string) (*Version, error) {
	matches := versionRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, &InvalidVersionError{Input: s}
	}

	v := &Version{Original: s}

	var err error
	v.Major, err = strconv.Atoi(matches[1])
	if err != nil {
		return nil, &InvalidVersionError{Input: s}
	}
	v.Minor, err = strconv.Atoi(matches[2])
	if err != nil {
		return nil, &InvalidVersionError{Input: s}
	}
	v.Patch, err = strconv.Atoi(matches[3])
	if err != nil {
		return nil, &InvalidVersionError{Input: s}
	}

	return v, nil
}

// IsValid reports whether a string satisfies the version grammar.
func IsValid(s string) bool {
	return versionRegex.MatchString(s)
}

// String returns the version as a string.
func (v *Version) String() string {
	return v.Original
}

// Compare compares two versions component-wise.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v *Version) Compare(other *Version) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}

	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}

	if v.Patch != other.Patch {
		if v.Patch < other.Patch {
			return -1
		}
		return 1
	}

	return 0
}

// Latest returns the numerically highest version among the given strings.
// Strings that do not parse are skipped; an error is returned only when no
// valid version remains.
func Latest(versions []string) (string, error) {
	var best *Version
	for _, vs := range versions {
		v, err := Parse(vs)
		if err != nil {
			continue
		}
		if best == nil || v.Compare(best) > 0 {
			best = v
		}
	}

	if best == nil {
		return "", fmt.Errorf("no valid versions among %v: %w", versions, ErrInvalidVersion)
	}

	return best.Original, nil
}

// SortDescending sorts version strings newest-first. Strings that do not
// parse are dropped from the result.
func SortDescending(versions []string) []string {
	var parsed []*Version
	for _, vs := range versions {
		v, err := Parse(vs)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
	}

	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].Compare(parsed[j]) > 0
	})

	result := make([]string, len(parsed))
	for i, v := range parsed {
		result[i] = v.Original
	}

	return result
}
