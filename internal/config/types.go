// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"github.com/runpack/runpack/internal/objectstore"
)

// maxDefaultBuildJobs caps the derived batch build parallelism. Bundle
// builds are I/O heavy; more workers than this mostly contend on disk.
const maxDefaultBuildJobs = 4

// ErrInvalidConfig is the sentinel error wrapped by config validation
// failures.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the application configuration.
type Config struct {
	// WorkspaceDir holds runtime definition directories
	// (<workspace>/<name>/runtime.cue).
	WorkspaceDir string `json:"workspace_dir" mapstructure:"workspace_dir"`
	// BuildDir receives bundle trees (<build>/<name>/<version>).
	BuildDir string `json:"build_dir" mapstructure:"build_dir"`
	// DistDir receives packaged archives and checksum sidecars.
	DistDir string `json:"dist_dir" mapstructure:"dist_dir"`
	// Registry is the path or URL of the registry document.
	Registry string `json:"registry" mapstructure:"registry"`
	// InstallDir is where fetched bundles are extracted.
	InstallDir string `json:"install_dir" mapstructure:"install_dir"`
	// DownloadBaseURL prefixes published download URLs when no object
	// store is configured. Empty falls back to the local archive path.
	DownloadBaseURL string `json:"download_base_url" mapstructure:"download_base_url"`
	// BuildJobs caps batch build parallelism. Zero derives the count
	// from the CPU count.
	BuildJobs int `json:"build_jobs" mapstructure:"build_jobs"`
	// RegistryTTL is how long the resolver caches the registry document.
	RegistryTTL time.Duration `json:"registry_ttl" mapstructure:"registry_ttl"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" mapstructure:"log_level"`
	// Store configures artifact uploads. The zero value disables them.
	Store objectstore.Config `json:"store" mapstructure:"store"`
}

// DefaultConfig returns the built-in configuration values.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceDir: ".",
		BuildDir:     "build",
		DistDir:      "dist",
		Registry:     "dist/registry.json",
		InstallDir:   "runtimes",
		BuildJobs:    0, // derived from the CPU count at use
		RegistryTTL:  5 * time.Minute,
		LogLevel:     "info",
	}
}

// Validate aggregates field violations. The store section is only checked
// when an endpoint is set.
func (c *Config) Validate() error {
	var errs []error
	if c.BuildJobs < 0 {
		errs = append(errs, fmt.Errorf("build_jobs must be >= 0, got %d", c.BuildJobs))
	}
	if c.RegistryTTL < 0 {
		errs = append(errs, fmt.Errorf("registry_ttl must be >= 0, got %s", c.RegistryTTL))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Store.Configured() {
		if err := c.Store.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// EffectiveBuildJobs resolves the batch build worker count.
func (c *Config) EffectiveBuildJobs() int {
	if c.BuildJobs > 0 {
		return c.BuildJobs
	}
	n := runtime.NumCPU()
	if n > maxDefaultBuildJobs {
		n = maxDefaultBuildJobs
	}
	return n
}
