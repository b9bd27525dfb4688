// SPDX-License-Identifier: MPL-2.0

// Package builder turns validated runtime definitions into populated bundle
// directory trees. It creates the skeleton layout, runs the bundle source
// producers, and classifies per-asset failures: critical misses abort the
// runtime's build, non-critical misses are reported and skipped.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/runpack/runpack/pkg/runtimedef"
)

// DefaultSkeleton is the fixed top-level layout every bundle tree starts
// from. Asset plans and the script hook add the language-specific parts.
var DefaultSkeleton = []string{
	"usr/bin",
	"usr/lib",
	"etc/ssl/certs",
	"tmp",
}

type (
	// AssetStatus classifies an asset plan's outcome.
	AssetStatus string

	// AssetResult is one asset plan's outcome within a build report.
	AssetResult struct {
		Target runtimedef.BundlePath
		Status AssetStatus
		// Source is the host candidate that matched (installed assets only).
		Source string
	}

	// Report accumulates what the producers did for one bundle build.
	Report struct {
		Assets    []AssetResult
		ScriptRan bool
	}

	// BuildInfo identifies one build run. Purely informational: it is
	// logged and exposed to the script hook, never part of the artifact.
	BuildInfo struct {
		ID       string
		Platform string
	}

	// Result describes a completed bundle build.
	Result struct {
		// Root is the populated bundle tree.
		Root string
		// Def is the definition that was built.
		Def *runtimedef.Definition
		// Info identifies the build run.
		Info BuildInfo
		// Report holds per-asset outcomes.
		Report Report
		// Elapsed is the wall-clock build duration.
		Elapsed time.Duration
	}

	// Builder builds bundle trees under a working directory.
	Builder struct {
		workDir   string
		skeleton  []string
		producers []Producer
		info      BuildInfo
		clock     func() time.Time
		log       *log.Logger
	}

	// Option configures a Builder.
	Option func(*Builder)
)

const (
	// AssetInstalled means a candidate matched and was copied in.
	AssetInstalled AssetStatus = "installed"
	// AssetSkipped means no candidate matched for a non-critical plan.
	AssetSkipped AssetStatus = "skipped"
)

// Installed counts assets that were copied into the tree.
func (r *Report) Installed() int {
	n := 0
	for _, a := range r.Assets {
		if a.Status == AssetInstalled {
			n++
		}
	}
	return n
}

// Skipped counts non-critical assets that had no matching candidate.
func (r *Report) Skipped() int {
	n := 0
	for _, a := range r.Assets {
		if a.Status == AssetSkipped {
			n++
		}
	}
	return n
}

// BuildInfoFromEnv assembles the build identifiers from the environment:
// RUNPACK_BUILD_ID and RUNPACK_PLATFORM when set, otherwise a generated UUID
// and the host's GOOS-GOARCH pair.
func BuildInfoFromEnv() BuildInfo {
	id := os.Getenv("RUNPACK_BUILD_ID")
	if id == "" {
		id = uuid.NewString()
	}
	platform := os.Getenv("RUNPACK_PLATFORM")
	if platform == "" {
		platform = runtime.GOOS + "-" + runtime.GOARCH
	}
	return BuildInfo{ID: id, Platform: platform}
}

// WithSkeleton overrides the default top-level layout.
func WithSkeleton(dirs []string) Option {
	return func(b *Builder) {
		b.skeleton = dirs
	}
}

// WithProducers overrides the default producer chain (assets, then script).
func WithProducers(producers ...Producer) Option {
	return func(b *Builder) {
		b.producers = producers
	}
}

// WithBuildInfo pins the build identifiers instead of reading the environment.
func WithBuildInfo(info BuildInfo) Option {
	return func(b *Builder) {
		b.info = info
	}
}

// WithClock sets a custom time source for testing.
func WithClock(clock func() time.Time) Option {
	return func(b *Builder) {
		b.clock = clock
	}
}

// New creates a Builder that assembles bundle trees under workDir.
func New(workDir string, logger *log.Logger, opts ...Option) *Builder {
	b := &Builder{
		workDir:   workDir,
		skeleton:  DefaultSkeleton,
		producers: []Producer{AssetProducer{}, ScriptProducer{}},
		info:      BuildInfoFromEnv(),
		clock:     time.Now,
		log:       logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BundleRoot returns the tree location for a runtime version:
// <workDir>/<name>/<version>.
func (b *Builder) BundleRoot(def *runtimedef.Definition) string {
	return filepath.Join(b.workDir, def.Name, def.Version)
}

// Build validates the definition, creates the skeleton, and runs the
// producers in order. A failed build may leave a partially populated tree
// behind; later pipeline stages never consume it implicitly, and rerunning
// the build over it is safe because skeleton creation and asset copies are
// idempotent.
func (b *Builder) Build(ctx context.Context, def *runtimedef.Definition) (*Result, error) {
	start := b.clock()

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("definition rejected: %w", err)
	}
	if def.FilePath != "" {
		for _, w := range def.Lint(filepath.Dir(def.FilePath)) {
			b.log.Warn("definition lint", "runtime", def.Name, "finding", w.String())
		}
	}

	root := b.BundleRoot(def)
	if err := b.createSkeleton(root); err != nil {
		return nil, fmt.Errorf("runtime %s: skeleton: %w", def.Name, err)
	}

	logger := b.log.With("runtime", def.Name, "version", def.Version, "build_id", b.info.ID)
	logger.Info("building bundle", "root", root, "platform", b.info.Platform)

	result := &Result{
		Root: root,
		Def:  def,
		Info: b.info,
	}

	req := &Request{
		Root:   root,
		Def:    def,
		Info:   b.info,
		Report: &result.Report,
		Log:    logger,
	}

	for _, producer := range b.producers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := producer.Populate(ctx, req); err != nil {
			return nil, fmt.Errorf("producer %s: %w", producer.Name(), err)
		}
	}

	result.Elapsed = b.clock().Sub(start)
	logger.Info("bundle built",
		"installed", result.Report.Installed(),
		"skipped", result.Report.Skipped(),
		"elapsed", result.Elapsed)

	return result, nil
}

// createSkeleton creates the fixed top-level layout. MkdirAll makes this
// idempotent: rebuilding over an existing tree neither fails nor duplicates.
func (b *Builder) createSkeleton(root string) error {
	for _, dir := range b.skeleton {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return err
		}
	}
	return nil
}
