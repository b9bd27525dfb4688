// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/runpack/runpack/pkg/runtimedef"
)

var (
	// ErrCriticalAssetMissing is the sentinel error wrapped by CriticalAssetError.
	ErrCriticalAssetMissing = errors.New("critical asset missing")

	// ErrScriptFailed is the sentinel error wrapped by ScriptError.
	ErrScriptFailed = errors.New("build script failed")
)

type (
	// Producer populates a bundle tree from host sources. The builder runs
	// producers in order; each appends its findings to the request's report.
	Producer interface {
		Name() string
		Populate(ctx context.Context, req *Request) error
	}

	// Request carries everything a producer needs for one bundle build.
	Request struct {
		// Root is the bundle tree being populated.
		Root string
		// Def is the validated runtime definition.
		Def *runtimedef.Definition
		// Info identifies the current build (propagated into script env).
		Info BuildInfo
		// Report accumulates per-asset results across producers.
		Report *Report
		// Log is the per-build logger.
		Log *log.Logger
	}

	// CriticalAssetError is returned when no candidate of a critical asset
	// plan matched on the host. It aborts the runtime's build.
	CriticalAssetError struct {
		Runtime    string
		Target     runtimedef.BundlePath
		Candidates []string
	}

	// ScriptError is returned when the build script hook exits non-zero or
	// fails to parse.
	ScriptError struct {
		Runtime  string
		ExitCode int
		Stderr   string
		Err      error
	}

	// AssetProducer evaluates the definition's asset plans: candidates in
	// priority order, first match wins, criticality decides what a total
	// miss means.
	AssetProducer struct{}

	// ScriptProducer runs the definition's inline shell hook with the
	// bundle root as working directory. The hook runs after asset plans so
	// it can rearrange what they installed.
	ScriptProducer struct{}
)

// Error implements the error interface.
func (e *CriticalAssetError) Error() string {
	return fmt.Sprintf("runtime %s: no candidate found for critical asset %q (tried %d candidate(s))",
		e.Runtime, e.Target, len(e.Candidates))
}

// Unwrap returns ErrCriticalAssetMissing so callers can use errors.Is for programmatic detection.
func (e *CriticalAssetError) Unwrap() error { return ErrCriticalAssetMissing }

// Error implements the error interface.
func (e *ScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("runtime %s: build script: %v", e.Runtime, e.Err)
	}
	return fmt.Sprintf("runtime %s: build script exited with status %d", e.Runtime, e.ExitCode)
}

// Unwrap returns ErrScriptFailed so callers can use errors.Is for programmatic detection.
func (e *ScriptError) Unwrap() error { return ErrScriptFailed }

// Name identifies the producer in logs.
func (AssetProducer) Name() string { return "assets" }

// Populate copies each asset plan's first matching candidate into the bundle
// tree. A critical plan with no match aborts the build; a non-critical one
// records a skipped entry and the build continues.
func (AssetProducer) Populate(ctx context.Context, req *Request) error {
	for _, plan := range req.Def.Build.Assets {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, found, err := firstCandidate(plan.Sources)
		if err != nil {
			return fmt.Errorf("asset %q: %w", plan.Target, err)
		}

		if !found {
			if plan.Critical {
				return &CriticalAssetError{
					Runtime:    req.Def.Name,
					Target:     plan.Target,
					Candidates: plan.Sources,
				}
			}
			req.Log.Warn("optional asset not found; skipping",
				"target", plan.Target, "candidates", len(plan.Sources))
			req.Report.Assets = append(req.Report.Assets, AssetResult{
				Target: plan.Target,
				Status: AssetSkipped,
			})
			continue
		}

		dst := filepath.Join(req.Root, plan.Target.Clean().String())
		if err := CopyTree(ctx, src, dst, plan.Dereference); err != nil {
			return fmt.Errorf("asset %q: %w", plan.Target, err)
		}

		req.Log.Debug("asset installed", "target", plan.Target, "source", src)
		req.Report.Assets = append(req.Report.Assets, AssetResult{
			Target: plan.Target,
			Status: AssetInstalled,
			Source: src,
		})
	}

	return nil
}

// firstCandidate returns the first candidate path that exists on the host.
// Candidates containing glob metacharacters are expanded with doublestar;
// matches within one pattern are taken in lexical order so repeated builds
// pick the same source.
func firstCandidate(candidates []string) (string, bool, error) {
	for _, candidate := range candidates {
		if !strings.ContainsAny(candidate, "*?[{") {
			if _, err := os.Lstat(candidate); err == nil {
				return candidate, true, nil
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(candidate)
		if err != nil {
			return "", false, fmt.Errorf("bad glob pattern %q: %w", candidate, err)
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0], true, nil
	}
	return "", false, nil
}

// Name identifies the producer in logs.
func (ScriptProducer) Name() string { return "script" }

// Populate parses and runs the definition's build script, if any. The script
// sees the bundle root as its working directory plus RUNPACK_* variables
// identifying the bundle and the build.
func (ScriptProducer) Populate(ctx context.Context, req *Request) error {
	script := req.Def.Build.Script
	if strings.TrimSpace(script) == "" {
		return nil
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "build.script")
	if err != nil {
		return &ScriptError{Runtime: req.Def.Name, Err: fmt.Errorf("syntax error: %w", err)}
	}

	env := append(os.Environ(),
		"RUNPACK_BUNDLE_ROOT="+req.Root,
		"RUNPACK_RUNTIME_NAME="+req.Def.Name,
		"RUNPACK_RUNTIME_VERSION="+req.Def.Version,
		"RUNPACK_BUILD_ID="+req.Info.ID,
		"RUNPACK_PLATFORM="+req.Info.Platform,
	)

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(req.Root),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, &stdout, &stderr),
	)
	if err != nil {
		return &ScriptError{Runtime: req.Def.Name, Err: fmt.Errorf("failed to create interpreter: %w", err)}
	}

	if err := runner.Run(ctx, prog); err != nil {
		var exitStatus interp.ExitStatus
		if errors.As(err, &exitStatus) {
			return &ScriptError{
				Runtime:  req.Def.Name,
				ExitCode: int(exitStatus),
				Stderr:   stderr.String(),
			}
		}
		return &ScriptError{Runtime: req.Def.Name, Err: err}
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		req.Log.Debug("build script output", "stdout", out)
	}
	req.Report.ScriptRan = true

	return nil
}
