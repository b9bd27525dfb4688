// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/runpack/runpack/internal/builder"
	"github.com/runpack/runpack/internal/checksum"
	"github.com/runpack/runpack/internal/config"
	"github.com/runpack/runpack/internal/mountplan"
	"github.com/runpack/runpack/internal/packager"
	"github.com/runpack/runpack/pkg/runtimedef"
)

type (
	// buildParams bundles the dependencies and inputs for the build command,
	// enabling the core logic in runBuild to be tested without a real Cobra
	// command.
	buildParams struct {
		stdout io.Writer
		stderr io.Writer
		cfg    *config.Config
		logger *log.Logger
		names  []string
		jobs   int
	}

	// buildOutcome is one runtime's result within a batch build.
	buildOutcome struct {
		name     string
		artifact *packager.Artifact
		report   builder.Report
		elapsed  time.Duration
		err      error
	}
)

// newBuildCommand creates the `runpack build` command: bundle tree build,
// mount manifest compilation, and artifact packaging for each selected
// runtime. Runtimes build concurrently; one runtime's failure never stops
// the others.
func newBuildCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [name...]",
		Short: "Build and package runtime bundles",
		Long: `Build runtime bundles and package them into release artifacts.

For each selected runtime, build populates the bundle tree under the build
directory (asset plans first, then the optional script hook), compiles the
mount manifest into the bundle root, and packages the tree into a
deterministic tar.gz with a SHA-256 sidecar under the dist directory.

Runtimes build concurrently up to the configured job count. A failed
runtime is reported in the summary and the command exits non-zero, but the
remaining runtimes still build.

Examples:
  runpack build python           Build a single bundle
  runpack build --all            Build every definition in the workspace
  runpack build --all --jobs 2   Build with at most two concurrent builds`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			allFlag, _ := cmd.Flags().GetBool("all")
			names, err := resolveRuntimeNames(cfg, args, allFlag)
			if err != nil {
				return err
			}

			jobs, _ := cmd.Flags().GetInt("jobs")
			if jobs < 0 {
				return fmt.Errorf("--jobs must not be negative, got %d", jobs)
			}
			if jobs == 0 {
				jobs = cfg.EffectiveBuildJobs()
			}

			p := buildParams{
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				cfg:    cfg,
				logger: newLogger(cfg),
				names:  names,
				jobs:   jobs,
			}

			if err := runBuild(cmd.Context(), p); err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "build every runtime definition in the workspace")
	cmd.Flags().IntP("jobs", "j", 0, "maximum concurrent builds (default: CPU count, capped at 4)")

	return cmd
}

// runBuild is the core batch build logic, separated from Cobra for
// testability. Workers share one Builder and one Packager; both only read
// their fields after construction. Outcomes are rendered in input order
// once every worker has finished, so concurrent builds never interleave
// output.
func runBuild(ctx context.Context, p buildParams) error {
	fmt.Fprintln(p.stdout, headerStyle.Render("Build Runtime Bundles"))
	fmt.Fprintf(p.stdout, "%s Workspace: %s\n", infoIcon, pathStyle.Render(p.cfg.WorkspaceDir))
	fmt.Fprintf(p.stdout, "%s Runtimes:  %d, jobs: %d\n", infoIcon, len(p.names), p.jobs)
	fmt.Fprintln(p.stdout)

	b := builder.New(p.cfg.BuildDir, p.logger)
	pkg := packager.New(p.cfg.DistDir, p.logger)

	workers := min(p.jobs, len(p.names))
	pending := make(chan string)
	results := make(chan buildOutcome, len(p.names))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range pending {
				results <- buildOne(ctx, p.cfg, b, pkg, name)
			}
		}()
	}

	for _, name := range p.names {
		pending <- name
	}
	close(pending)
	wg.Wait()
	close(results)

	outcomes := make(map[string]buildOutcome, len(p.names))
	for outcome := range results {
		outcomes[outcome.name] = outcome
	}

	failed := 0
	for _, name := range p.names {
		outcome := outcomes[name]
		if outcome.err != nil {
			failed++
			fmt.Fprintf(p.stderr, "%s %s\n", errorIcon, tagStyle.Render(name))
			fmt.Fprintf(p.stderr, "   %s\n", outcome.err)
			continue
		}

		fmt.Fprintf(p.stdout, "%s %s (%d asset(s) installed, %d skipped, %s)\n",
			successIcon,
			tagStyle.Render(outcome.artifact.Tag()),
			outcome.report.Installed(),
			outcome.report.Skipped(),
			outcome.elapsed.Round(time.Millisecond),
		)
		fmt.Fprintf(p.stdout, "   %s\n", pathStyle.Render(outcome.artifact.ArchivePath))
		fmt.Fprintf(p.stdout, "   %s\n", checksum.WithPrefix(outcome.artifact.SHA256))
	}

	fmt.Fprintln(p.stdout)
	if failed > 0 {
		fmt.Fprintf(p.stderr, "%s Build failed: %d of %d bundle(s) failed\n", errorIcon, failed, len(p.names))
		return fmt.Errorf("%d of %d builds failed", failed, len(p.names))
	}

	fmt.Fprintf(p.stdout, "%s %d bundle(s) built\n", successIcon, len(p.names))
	return nil
}

// buildOne runs the full pipeline for a single runtime: parse, build the
// tree, compile and write the mount manifest, package the artifact.
func buildOne(ctx context.Context, cfg *config.Config, b *builder.Builder, pkg *packager.Packager, name string) buildOutcome {
	start := time.Now()
	outcome := buildOutcome{name: name}

	def, err := runtimedef.Parse(definitionPath(cfg, name))
	if err != nil {
		outcome.err = err
		return outcome
	}

	result, err := b.Build(ctx, def)
	if err != nil {
		outcome.err = err
		return outcome
	}
	outcome.report = result.Report

	manifest, err := mountplan.Compile(result.Root, def)
	if err != nil {
		outcome.err = err
		return outcome
	}
	if err := manifest.WriteFile(filepath.Join(result.Root, mountplan.ManifestFilename)); err != nil {
		outcome.err = err
		return outcome
	}

	artifact, err := pkg.Package(ctx, def, result.Root)
	if err != nil {
		outcome.err = err
		return outcome
	}

	outcome.artifact = artifact
	outcome.elapsed = time.Since(start)
	return outcome
}
