// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/runpack/runpack/internal/config"
	"github.com/runpack/runpack/pkg/runtimedef"
)

// validateParams bundles the dependencies and inputs for the validate
// command, enabling the core logic in runValidate to be tested without a
// real Cobra command.
type validateParams struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
	names  []string
}

// newValidateCommand creates the `runpack validate` command. It parses each
// selected runtime definition against the embedded CUE schema, runs the
// structural checks, and reports lint findings. Lint findings are warnings;
// schema or structural violations fail the command.
func newValidateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [name...]",
		Short: "Validate runtime definitions",
		Long: `Validate runtime definitions against the embedded CUE schema.

Each selected runtime's <workspace>/<name>/runtime.cue is parsed and checked:
name and version grammar, bundle-relative paths, mount targets, and asset
plans. Lint findings (unreadable script hooks, unusual platform identifiers)
are reported as warnings and do not fail validation.

Examples:
  runpack validate python        Validate a single definition
  runpack validate --all         Validate every definition in the workspace`,
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

			p := validateParams{
				stdout: cmd.OutOrStdout(),
				stderr: cmd.ErrOrStderr(),
				cfg:    cfg,
				names:  names,
			}

			if err := runValidate(p); err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "validate every runtime definition in the workspace")

	return cmd
}

// runValidate is the core validation logic, separated from Cobra for
// testability. All user-facing output goes through p.stdout and p.stderr.
func runValidate(p validateParams) error {
	fmt.Fprintln(p.stdout, headerStyle.Render("Runtime Definition Validation"))
	fmt.Fprintf(p.stdout, "%s Workspace: %s\n", infoIcon, pathStyle.Render(p.cfg.WorkspaceDir))
	fmt.Fprintln(p.stdout)

	failed := 0
	warnings := 0
	for _, name := range p.names {
		defPath := definitionPath(p.cfg, name)

		def, err := runtimedef.Parse(defPath)
		if err != nil {
			failed++
			fmt.Fprintf(p.stderr, "%s %s\n", errorIcon, tagStyle.Render(name))
			fmt.Fprintf(p.stderr, "   %s\n", err)
			continue
		}

		fmt.Fprintf(p.stdout, "%s %s\n", successIcon, tagStyle.Render(def.Tag()))
		for _, w := range def.Lint(filepath.Dir(defPath)) {
			warnings++
			fmt.Fprintf(p.stdout, "   %s %s\n", warnIcon, w.String())
		}
	}

	fmt.Fprintln(p.stdout)
	if failed > 0 {
		fmt.Fprintf(p.stderr, "%s Validation failed: %d of %d definition(s) rejected\n", errorIcon, failed, len(p.names))
		return fmt.Errorf("%d of %d definitions rejected", failed, len(p.names))
	}

	if warnings > 0 {
		fmt.Fprintf(p.stdout, "%s %d definition(s) valid, %d lint warning(s)\n", successIcon, len(p.names), warnings)
	} else {
		fmt.Fprintf(p.stdout, "%s %d definition(s) valid\n", successIcon, len(p.names))
	}
	return nil
}
