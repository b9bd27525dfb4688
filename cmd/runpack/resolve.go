// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/runpack/runpack/internal/resolver"
)

// resolveParams bundles the dependencies and inputs for the resolve command,
// enabling the core logic in runResolve to be tested without a real Cobra
// command.
type resolveParams struct {
	stdout  io.Writer
	source  string
	logger  *log.Logger
	ttl     time.Duration
	name    string
	spec    string
	jsonOut bool
}

// newResolveCommand creates the `runpack resolve` command: it maps a runtime
// name and version spec to the registry entry consumers would download.
func newResolveCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <name> [version|latest]",
		Short: "Resolve a runtime version against the registry",
		Long: `Resolve a runtime name and version spec to its registry entry.

The spec is either an exact MAJOR.MINOR.PATCH version or 'latest', which
selects the numerically highest released version. Omitting the spec means
'latest'.

Examples:
  runpack resolve python           Resolve the latest python release
  runpack resolve python 1.3.2     Resolve an exact version
  runpack resolve python --json    Print the entry as JSON`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			registryFlag, _ := cmd.Flags().GetString("registry")
			jsonFlag, _ := cmd.Flags().GetBool("json")

			spec := resolver.LatestSpec
			if len(args) > 1 {
				spec = args[1]
			}

			p := resolveParams{
				stdout:  cmd.OutOrStdout(),
				source:  registrySource(cfg, registryFlag),
				logger:  newLogger(cfg),
				ttl:     cfg.RegistryTTL,
				name:    args[0],
				spec:    spec,
				jsonOut: jsonFlag,
			}

			if err := runResolve(cmd.Context(), p); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", errorIcon, err)
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().String("registry", "", "registry path or URL to resolve against (default: configured registry)")
	cmd.Flags().Bool("json", false, "print the resolved entry as JSON")

	return cmd
}

// runResolve is the core resolve logic, separated from Cobra for
// testability. JSON output is unstyled so it can feed scripts and other
// tools.
func runResolve(ctx context.Context, p resolveParams) error {
	r := resolver.New(p.source, p.logger, resolver.WithTTL(p.ttl))

	entry, err := r.Resolve(ctx, p.name, p.spec)
	if err != nil {
		return err
	}

	if p.jsonOut {
		data, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
		fmt.Fprintln(p.stdout, string(data))
		return nil
	}

	fmt.Fprintf(p.stdout, "%s %s\n", successIcon, tagStyle.Render(p.name+"@"+entry.Version))
	fmt.Fprintf(p.stdout, "   URL:       %s\n", entry.DownloadURL)
	fmt.Fprintf(p.stdout, "   Digest:    %s\n", entry.Checksum)
	fmt.Fprintf(p.stdout, "   Size:      %d bytes\n", entry.Size)
	if len(entry.Platforms) > 0 {
		fmt.Fprintf(p.stdout, "   Platforms: %s\n", strings.Join(entry.Platforms, ", "))
	}
	if entry.Description != "" {
		fmt.Fprintf(p.stdout, "   %s\n", pathStyle.Render(entry.Description))
	}
	return nil
}
