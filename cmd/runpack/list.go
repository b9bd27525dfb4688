// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/runpack/runpack/internal/resolver"
	"github.com/runpack/runpack/pkg/semver"
)

// listParams bundles the dependencies and inputs for the list command,
// enabling the core logic in runList to be tested without a real Cobra
// command.
type listParams struct {
	stdout io.Writer
	source string
	logger *log.Logger
	ttl    time.Duration
}

// newListCommand creates the `runpack list` command: it prints the registry
// catalog as runtimes and their released versions.
func newListCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registry contents",
		Long: `List every runtime and released version in the registry.

Versions are shown newest first; the numerically highest version is the one
'latest' resolves to.

Examples:
  runpack list                                      List the configured registry
  runpack list --registry https://cdn.example.com/registry.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			registryFlag, _ := cmd.Flags().GetString("registry")

			p := listParams{
				stdout: cmd.OutOrStdout(),
				source: registrySource(cfg, registryFlag),
				logger: newLogger(cfg),
				ttl:    cfg.RegistryTTL,
			}

			if err := runList(cmd.Context(), p); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", errorIcon, err)
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().String("registry", "", "registry path or URL to list (default: configured registry)")

	return cmd
}

// runList is the core list logic, separated from Cobra for testability.
func runList(ctx context.Context, p listParams) error {
	r := resolver.New(p.source, p.logger, resolver.WithTTL(p.ttl))

	doc, err := r.Document(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(p.stdout, headerStyle.Render("Registry Contents"))
	fmt.Fprintf(p.stdout, "%s Source: %s\n", infoIcon, pathStyle.Render(p.source))
	if !doc.UpdatedAt.IsZero() {
		fmt.Fprintf(p.stdout, "%s Updated: %s\n", infoIcon, doc.UpdatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(p.stdout)

	names := doc.Names()
	if len(names) == 0 {
		fmt.Fprintf(p.stdout, "%s Registry is empty\n", infoIcon)
		fmt.Fprintf(p.stdout, "%s To release a bundle, use: %s\n", infoIcon, CmdStyle.Render("runpack publish <name>"))
		return nil
	}

	total := 0
	for _, name := range names {
		versions := semver.SortDescending(doc.Versions(name))
		total += len(versions)
		if len(versions) > 0 {
			versions[0] = versionStyle.Render(versions[0] + " (latest)")
		}

		fmt.Fprintf(p.stdout, "%s %s\n", successIcon, tagStyle.Render(name))
		fmt.Fprintf(p.stdout, "   %s\n", strings.Join(versions, ", "))
	}

	fmt.Fprintln(p.stdout)
	fmt.Fprintf(p.stdout, "%s %d runtime(s), %d version(s)\n", infoIcon, len(names), total)
	return nil
}
