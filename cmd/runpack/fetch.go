// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/runpack/runpack/internal/checksum"
	"github.com/runpack/runpack/internal/resolver"
)

// fetchParams bundles the dependencies and inputs for the fetch command,
// enabling the core logic in runFetch to be tested without a real Cobra
// command.
type fetchParams struct {
	stdout io.Writer
	source string
	logger *log.Logger
	ttl    time.Duration
	name   string
	spec   string
	dest   string
}

// newFetchCommand creates the `runpack fetch` command: resolve, verified
// download, and extraction of a runtime bundle.
func newFetchCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <name> [version|latest]",
		Short: "Download, verify, and extract a runtime bundle",
		Long: `Fetch a runtime bundle: resolve the version against the registry,
download the artifact, verify its SHA-256 digest, and extract the bundle
tree into the destination directory.

Nothing unverified is ever left behind: a digest mismatch removes the
download, and a failed extraction removes the destination directory.

Examples:
  runpack fetch python                  Fetch the latest python release
  runpack fetch python 1.3.2            Fetch an exact version
  runpack fetch python --dest /opt/py   Extract into an explicit directory`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			registryFlag, _ := cmd.Flags().GetString("registry")
			destFlag, _ := cmd.Flags().GetString("dest")

			spec := resolver.LatestSpec
			if len(args) > 1 {
				spec = args[1]
			}

			dest := destFlag
			if dest == "" {
				dest = filepath.Join(cfg.InstallDir, args[0])
			}

			p := fetchParams{
				stdout: cmd.OutOrStdout(),
				source: registrySource(cfg, registryFlag),
				logger: newLogger(cfg),
				ttl:    cfg.RegistryTTL,
				name:   args[0],
				spec:   spec,
				dest:   dest,
			}

			if err := runFetch(cmd.Context(), p); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), formatFetchError(err))
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().String("registry", "", "registry path or URL to resolve against (default: configured registry)")
	cmd.Flags().String("dest", "", "destination directory for the extracted bundle (default: <install dir>/<name>)")

	return cmd
}

// runFetch is the core fetch logic, separated from Cobra for testability.
func runFetch(ctx context.Context, p fetchParams) error {
	r := resolver.New(p.source, p.logger, resolver.WithTTL(p.ttl))

	entry, err := r.Install(ctx, p.name, p.spec, p.dest)
	if err != nil {
		return err
	}

	fmt.Fprintf(p.stdout, "%s Installed %s\n", successIcon, tagStyle.Render(p.name+"@"+entry.Version))
	fmt.Fprintf(p.stdout, "   Destination: %s\n", pathStyle.Render(p.dest))
	fmt.Fprintf(p.stdout, "   Digest:      %s\n", entry.Checksum)
	return nil
}

// formatFetchError produces a user-friendly error message with remediation
// guidance tailored to the fetch failure modes that have one.
func formatFetchError(err error) string {
	var mismatch *checksum.MismatchError
	if errors.As(err, &mismatch) {
		return fmt.Sprintf("%s checksum verification failed\n\nExpected: %s\nGot:      %s\n\nThe download may be corrupted or the registry entry tampered with.\nNothing was installed. Try again, and inspect the registry if it persists.",
			errorIcon, mismatch.Expected, mismatch.Got)
	}

	if errors.Is(err, resolver.ErrUnsafeEntry) {
		return fmt.Sprintf("%s archive contains unsafe entries; refusing to extract\n\n%s", errorIcon, err)
	}

	if errors.Is(err, resolver.ErrFetch) {
		return fmt.Sprintf("%s %s\n\nCheck your network connection and the registry source, then retry.", errorIcon, err)
	}

	return fmt.Sprintf("%s %s", errorIcon, err)
}
