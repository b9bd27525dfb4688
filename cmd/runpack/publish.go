// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/runpack/runpack/internal/checksum"
	"github.com/runpack/runpack/internal/config"
	"github.com/runpack/runpack/internal/objectstore"
	"github.com/runpack/runpack/internal/packager"
	"github.com/runpack/runpack/internal/registry"
	"github.com/runpack/runpack/pkg/runtimedef"
)

// publishParams bundles the dependencies and inputs for the publish command,
// enabling the core logic in runPublish to be tested without a real Cobra
// command or live object store.
type publishParams struct {
	stdout       io.Writer
	cfg          *config.Config
	logger       *log.Logger
	name         string
	registryPath string
}

// newPublishCommand creates the `runpack publish` command: it records a
// previously packaged artifact in the registry, uploading it to the object
// store first when one is configured.
func newPublishCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <name>",
		Short: "Record a packaged artifact in the registry",
		Long: `Publish a packaged runtime bundle to the version registry.

The artifact must already exist under the dist directory (run 'runpack
build <name>' first). Its sidecar digest is re-verified against the archive
bytes, the archive and sidecar are uploaded to the object store when one is
configured, and the registry document gains (or re-confirms) the version
entry.

Re-publishing an identical artifact is a no-op. Re-publishing a version
with different archive bytes is rejected: released bytes never change under
a version.

Examples:
  runpack publish python                           Publish to the configured registry
  runpack publish python --registry /tmp/reg.json  Publish to an explicit registry file`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			registryFlag, _ := cmd.Flags().GetString("registry")
			registryPath := registrySource(cfg, registryFlag)
			if isRemoteSource(registryPath) {
				return fmt.Errorf("cannot publish to remote registry %s: pass a local registry path", registryPath)
			}

			p := publishParams{
				stdout:       cmd.OutOrStdout(),
				cfg:          cfg,
				logger:       newLogger(cfg),
				name:         args[0],
				registryPath: registryPath,
			}

			if err := runPublish(cmd.Context(), p); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), formatPublishError(err))
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().String("registry", "", "registry file to publish into (default: configured registry)")

	return cmd
}

// runPublish is the core publish logic, separated from Cobra for
// testability.
//
// Flow:
//  1. Parse the runtime definition (version, description, platforms).
//  2. Locate the packaged archive and sidecar under the dist directory.
//  3. Re-verify the archive bytes against the sidecar digest.
//  4. Upload archive and sidecar to the object store when configured.
//  5. Merge the entry into the registry document via the CAS loop.
func runPublish(ctx context.Context, p publishParams) error {
	def, err := runtimedef.Parse(definitionPath(p.cfg, p.name))
	if err != nil {
		return err
	}

	artifact, err := loadArtifact(p.cfg.DistDir, def)
	if err != nil {
		return err
	}

	downloadURL, err := artifactDownloadURL(ctx, p, artifact)
	if err != nil {
		return err
	}

	store := registry.NewFileStore(p.registryPath)
	updater := registry.NewUpdater(store, p.logger)

	outcome, err := updater.Publish(ctx, def, artifact, downloadURL)
	if err != nil {
		return err
	}

	fmt.Fprintln(p.stdout, headerStyle.Render("Publish Artifact"))
	fmt.Fprintf(p.stdout, "%s Published %s (%s)\n", successIcon, tagStyle.Render(artifact.Tag()), outcome)
	fmt.Fprintf(p.stdout, "%s Registry: %s\n", infoIcon, pathStyle.Render(p.registryPath))
	fmt.Fprintf(p.stdout, "%s URL:      %s\n", infoIcon, downloadURL)
	fmt.Fprintf(p.stdout, "%s Digest:   %s\n", infoIcon, checksum.WithPrefix(artifact.SHA256))
	return nil
}

// loadArtifact reconstructs the packaged artifact for a definition from the
// dist directory: the archive and sidecar must exist, and the archive bytes
// must still match the sidecar digest. A digest recomputed at publish time
// means a corrupted or hand-edited archive never reaches the registry.
func loadArtifact(distDir string, def *runtimedef.Definition) (*packager.Artifact, error) {
	archivePath := filepath.Join(distDir, runtimedef.ArchiveFilename(def.Name, def.Version))
	sidecarPath := filepath.Join(distDir, runtimedef.SidecarFilename(def.Name, def.Version))

	info, err := os.Stat(archivePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no packaged artifact for %s at %s: run %s first",
				def.Tag(), archivePath, CmdStyle.Render("runpack build "+def.Name))
		}
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	entry, err := checksum.ReadSidecarFile(sidecarPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read checksum sidecar %s: %w", sidecarPath, err)
	}
	if err := checksum.VerifyFile(archivePath, entry.Digest); err != nil {
		return nil, err
	}

	return &packager.Artifact{
		Name:        def.Name,
		Version:     def.Version,
		ArchivePath: archivePath,
		SidecarPath: sidecarPath,
		SHA256:      entry.Digest,
		Size:        info.Size(),
	}, nil
}

// artifactDownloadURL decides where consumers will download the artifact
// from: the object store URL when a store is configured, the configured
// download base URL otherwise, the absolute local archive path as the last
// resort (single-host setups).
func artifactDownloadURL(ctx context.Context, p publishParams, artifact *packager.Artifact) (string, error) {
	if p.cfg.Store.Configured() {
		client, err := objectstore.New(p.cfg.Store, p.logger)
		if err != nil {
			return "", err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return "", err
		}
		return client.UploadArtifact(ctx, artifact)
	}

	if p.cfg.DownloadBaseURL != "" {
		base := strings.TrimSuffix(p.cfg.DownloadBaseURL, "/")
		return base + "/" + filepath.Base(artifact.ArchivePath), nil
	}

	return filepath.Abs(artifact.ArchivePath)
}

// formatPublishError produces a user-friendly error message with actionable
// guidance for the publish failure modes that have one.
func formatPublishError(err error) string {
	var conflict *registry.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Sprintf("%s %s@%s is already released with different archive bytes\n\nPublished: %s\nProposed:  %s\n\nReleased bytes never change under a version. Bump the version in the\nruntime definition and rebuild.",
			errorIcon, conflict.Name, conflict.Version, conflict.Existing, conflict.Proposed)
	}

	if errors.Is(err, registry.ErrWriteRace) {
		return fmt.Sprintf("%s other publishers kept changing the registry; rerun the publish\n\n%s", errorIcon, err)
	}

	var mismatch *checksum.MismatchError
	if errors.As(err, &mismatch) {
		return fmt.Sprintf("%s packaged artifact no longer matches its sidecar\n\nExpected: %s\nGot:      %s\n\nThe dist directory is corrupted. Rebuild the bundle.",
			errorIcon, mismatch.Expected, mismatch.Got)
	}

	return fmt.Sprintf("%s %s", errorIcon, err)
}
