// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/runpack/runpack/internal/config"
	"github.com/runpack/runpack/pkg/runtimedef"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: all Cobra command handlers receive an App
	// reference and load configuration through its provider.
	App struct {
		Config config.Provider
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp. Tests can
	// supply fakes to pin configuration without touching the filesystem.
	Dependencies struct {
		Config config.Provider
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	return &App{Config: deps.Config}
}

// loadConfig loads configuration, honoring the global --config flag.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the CLI logger from the configured level. The global
// --verbose flag wins over the config so one-off debugging never requires
// a config edit.
func newLogger(cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "runpack"})

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	logger.SetLevel(level)

	return logger
}

// definitionPath returns the runtime definition file for a named runtime:
// <workspace>/<name>/runtime.cue.
func definitionPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.WorkspaceDir, name, runtimedef.DefinitionFilename)
}

// discoverRuntimeNames lists workspace subdirectories that carry a runtime
// definition file, in directory order (already sorted by ReadDir).
func discoverRuntimeNames(workspaceDir string) ([]string, error) {
	entries, err := os.ReadDir(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace %s: %w", workspaceDir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(workspaceDir, entry.Name(), runtimedef.DefinitionFilename)); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// resolveRuntimeNames turns command arguments plus the --all flag into the
// list of runtimes to operate on. Explicit names and --all are mutually
// exclusive; at least one of them is required.
func resolveRuntimeNames(cfg *config.Config, args []string, all bool) ([]string, error) {
	if all && len(args) > 0 {
		return nil, fmt.Errorf("runtime names and --all are mutually exclusive")
	}
	if all {
		names, err := discoverRuntimeNames(cfg.WorkspaceDir)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no runtime definitions found under %s", cfg.WorkspaceDir)
		}
		return names, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no runtimes selected: pass runtime names or --all")
	}
	return args, nil
}

// registrySource picks the registry location for read-side commands: the
// --registry flag when set, the configured path otherwise.
func registrySource(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	return cfg.Registry
}

// isRemoteSource reports whether a registry source is an HTTP(S) URL rather
// than a local filesystem path.
func isRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
