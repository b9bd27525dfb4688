// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for runpack.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "runpack",
		Short: "Build, publish, and fetch versioned runtime bundles",
		Long: TitleStyle.Render("runpack") + SubtitleStyle.Render(" - Runtime bundle build and distribution pipeline") + `

runpack builds self-contained runtime bundles (interpreters, SDKs, trust
stores) from declarative CUE definitions, packages them into checksummed
tar.gz artifacts, and records them in a versioned JSON registry. Consumers
resolve a version, download the artifact, verify its digest, and extract
the bundle with its compiled mount manifest.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Describe a runtime in <workspace>/<name>/runtime.cue
  2. Build and package it with: runpack build <name>
  3. Publish it to the registry with: runpack publish <name>

` + SubtitleStyle.Render("Examples:") + `
  runpack validate --all        Validate every runtime definition
  runpack build python          Build and package the 'python' bundle
  runpack publish python        Record the packaged artifact in the registry
  runpack resolve python latest Show the highest released version
  runpack fetch python 1.3.2    Download, verify, and extract a bundle
  runpack list                  List registry contents`,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is runpack.yaml in the working or user config directory)")

	// Add subcommands
	app := NewApp(Dependencies{})
	rootCmd.AddCommand(newValidateCommand(app))
	rootCmd.AddCommand(newBuildCommand(app))
	rootCmd.AddCommand(newPublishCommand(app))
	rootCmd.AddCommand(newResolveCommand(app))
	rootCmd.AddCommand(newFetchCommand(app))
	rootCmd.AddCommand(newListCommand(app))
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Use fang.Execute for enhanced Cobra styling
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
