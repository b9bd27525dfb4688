// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with YAML as
// the file format.
//
// Configuration is loaded from runpack.yaml in the current directory or the
// platform config directory (~/.config/runpack on Linux, XDG equivalent
// elsewhere), with RUNPACK_* environment variables overriding file values.
// The package provides type-safe access to pipeline directories, the
// registry location, build parallelism, and object store credentials.
package config
