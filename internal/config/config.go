// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "runpack"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "runpack"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "yaml"
	// EnvPrefix namespaces environment variable overrides (RUNPACK_*).
	EnvPrefix = "RUNPACK"
)

// ConfigDir returns the runpack configuration directory under the platform
// config root (~/.config/runpack on Linux).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	// Allow tests to override the config directory
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. Callers that want caching can wrap this function.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	// Set defaults. Every key registered here is also visible to the
	// RUNPACK_* environment binding below.
	defaults := DefaultConfig()
	v.SetDefault("workspace_dir", defaults.WorkspaceDir)
	v.SetDefault("build_dir", defaults.BuildDir)
	v.SetDefault("dist_dir", defaults.DistDir)
	v.SetDefault("registry", defaults.Registry)
	v.SetDefault("install_dir", defaults.InstallDir)
	v.SetDefault("download_base_url", defaults.DownloadBaseURL)
	v.SetDefault("build_jobs", defaults.BuildJobs)
	v.SetDefault("registry_ttl", defaults.RegistryTTL)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("store.endpoint", defaults.Store.Endpoint)
	v.SetDefault("store.access_key", defaults.Store.AccessKey)
	v.SetDefault("store.secret_key", defaults.Store.SecretKey)
	v.SetDefault("store.bucket", defaults.Store.Bucket)
	v.SetDefault("store.region", defaults.Store.Region)
	v.SetDefault("store.use_ssl", defaults.Store.UseSSL)
	v.SetDefault("store.public_base_url", defaults.Store.PublicBaseURL)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""

	// If a custom config file path is set via --config flag, use it exclusively.
	if opts.ConfigFilePath != "" {
		v.SetConfigFile(opts.ConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("loading config %s: %w", opts.ConfigFilePath, err)
		}
		resolvedPath = v.ConfigFileUsed()
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType(ConfigFileExt)
		if opts.ConfigDirPath != "" {
			v.AddConfigPath(opts.ConfigDirPath)
		} else {
			v.AddConfigPath(".")
			if dir, err := ConfigDir(); err == nil {
				v.AddConfigPath(dir)
			}
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, "", fmt.Errorf("loading config: %w", err)
			}
			// No config file found: defaults plus env overrides.
		}
		resolvedPath = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return &cfg, resolvedPath, nil
}
