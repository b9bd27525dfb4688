// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/runpack/runpack/internal/objectstore"
)

// loadFromDir loads config with the lookup pinned to dir, so tests never
// pick up a real runpack.yaml from the working directory or home.
func loadFromDir(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	cfg, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: dir})
	return cfg, err
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFromDir(t, t.TempDir())
	if err != nil {
		t.Fatalf("load error = %v", err)
	}

	if cfg.BuildDir != "build" {
		t.Errorf("BuildDir = %q, want %q", cfg.BuildDir, "build")
	}
	if cfg.Registry != "dist/registry.json" {
		t.Errorf("Registry = %q, want %q", cfg.Registry, "dist/registry.json")
	}
	if cfg.RegistryTTL != 5*time.Minute {
		t.Errorf("RegistryTTL = %s, want 5m", cfg.RegistryTTL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Store.Configured() {
		t.Error("default config has a configured store")
	}

	jobs := cfg.EffectiveBuildJobs()
	if jobs < 1 || jobs > maxDefaultBuildJobs {
		t.Errorf("EffectiveBuildJobs() = %d, want 1..%d", jobs, maxDefaultBuildJobs)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	content := `
build_dir: out/build
dist_dir: out/dist
registry: https://registry.example.com/registry.json
build_jobs: 2
registry_ttl: 90s
log_level: debug
store:
  endpoint: minio.internal:9000
  access_key: ak
  secret_key: sk
  bucket: bundles
  public_base_url: https://cdn.example.com/runtimes
`
	if err := os.WriteFile(filepath.Join(dir, "runpack.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := loadFromDir(t, dir)
	if err != nil {
		t.Fatalf("load error = %v", err)
	}

	if cfg.BuildDir != "out/build" {
		t.Errorf("BuildDir = %q", cfg.BuildDir)
	}
	if cfg.Registry != "https://registry.example.com/registry.json" {
		t.Errorf("Registry = %q", cfg.Registry)
	}
	if cfg.BuildJobs != 2 {
		t.Errorf("BuildJobs = %d, want 2", cfg.BuildJobs)
	}
	if cfg.RegistryTTL != 90*time.Second {
		t.Errorf("RegistryTTL = %s, want 90s", cfg.RegistryTTL)
	}
	if !cfg.Store.Configured() {
		t.Fatal("store not configured from file")
	}
	if cfg.Store.Bucket != "bundles" {
		t.Errorf("Store.Bucket = %q", cfg.Store.Bucket)
	}
	// WorkspaceDir not in the file keeps its default.
	if cfg.WorkspaceDir != "." {
		t.Errorf("WorkspaceDir = %q, want default", cfg.WorkspaceDir)
	}
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, _, err := loadWithOptions(context.Background(), LoadOptions{
		ConfigFilePath: filepath.Join(t.TempDir(), "absent.yaml"),
	})
	if err == nil {
		t.Fatal("load error = nil, want missing file failure")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RUNPACK_BUILD_JOBS", "3")
	t.Setenv("RUNPACK_LOG_LEVEL", "warn")
	t.Setenv("RUNPACK_REGISTRY_TTL", "30s")

	cfg, err := loadFromDir(t, t.TempDir())
	if err != nil {
		t.Fatalf("load error = %v", err)
	}

	if cfg.BuildJobs != 3 {
		t.Errorf("BuildJobs = %d, want 3", cfg.BuildJobs)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
	if cfg.RegistryTTL != 30*time.Second {
		t.Errorf("RegistryTTL = %s, want 30s", cfg.RegistryTTL)
	}
}

func TestLoad_EnvOverridesFileValues(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "runpack.yaml"), []byte("build_jobs: 2\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("RUNPACK_BUILD_JOBS", "8")

	cfg, err := loadFromDir(t, dir)
	if err != nil {
		t.Fatalf("load error = %v", err)
	}
	if cfg.BuildJobs != 8 {
		t.Errorf("BuildJobs = %d, want env override 8", cfg.BuildJobs)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "runpack.yaml"), []byte("log_level: chatty\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	_, err := loadFromDir(t, dir)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("load error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_IncompleteStoreRejected(t *testing.T) {
	dir := t.TempDir()
	content := "store:\n  endpoint: minio.internal:9000\n"
	if err := os.WriteFile(filepath.Join(dir, "runpack.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	_, err := loadFromDir(t, dir)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("load error = %v, want ErrInvalidConfig", err)
	}
	if !errors.Is(err, objectstore.ErrInvalidStoreConfig) {
		t.Errorf("load error = %v, want wrapped ErrInvalidStoreConfig", err)
	}
}

func TestLoad_NegativeBuildJobsRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "runpack.yaml"), []byte("build_jobs: -1\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	_, err := loadFromDir(t, dir)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("load error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := loadWithOptions(ctx, LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("load error = %v, want context.Canceled", err)
	}
}

func TestConfig_EffectiveBuildJobsExplicit(t *testing.T) {
	t.Parallel()

	cfg := &Config{BuildJobs: 9}
	if got := cfg.EffectiveBuildJobs(); got != 9 {
		t.Errorf("EffectiveBuildJobs() = %d, want 9", got)
	}
}

func TestConfigDir_Override(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	got, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if got != dir {
		t.Errorf("ConfigDir() = %q, want %q", got, dir)
	}
}
