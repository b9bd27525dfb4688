// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestProvider_LoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("workspace_dir: runtimes-src\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WorkspaceDir != "runtimes-src" {
		t.Errorf("WorkspaceDir = %q, want %q", cfg.WorkspaceDir, "runtimes-src")
	}
}

func TestProvider_LoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DistDir != "dist" {
		t.Errorf("DistDir = %q, want default", cfg.DistDir)
	}
}
