// SPDX-License-Identifier: MPL-2.0

package runtimedef

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/runpack/runpack/pkg/semver"
)

const validDocument = `
name:        "openjdk-21"
version:     "1.0.0"
description: "OpenJDK 21 runtime"
platforms: ["ubuntu-amd64"]

build: {
	script: "ln -sf java-21 usr/lib/jvm/default"
	assets: [
		{target: "usr/lib/jvm/java-21", sources: ["/usr/lib/jvm/java-21-openjdk-amd64", "/usr/lib/jvm/java-21-openjdk"]},
		{target: "etc/ssl/certs", sources: ["/etc/ssl/certs"], critical: false, dereference: true},
	]
}

mounts: [
	{source: "usr/lib/jvm/java-21", target: "/usr/lib/jvm/java-21"},
]

env: {
	JAVA_HOME: "/usr/lib/jvm/java-21"
}
`

func TestParseBytes_ValidDocument(t *testing.T) {
	t.Parallel()

	def, err := ParseBytes([]byte(validDocument), "runtime.cue")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	if def.Name != "openjdk-21" {
		t.Errorf("Name = %q, want %q", def.Name, "openjdk-21")
	}
	if def.Version != "1.0.0" {
		t.Errorf("Version = %q, want %q", def.Version, "1.0.0")
	}
	if len(def.Build.Assets) != 2 {
		t.Fatalf("got %d asset plans, want 2", len(def.Build.Assets))
	}

	// Criticality defaults to true and is overridable per plan.
	if !def.Build.Assets[0].Critical {
		t.Error("assets[0].Critical = false, want default true")
	}
	if def.Build.Assets[1].Critical {
		t.Error("assets[1].Critical = true, want false")
	}
	if !def.Build.Assets[1].Dereference {
		t.Error("assets[1].Dereference = false, want true")
	}

	// Mounts default to readonly.
	if len(def.Mounts) != 1 {
		t.Fatalf("got %d mounts, want 1", len(def.Mounts))
	}
	if !def.Mounts[0].Readonly {
		t.Error("mounts[0].Readonly = false, want default true")
	}

	if def.Env["JAVA_HOME"] != "/usr/lib/jvm/java-21" {
		t.Errorf("Env[JAVA_HOME] = %q, want %q", def.Env["JAVA_HOME"], "/usr/lib/jvm/java-21")
	}
	if def.FilePath != "runtime.cue" {
		t.Errorf("FilePath = %q, want %q", def.FilePath, "runtime.cue")
	}
}

func TestParseBytes_SchemaRejectsBadName(t *testing.T) {
	t.Parallel()

	doc := strings.Replace(validDocument, `"openjdk-21"`, `"OpenJDK_21"`, 1)
	_, err := ParseBytes([]byte(doc), "runtime.cue")
	if err == nil {
		t.Fatal("ParseBytes succeeded, want schema violation")
	}
}

func TestParseBytes_SchemaRejectsBadVersion(t *testing.T) {
	t.Parallel()

	doc := strings.Replace(validDocument, `"1.0.0"`, `"1.0"`, 1)
	_, err := ParseBytes([]byte(doc), "runtime.cue")
	if err == nil {
		t.Fatal("ParseBytes succeeded, want schema violation")
	}
}

func TestParseBytes_SchemaRejectsUnknownField(t *testing.T) {
	t.Parallel()

	doc := validDocument + "\nunexpected_field: true\n"
	_, err := ParseBytes([]byte(doc), "runtime.cue")
	if err == nil {
		t.Fatal("ParseBytes succeeded, want unknown-field violation")
	}
}

func TestParseBytes_SchemaRejectsRelativeMountTarget(t *testing.T) {
	t.Parallel()

	doc := strings.Replace(validDocument, `target: "/usr/lib/jvm/java-21"`, `target: "usr/lib/jvm/java-21"`, 1)
	_, err := ParseBytes([]byte(doc), "runtime.cue")
	if err == nil {
		t.Fatal("ParseBytes succeeded, want mount target violation")
	}
}

func TestParseBytes_GoValidationRunsAfterDecode(t *testing.T) {
	t.Parallel()

	// The schema cannot express cross-field rules like escaping sources;
	// the Go validator catches those after decoding.
	doc := strings.Replace(validDocument,
		`{source: "usr/lib/jvm/java-21", target: "/usr/lib/jvm/java-21"}`,
		`{source: "../outside", target: "/usr/lib/jvm/java-21"}`, 1)
	_, err := ParseBytes([]byte(doc), "runtime.cue")
	if err == nil {
		t.Fatal("ParseBytes succeeded, want bundle path violation")
	}
	if !errors.Is(err, ErrInvalidBundlePath) {
		t.Errorf("error = %v, want ErrInvalidBundlePath", err)
	}
}

func TestParse_FromDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runtimeDir := filepath.Join(dir, "openjdk-21")
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(runtimeDir, DefinitionFilename)
	if err := os.WriteFile(path, []byte(validDocument), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def, err := ParseDir(runtimeDir)
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if def.Name != "openjdk-21" {
		t.Errorf("Name = %q, want %q", def.Name, "openjdk-21")
	}
	if def.FilePath != path {
		t.Errorf("FilePath = %q, want %q", def.FilePath, path)
	}
}

func TestParse_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Parse(filepath.Join(t.TempDir(), "runtime.cue"))
	if err == nil {
		t.Fatal("Parse succeeded, want error")
	}
	if !strings.Contains(err.Error(), "failed to read runtime definition") {
		t.Errorf("error = %v, want read failure context", err)
	}
}

func TestParseBytes_VersionGrammarMatchesValidator(t *testing.T) {
	t.Parallel()

	// The schema regex and the Go validator must agree: anything the
	// schema admits parses with the version grammar too.
	def, err := ParseBytes([]byte(validDocument), "runtime.cue")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}
	if !semver.IsValid(def.Version) {
		t.Errorf("schema admitted version %q that the grammar rejects", def.Version)
	}
}
