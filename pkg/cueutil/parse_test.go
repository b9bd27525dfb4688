// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"strings"
	"testing"
)

// Schema resembling a runtime definition, trimmed to what the generic
// plumbing needs to exercise.
const testSchema = `
#TestRuntime: {
	name:         string
	version:      string
	priority:     int
	readonly:     bool
	description?: string
}
`

type testRuntime struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Priority    int    `json:"priority"`
	Readonly    bool   `json:"readonly"`
	Description string `json:"description,omitempty"`
}

func TestParseAndDecode_Valid(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: "openjdk-21"
version: "1.0.0"
priority: 10
readonly: true
description: "OpenJDK 21 runtime"
`)
	result, err := ParseAndDecode[testRuntime]([]byte(testSchema), data, "#TestRuntime")
	if err != nil {
		t.Fatalf("ParseAndDecode failed: %v", err)
	}

	if result.Value.Name != "openjdk-21" {
		t.Errorf("Name = %q, want %q", result.Value.Name, "openjdk-21")
	}
	if result.Value.Priority != 10 {
		t.Errorf("Priority = %d, want 10", result.Value.Priority)
	}
	if !result.Value.Readonly {
		t.Error("Readonly = false, want true")
	}
}

func TestParseAndDecode_OptionalFieldOmitted(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: "node-22"
version: "2.1.0"
priority: 1
readonly: false
`)
	result, err := ParseAndDecode[testRuntime]([]byte(testSchema), data, "#TestRuntime")
	if err != nil {
		t.Fatalf("ParseAndDecode failed: %v", err)
	}
	if result.Value.Description != "" {
		t.Errorf("Description = %q, want empty", result.Value.Description)
	}
}

func TestParseAndDecode_TypeMismatch(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: "node-22"
version: "2.1.0"
priority: "not a number"
readonly: false
`)
	_, err := ParseAndDecode[testRuntime]([]byte(testSchema), data, "#TestRuntime")
	if err == nil {
		t.Fatal("expected error for invalid type")
	}
}

func TestParseAndDecode_MissingRequiredField(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: "node-22"
priority: 1
readonly: false
`)
	_, err := ParseAndDecode[testRuntime]([]byte(testSchema), data, "#TestRuntime")
	if err == nil {
		t.Fatal("expected error for missing required field")
	}
}

func TestParseAndDecode_FilenameInErrors(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: "node-22"
version: "2.1.0"
priority: "invalid"
readonly: false
`)
	_, err := ParseAndDecode[testRuntime](
		[]byte(testSchema),
		data,
		"#TestRuntime",
		WithFilename("runtime.cue"),
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "runtime.cue") {
		t.Errorf("error should contain filename, got: %v", err)
	}
}

func TestParseAndDecode_SizeLimit(t *testing.T) {
	t.Parallel()

	data := make([]byte, 200)
	for i := range data {
		data[i] = 'a'
	}

	_, err := ParseAndDecode[testRuntime](
		[]byte(testSchema),
		data,
		"#TestRuntime",
		WithMaxFileSize(100),
	)
	if err == nil {
		t.Fatal("expected error for oversized file")
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("error should mention size limit, got: %v", err)
	}
}

func TestParseAndDecode_ConcreteDisabled(t *testing.T) {
	t.Parallel()

	optionalSchema := `
#Settings: {
	registry?: string
	ttl?:      int
}
`
	type settings struct {
		Registry string `json:"registry,omitempty"`
		TTL      int    `json:"ttl,omitempty"`
	}

	result, err := ParseAndDecode[settings](
		[]byte(optionalSchema),
		[]byte(`{}`),
		"#Settings",
		WithConcrete(false),
	)
	if err != nil {
		t.Fatalf("ParseAndDecode failed: %v", err)
	}
	if result.Value.Registry != "" {
		t.Errorf("Registry = %q, want empty", result.Value.Registry)
	}
}

func TestParseAndDecodeString(t *testing.T) {
	t.Parallel()

	data := []byte(`
name: "python-3.12"
version: "1.4.0"
priority: 3
readonly: true
`)
	result, err := ParseAndDecodeString[testRuntime](testSchema, data, "#TestRuntime")
	if err != nil {
		t.Fatalf("ParseAndDecodeString failed: %v", err)
	}
	if result.Value.Name != "python-3.12" {
		t.Errorf("Name = %q, want %q", result.Value.Name, "python-3.12")
	}
}

func TestFormatError_PathNotation(t *testing.T) {
	t.Parallel()

	listSchema := `
#Plan: {
	mounts: [...{
		source: string
		target: string
	}]
}
`
	type mount struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	type plan struct {
		Mounts []mount `json:"mounts"`
	}

	data := []byte(`
mounts: [
	{source: "usr/bin", target: 42},
]
`)
	_, err := ParseAndDecode[plan]([]byte(listSchema), data, "#Plan", WithFilename("plan.cue"))
	if err == nil {
		t.Fatal("expected error")
	}
	// The offending field should be reported in JSON-path notation.
	if !strings.Contains(err.Error(), "mounts[0].target") {
		t.Errorf("error should contain JSON path, got: %v", err)
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "f.cue"); err != nil {
		t.Errorf("size at limit should pass, got: %v", err)
	}
	if err := CheckFileSize(make([]byte, 11), 10, "f.cue"); err == nil {
		t.Error("size above limit should fail")
	}
}
