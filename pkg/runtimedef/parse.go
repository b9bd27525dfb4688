// SPDX-License-Identifier: MPL-2.0

package runtimedef

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/runpack/runpack/pkg/cueutil"
)

//go:embed runtime_schema.cue
var runtimeSchema string

// Parse reads and parses the runtime definition at the given path.
func Parse(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime definition at %s: %w", path, err)
	}

	return ParseBytes(data, path)
}

// ParseDir parses the runtime definition inside a runtime directory
// (<dir>/runtime.cue).
func ParseDir(dir string) (*Definition, error) {
	return Parse(filepath.Join(dir, DefinitionFilename))
}

// ParseBytes parses runtime definition content from bytes.
// Uses cueutil.ParseAndDecodeString for the 3-step CUE parsing flow:
// compile schema → compile user data → validate and decode.
func ParseBytes(data []byte, path string) (*Definition, error) {
	result, err := cueutil.ParseAndDecodeString[Definition](
		runtimeSchema,
		data,
		"#Definition",
		cueutil.WithFilename(path),
	)
	if err != nil {
		return nil, err
	}

	def := result.Value
	def.FilePath = path

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}
