// Package intake validates channel-specific task-creation payloads against
// JSON schemas loaded at startup.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation wraps schema violations so handlers can map them to 422.
var ErrValidation = errors.New("intake validation failed")

// Validator holds one compiled schema per origin channel.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator loads all *.json schema files from schemaDir. The file name
// (minus extension and optional ".v1" suffix) is the channel name.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	schemas := make(map[string]*jsonschema.Schema)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		channel := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		channel = strings.TrimSuffix(channel, ".v1")
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(e.Name(), strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("add schema %q: %w", path, err)
		}
		schema, err := compiler.Compile(e.Name())
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", path, err)
		}
		schemas[channel] = schema
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no schemas found in %q", schemaDir)
	}
	return &Validator{schemas: schemas}, nil
}

// Channels returns the channels with a registered schema.
func (v *Validator) Channels() []string {
	out := make([]string, 0, len(v.schemas))
	for ch := range v.schemas {
		out = append(out, ch)
	}
	return out
}

// ValidateIntake checks a task-creation payload for the given channel.
// Unknown channels and schema violations both reject: intake is a hard
// gate, not best-effort.
func (v *Validator) ValidateIntake(channel string, payload json.RawMessage) error {
	schema, ok := v.schemas[channel]
	if !ok {
		return fmt.Errorf("%w: no schema for channel %q", ErrValidation, channel)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
