package configtree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies a configuration serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Decode parses data in the given format into a Value.
func Decode(data []byte, format Format) (*Value, error) {
	var raw interface{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return FromGo(raw)
}

// FormatForPath infers the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".code-workspace":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("cannot infer configuration format for %s", path)
	}
}

// DecodeFile reads and parses a configuration file, inferring the format
// from its extension.
func DecodeFile(path string) (*Value, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- callers validate containment first
	if err != nil {
		return nil, err
	}
	return Decode(data, format)
}

// EncodeJSON serializes a Value as indented JSON.
func EncodeJSON(v *Value) ([]byte, error) {
	return json.MarshalIndent(v.ToGo(), "", "  ")
}
