package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, and validates a profile from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. If the extension is unrecognized, YAML is attempted first, then JSON.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile file not found: %s", path)
		}
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses, defaults, and validates a profile from raw bytes.
// The path parameter is used for format detection and error messages.
func LoadFromBytes(data []byte, path string) (*Profile, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("profile file is empty")
	}

	p, err := parse(data, path)
	if err != nil {
		return nil, err
	}

	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return p, nil
}

func parse(data []byte, path string) (*Profile, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		// Unknown extension: try YAML first (more permissive), then JSON.
		p, yamlErr := parseYAML(data)
		if yamlErr == nil {
			return p, nil
		}
		p, jsonErr := parseJSON(data)
		if jsonErr == nil {
			return p, nil
		}
		return nil, fmt.Errorf("parse profile (tried YAML and JSON): %w", yamlErr)
	}
}

func parseYAML(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse YAML profile: %w", err)
	}
	return &p, nil
}

func parseJSON(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse JSON profile: %w", err)
	}
	return &p, nil
}
