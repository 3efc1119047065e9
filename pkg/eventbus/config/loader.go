package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// syntax is one supported configuration file format.
type syntax struct {
	name      string
	unmarshal func(data []byte, v any) error
}

var (
	yamlSyntax = syntax{name: "yaml", unmarshal: yaml.Unmarshal}
	jsonSyntax = syntax{name: "json", unmarshal: json.Unmarshal}
	tomlSyntax = syntax{name: "toml", unmarshal: toml.Unmarshal}
)

// syntaxes maps a lower-cased file extension to its format.
var syntaxes = map[string]syntax{
	".yaml": yamlSyntax,
	".yml":  yamlSyntax,
	".json": jsonSyntax,
	".toml": tomlSyntax,
}

// parse decodes data into the generic tree every format shares.
func (s syntax) parse(data []byte) (Config, error) {
	var m map[string]any
	if err := s.unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", s.name, err)
	}
	return New(m), nil
}

// FromFile loads a config file, choosing the format by extension:
// .yaml, .yml, .json or .toml.
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s, ok := syntaxes[ext]

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if !ok {
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
	return s.parse(data)
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) { return yamlSyntax.parse(data) }

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) { return jsonSyntax.parse(data) }

// FromTOML parses TOML data into a Config.
func FromTOML(data []byte) (Config, error) { return tomlSyntax.parse(data) }
