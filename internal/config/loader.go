package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed schema.json
var embeddedSchema string

const embeddedSchemaURL = "igichat.v1.schema.json"

// ErrUnsupportedFormat is returned for config files with an unknown extension.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// LoadAndValidate loads and validates the configuration.
// The format follows the file extension. An empty schemaPath selects the
// embedded schema.
func LoadAndValidate(path, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := format.unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", format.name, err)
	}

	schema, err := compileSchema(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	if err := schema.Validate(normalize(raw)); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	cfg := Defaults()
	if err := format.unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like LoadAndValidate but returns Defaults when the
// file does not exist.
func LoadOrDefault(path, schemaPath string) (*Config, error) {
	cfg, err := LoadAndValidate(path, schemaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

type format struct {
	name      string
	unmarshal func([]byte, any) error
}

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return format{name: "YAML", unmarshal: yaml.Unmarshal}, nil
	case ".json":
		return format{name: "JSON", unmarshal: json.Unmarshal}, nil
	case ".toml":
		return format{name: "TOML", unmarshal: toml.Unmarshal}, nil
	default:
		return format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func compileSchema(schemaPath string) (*jsonschema.Schema, error) {
	if schemaPath == "" {
		return jsonschema.CompileString(embeddedSchemaURL, embeddedSchema)
	}
	return jsonschema.Compile(schemaPath)
}

// normalize converts decoder specific shapes into the JSON data model the
// validator expects.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalize(val)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []any:
		for i, val := range x {
			x[i] = normalize(val)
		}
		return x
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case int:
		return float64(x)
	default:
		return v
	}
}
