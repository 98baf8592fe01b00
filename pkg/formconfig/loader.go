package formconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned when a configuration document has no content.
var ErrEmptyDocument = errors.New("formconfig: document is empty")

// Parse decodes a form configuration from JSON or YAML. JSON is attempted
// first; source is only used in error messages.
func Parse(data []byte, source string) (FormConfig, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return FormConfig{}, fmt.Errorf("%w: %s", ErrEmptyDocument, sourceName(source))
	}

	var cfg FormConfig
	jsonErr := json.Unmarshal(data, &cfg)
	if jsonErr == nil {
		return cfg, nil
	}

	cfg = FormConfig{}
	if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr == nil {
		return cfg, nil
	} else if looksLikeJSON(data) {
		return FormConfig{}, fmt.Errorf("formconfig: parse %s: %w", sourceName(source), jsonErr)
	} else {
		return FormConfig{}, fmt.Errorf("formconfig: parse %s: %w", sourceName(source), yamlErr)
	}
}

// LoadFile reads and parses a configuration file from disk.
func LoadFile(path string) (FormConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FormConfig{}, fmt.Errorf("formconfig: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// LoadFS reads and parses a configuration file from fsys.
func LoadFS(fsys fs.FS, path string) (FormConfig, error) {
	if fsys == nil {
		return FormConfig{}, errors.New("formconfig: filesystem is nil")
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return FormConfig{}, fmt.Errorf("formconfig: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// decodeRaw decodes a document into generic values, used by Lint.
func decodeRaw(data []byte) (any, error) {
	var raw any
	jsonErr := json.Unmarshal(data, &raw)
	if jsonErr == nil {
		return raw, nil
	}
	if looksLikeJSON(data) {
		return nil, jsonErr
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func sourceName(source string) string {
	if strings.TrimSpace(source) == "" {
		return "<inline>"
	}
	return source
}
