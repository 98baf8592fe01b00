package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formlogic/pkg/form"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
)

func loadConfig(path string) (formconfig.FormConfig, error) {
	cfg, err := formconfig.LoadFile(path)
	if err != nil {
		return formconfig.FormConfig{}, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// loadValues reads a JSON or YAML document with an object at the root.
// An empty path yields nil.
func loadValues(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read values", err)
	}
	var values map[string]any
	if jsonErr := json.Unmarshal(data, &values); jsonErr != nil {
		values = nil
		if yamlErr := yaml.Unmarshal(data, &values); yamlErr != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("parse values %s", path), jsonErr)
		}
	}
	return values, nil
}

// assignment is one --set path=value flag. The value is decoded as JSON
// when possible and taken as a string otherwise.
type assignment struct {
	path  string
	value any
}

func parseAssignments(raw []string) ([]assignment, error) {
	out := make([]assignment, 0, len(raw))
	for _, item := range raw {
		path, value, ok := strings.Cut(item, "=")
		path = strings.TrimSpace(path)
		if !ok || path == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --set %q: expected path=value", item))
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		out = append(out, assignment{path: path, value: decoded})
	}
	return out, nil
}

func applyAssignments(f *form.Form, sets []assignment) error {
	for _, set := range sets {
		if err := f.SetValue(set.path, set.value); err != nil {
			return WrapExitError(ExitCommandError, "set value", err)
		}
	}
	return nil
}
