package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formlogic/pkg/form"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
)

// SettleTimeout bounds how long fixture helpers wait for async work.
const SettleTimeout = 5 * time.Second

// LoadConfig reads a configuration fixture, failing the test on error.
func LoadConfig(t *testing.T, path string) formconfig.FormConfig {
	t.Helper()

	cfg, err := LoadConfigFromPath(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// LoadConfigFromPath returns a configuration without requiring testing.T so
// fixtures can be wired from setup functions.
func LoadConfigFromPath(path string) (formconfig.FormConfig, error) {
	if path == "" {
		return formconfig.FormConfig{}, errors.New("testsupport: config path is required")
	}
	cfg, err := formconfig.LoadFile(path)
	if err != nil {
		return formconfig.FormConfig{}, fmt.Errorf("testsupport: %w", err)
	}
	return cfg, nil
}

// MustLoadValues reads a JSON or YAML value fixture into a map.
func MustLoadValues(t *testing.T, path string) map[string]any {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read values: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err == nil {
		return out
	}
	out = nil
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal values %s: %v", path, err)
	}
	return out
}

// MustNewForm builds a form and closes it when the test ends.
func MustNewForm(t *testing.T, cfg formconfig.FormConfig, opts ...form.Option) *form.Form {
	t.Helper()

	f, err := form.New(cfg, opts...)
	if err != nil {
		t.Fatalf("new form: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

// MustSettle waits for pending async work, failing after SettleTimeout.
func MustSettle(t *testing.T, f *form.Form) {
	t.Helper()

	ctx, cancel := context.WithTimeout(Context(), SettleTimeout)
	defer cancel()
	if err := f.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

// NormalizeJSON round-trips value through JSON so goldens compare numbers
// and maps independently of their Go types.
func NormalizeJSON(t *testing.T, value any) any {
	t.Helper()

	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal value: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	return out
}

// WriteGolden writes value to a golden file when UPDATE_GOLDENS is set and
// reports whether it did.
func WriteGolden(t *testing.T, path string, value any) bool {
	t.Helper()

	if os.Getenv("UPDATE_GOLDENS") == "" {
		return false
	}
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		t.Fatalf("marshal golden: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir golden dir: %v", err)
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		t.Fatalf("write golden: %v", err)
	}
	return true
}

// CompareGolden diffs got against the JSON golden at path. The returned
// string is empty when they match.
func CompareGolden(t *testing.T, path string, got any) string {
	t.Helper()

	var want any
	if err := json.Unmarshal(MustReadGolden(t, path), &want); err != nil {
		t.Fatalf("unmarshal golden: %v", err)
	}
	return cmp.Diff(want, NormalizeJSON(t, got))
}

// MustReadGolden reads a golden file and returns its raw bytes.
func MustReadGolden(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden: %v", err)
	}
	return data
}

// Context returns a background context for tests.
func Context() context.Context {
	return context.Background()
}
