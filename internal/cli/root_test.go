package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const orderConfig = `{
  "fields": [
    {"key": "price", "type": "input", "value": 2},
    {"key": "quantity", "type": "input", "value": 3},
    {"key": "total", "type": "input", "derivation": "formValue.price * formValue.quantity"},
    {"key": "email", "type": "input", "required": true, "email": true}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func execute(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	if cmd.Use != "formlogic" {
		t.Fatalf("unexpected use %q", cmd.Use)
	}
	for _, name := range []string{"lint", "graph", "eval", "fill"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Fatalf("command %s missing: %v", name, err)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	verbose := cmd.PersistentFlags().Lookup("verbose")
	if verbose == nil || verbose.Shorthand != "v" || verbose.DefValue != "false" {
		t.Fatalf("unexpected verbose flag %+v", verbose)
	}
	format := cmd.PersistentFlags().Lookup("format")
	if format == nil || format.DefValue != "text" {
		t.Fatalf("unexpected format flag %+v", format)
	}
}

func TestInvalidFormat(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "form.json", orderConfig)
	_, err := execute("--format", "xml", "lint", path)
	if got := GetExitCode(err); got != ExitCommandError {
		t.Fatalf("expected exit code %d, got %d (%v)", ExitCommandError, got, err)
	}
}

func TestExitCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitCommandError},
		{"exit error", NewExitError(ExitFailure, "invalid"), ExitFailure},
		{"wrapped", WrapExitError(ExitCommandError, "load", errors.New("missing")), ExitCommandError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetExitCode(tc.err); got != tc.want {
				t.Fatalf("GetExitCode = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestParseAssignments(t *testing.T) {
	t.Parallel()

	got, err := parseAssignments([]string{"price=5", "name=Ada", `tags=["a"]`, "flag=true", "note="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []assignment{
		{path: "price", value: float64(5)},
		{path: "name", value: "Ada"},
		{path: "tags", value: []any{"a"}},
		{path: "flag", value: true},
		{path: "note", value: ""},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(assignment{})); diff != "" {
		t.Fatalf("assignments (-want +got):\n%s", diff)
	}

	if _, err := parseAssignments([]string{"novalue"}); GetExitCode(err) != ExitCommandError {
		t.Fatalf("expected command error for malformed --set, got %v", err)
	}
}

func TestLoadValuesAcceptsYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "values.yaml", "price: 4\nitems:\n  - sku: A1\n")
	got, err := loadValues(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := map[string]any{"price": 4, "items": []any{map[string]any{"sku": "A1"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("values (-want +got):\n%s", diff)
	}
}
