package formconfig

import (
	"strings"
	"testing"
)

func TestLintAcceptsValidDocument(t *testing.T) {
	t.Parallel()

	issues, err := Lint([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Lint returned error: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestLintReportsUnknownValidatorType(t *testing.T) {
	t.Parallel()

	doc := `{"fields": [{"key": "age", "type": "input", "validators": [{"type": "between"}]}]}`
	issues, err := Lint([]byte(doc))
	if err != nil {
		t.Fatalf("Lint returned error: %v", err)
	}
	if len(issues) == 0 {
		t.Fatalf("expected issues for unknown validator type")
	}
	found := false
	for _, issue := range issues {
		if strings.Contains(issue.Path, "validators") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an issue located under validators, got %v", issues)
	}
}

func TestLintReportsMissingFields(t *testing.T) {
	t.Parallel()

	issues, err := Lint([]byte("defaultProps:\n  size: md\n"))
	if err != nil {
		t.Fatalf("Lint returned error: %v", err)
	}
	if len(issues) == 0 {
		t.Fatalf("expected an issue for the missing fields list")
	}
}

func TestLintRejectsUndecodableInput(t *testing.T) {
	t.Parallel()

	if _, err := Lint([]byte(`{"fields": [`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
