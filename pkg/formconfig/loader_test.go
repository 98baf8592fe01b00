package formconfig

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

const sampleJSON = `{
  "fields": [
    {"key": "password", "type": "input", "required": true, "minLength": 8},
    {
      "key": "confirmPassword",
      "type": "input",
      "required": true,
      "validators": [
        {"type": "custom", "expression": "fieldValue === formValue.password", "kind": "passwordMismatch"}
      ]
    },
    {
      "key": "company",
      "type": "input",
      "logic": [
        {"type": "hidden", "condition": {"type": "fieldValue", "fieldPath": "accountType", "operator": "equals", "value": "personal"}},
        {"type": "disabled", "condition": "formSubmitting"}
      ]
    },
    {"key": "total", "type": "input", "derivation": "formValue.price * formValue.quantity"}
  ],
  "defaultValidationMessages": {"required": "This field is required"}
}`

func TestParseJSONShorthands(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleJSON), "sample.json")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(cfg.Fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(cfg.Fields))
	}

	password := cfg.Fields[0]
	if password.MinLength == nil || *password.MinLength != 8 {
		t.Fatalf("expected minLength shorthand 8, got %v", password.MinLength)
	}

	company := cfg.Fields[2]
	if company.Logic[0].Condition.Expression == nil {
		t.Fatalf("expected expression condition for hidden rule")
	}
	if got := company.Logic[0].Condition.Expression.FieldPath; got != "accountType" {
		t.Fatalf("unexpected fieldPath %q", got)
	}
	if got := company.Logic[1].Condition.Name; got != "formSubmitting" {
		t.Fatalf("expected named condition, got %q", got)
	}

	total := cfg.Fields[3]
	want := &DerivationConfig{Source: DerivationExpression, Expression: "formValue.price * formValue.quantity"}
	if diff := cmp.Diff(want, total.Derivation); diff != "" {
		t.Fatalf("derivation mismatch (-want +got):\n%s", diff)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	doc := `
fields:
  - key: zipCode
    type: input
  - key: city
    type: input
    derivation:
      source: asyncFunction
      dependsOn: [zipCode]
      asyncFunctionName: lookupCity
      condition: formValue.enableLookup === true
      stopOnUserOverride: true
    logic:
      - type: readonly
        condition: formSubmitting
`
	cfg, err := Parse([]byte(doc), "form.yaml")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	city := cfg.Fields[1]
	if city.Derivation == nil || city.Derivation.Source != DerivationAsyncFunction {
		t.Fatalf("expected async derivation, got %+v", city.Derivation)
	}
	if city.Derivation.Condition == nil || city.Derivation.Condition.Type != ConditionJavascript {
		t.Fatalf("expected string condition decoded as javascript, got %+v", city.Derivation.Condition)
	}
	if !city.Derivation.StopOnUserOverride {
		t.Fatalf("expected stopOnUserOverride")
	}
	if city.Logic[0].Condition.Name != "formSubmitting" {
		t.Fatalf("expected named logic condition, got %+v", city.Logic[0].Condition)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("   "), "")
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{"fields": [`), "broken.json"); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestLoadFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"forms/signup.json": &fstest.MapFile{Data: []byte(sampleJSON)},
	}
	cfg, err := LoadFS(fsys, "forms/signup.json")
	if err != nil {
		t.Fatalf("LoadFS returned error: %v", err)
	}
	if cfg.DefaultValidationMessages["required"] != "This field is required" {
		t.Fatalf("unexpected default messages: %v", cfg.DefaultValidationMessages)
	}

	if _, err := LoadFS(fsys, "forms/missing.json"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestNormalizeMergesDefaultProps(t *testing.T) {
	t.Parallel()

	cfg := FormConfig{
		DefaultProps: map[string]any{"appearance": "outline", "size": "md"},
		Fields: []FieldConfig{
			{Key: "name", Type: FieldTypeInput, Props: map[string]any{"size": "lg"}},
			{Key: "address", Type: FieldTypeGroup, Fields: []FieldConfig{
				{Key: "city", Type: FieldTypeInput},
			}},
		},
	}

	out, err := Normalize(cfg)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if diff := cmp.Diff(map[string]any{"appearance": "outline", "size": "lg"}, out.Fields[0].Props); diff != "" {
		t.Fatalf("leaf props mismatch (-want +got):\n%s", diff)
	}
	if out.Fields[1].Props != nil {
		t.Fatalf("containers should not receive default props, got %v", out.Fields[1].Props)
	}
	if diff := cmp.Diff(map[string]any{"appearance": "outline", "size": "md"}, out.Fields[1].Fields[0].Props); diff != "" {
		t.Fatalf("nested props mismatch (-want +got):\n%s", diff)
	}
	if cfg.Fields[0].Props["appearance"] != nil {
		t.Fatalf("Normalize must not mutate the input config")
	}
}

func TestFieldValidatorsExpandsShorthands(t *testing.T) {
	t.Parallel()

	minLen := 3
	max := 10.0
	field := FieldConfig{
		Key:        "code",
		Email:      true,
		MinLength:  &minLen,
		Max:        &max,
		Pattern:    "^[a-z]+$",
		Validators: []ValidatorConfig{{Type: ValidatorCustom, Expression: "true"}},
	}

	got := FieldValidators(field)
	var kinds []ValidatorType
	for _, v := range got {
		kinds = append(kinds, v.Type)
	}
	want := []ValidatorType{ValidatorEmail, ValidatorMax, ValidatorMinLength, ValidatorPattern, ValidatorCustom}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("validator order mismatch (-want +got):\n%s", diff)
	}
}

func TestValidatorErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  ValidatorConfig
		want string
	}{
		{"builtin", ValidatorConfig{Type: ValidatorMinLength}, "minLength"},
		{"custom default", ValidatorConfig{Type: ValidatorCustom}, "custom"},
		{"custom kind", ValidatorConfig{Type: ValidatorCustom, Kind: "passwordMismatch"}, "passwordMismatch"},
		{"http mapping", ValidatorConfig{Type: ValidatorHTTP, ResponseMapping: &ResponseMapping{ErrorKind: "taken"}}, "taken"},
		{"customHttp", ValidatorConfig{Type: ValidatorCustomHTTP}, "customHttp"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.cfg.ErrorKind(); got != tc.want {
				t.Fatalf("ErrorKind() = %q, want %q", got, tc.want)
			}
		})
	}
}
