package logic

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
)

func whenEquals(path string, value any) formconfig.LogicCondition {
	return formconfig.LogicCondition{Expression: &formconfig.ConditionalExpression{
		Type:      formconfig.ConditionFieldValue,
		FieldPath: path,
		Operator:  formconfig.OpEquals,
		Value:     value,
	}}
}

func TestResolveOrsRulesPerAxis(t *testing.T) {
	t.Parallel()

	engine := New()
	rules := []formconfig.LogicConfig{
		{Type: formconfig.LogicHidden, Condition: whenEquals("accountType", "personal")},
		{Type: formconfig.LogicHidden, Condition: whenEquals("country", "PT")},
		{Type: formconfig.LogicRequired, Condition: whenEquals("accountType", "business")},
		{Type: formconfig.LogicReadonly, Condition: formconfig.LogicCondition{Name: "formSubmitting"}},
	}
	ectx := expression.Context{FormValue: map[string]any{"accountType": "business", "country": "PT"}}

	got := engine.Resolve("company", rules, Flags{}, ectx, FormState{Submitting: true})
	want := Flags{Hidden: true, Required: true, Readonly: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("flags mismatch (-want +got):\n%s", diff)
	}

	got = engine.Resolve("company", rules, Flags{}, expression.Context{FormValue: map[string]any{}}, FormState{})
	if diff := cmp.Diff(Flags{}, got); diff != "" {
		t.Fatalf("expected all clear (-want +got):\n%s", diff)
	}
}

func TestStaticTrueAlwaysWins(t *testing.T) {
	t.Parallel()

	engine := New()
	r := rand.New(rand.NewSource(7))
	axes := []formconfig.LogicType{formconfig.LogicHidden, formconfig.LogicDisabled, formconfig.LogicReadonly, formconfig.LogicRequired}

	for i := 0; i < 200; i++ {
		var rules []formconfig.LogicConfig
		for j := 0; j < r.Intn(6); j++ {
			rules = append(rules, formconfig.LogicConfig{
				Type:      axes[r.Intn(len(axes))],
				Condition: whenEquals("flag", r.Intn(2) == 0),
			})
		}
		ectx := expression.Context{FormValue: map[string]any{"flag": r.Intn(2) == 0}}
		got := engine.Resolve("f", rules, Flags{Disabled: true, Required: true}, ectx, FormState{})
		if !got.Disabled || !got.Required {
			t.Fatalf("iteration %d: static flags lost: %+v", i, got)
		}
	}
}

func TestFormStatePredicates(t *testing.T) {
	t.Parallel()

	state := FormState{Submitting: true, Valid: false, Dirty: true, Touched: false, Pending: true}
	cases := map[string]bool{
		"formSubmitting": true,
		"formInvalid":    true,
		"formValid":      false,
		"formDirty":      true,
		"formPristine":   false,
		"formTouched":    false,
		"formPending":    true,
	}
	for name, want := range cases {
		got, ok := state.Predicate(name)
		if !ok || got != want {
			t.Fatalf("Predicate(%q) = %v, %v; want %v", name, got, ok, want)
		}
	}
	if _, ok := state.Predicate("formHappy"); ok {
		t.Fatalf("unknown predicate must not resolve")
	}
}

func TestUnknownPredicateIsFalse(t *testing.T) {
	t.Parallel()

	rules := []formconfig.LogicConfig{{Type: formconfig.LogicHidden, Condition: formconfig.LogicCondition{Name: "formHappy"}}}
	if got := New().Resolve("f", rules, Flags{}, expression.Context{}, FormState{}); got.Hidden {
		t.Fatalf("unknown predicate must not hide the field")
	}
}

func TestStaticFlags(t *testing.T) {
	t.Parallel()

	got := StaticFlags(formconfig.FieldConfig{Type: formconfig.FieldTypeHidden, Required: true})
	if diff := cmp.Diff(Flags{Hidden: true, Required: true}, got); diff != "" {
		t.Fatalf("flags mismatch (-want +got):\n%s", diff)
	}
}
