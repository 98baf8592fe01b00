package form

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/registry"
	"github.com/goliatone/go-formlogic/pkg/transport"
	"github.com/goliatone/go-formlogic/pkg/validation"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

func mustNew(t *testing.T, cfg formconfig.FormConfig, opts ...Option) *Form {
	t.Helper()
	f, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("new form: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func settle(t *testing.T, f *Form) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func errorKinds(errs []validation.Error) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Kind)
	}
	return out
}

func mustGet(t *testing.T, f *Form, path string) any {
	t.Helper()
	v, ok := f.Get(path)
	if !ok {
		t.Fatalf("no value at %q", path)
	}
	return v
}

func passwordConfig() formconfig.FormConfig {
	eight := 8
	return formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "password", Type: formconfig.FieldTypeInput, Required: true, MinLength: &eight},
		{Key: "confirmPassword", Type: formconfig.FieldTypeInput, Required: true, Validators: []formconfig.ValidatorConfig{
			{Type: formconfig.ValidatorCustom, Expression: "fieldValue === formValue.password", Kind: "passwordMismatch"},
		}},
	}}
}

func TestPasswordMismatch(t *testing.T) {
	t.Parallel()

	f := mustNew(t, passwordConfig(), WithInitialValue(map[string]any{
		"password":        "abcdefgh",
		"confirmPassword": "xyz",
	}))

	errs := f.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected errors on one field, got %v", errs)
	}
	if diff := cmp.Diff([]string{"passwordMismatch"}, errorKinds(errs["confirmPassword"])); diff != "" {
		t.Fatalf("confirmPassword errors (-want +got):\n%s", diff)
	}
	if f.Valid() {
		t.Fatalf("form must be invalid")
	}

	if err := f.SetValue("confirmPassword", "abcdefgh"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !f.Valid() {
		t.Fatalf("expected valid form, errors %v", f.Errors())
	}

	// Changing the other field re-validates the dependent one.
	if err := f.SetValue("password", "zzzzzzzz"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if diff := cmp.Diff([]string{"passwordMismatch"}, errorKinds(f.Errors()["confirmPassword"])); diff != "" {
		t.Fatalf("expected mismatch after password change (-want +got):\n%s", diff)
	}
}

func TestUnknownPath(t *testing.T) {
	t.Parallel()

	f := mustNew(t, passwordConfig())
	if err := f.SetValue("nope", 1); err == nil {
		t.Fatalf("expected error for unknown path")
	}
}

func TestLookupDisabledNeverCallsFunction(t *testing.T) {
	t.Parallel()

	var calls int32
	reg := registry.New()
	_ = reg.RegisterAsyncDerivation("lookupCity", func(ctx context.Context, ectx expression.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		zip, _ := ectx.FormValue["zipCode"].(string)
		return "city-" + zip, nil
	})

	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "enableLookup", Type: formconfig.FieldTypeCheckbox, Value: false},
		{Key: "zipCode", Type: formconfig.FieldTypeInput},
		{Key: "city", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{
			Source:            formconfig.DerivationAsyncFunction,
			AsyncFunctionName: "lookupCity",
			DependsOn:         []string{"zipCode"},
			Condition:         &formconfig.ConditionalExpression{Type: formconfig.ConditionJavascript, Expression: "formValue.enableLookup === true"},
		}},
	}}
	f := mustNew(t, cfg, WithRegistry(reg))

	for _, zip := range []string{"4000", "4100", "4200"} {
		if err := f.SetValue("zipCode", zip); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	settle(t, f)
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("lookup ran %d times while disabled", n)
	}

	if err := f.SetValue("enableLookup", true); err != nil {
		t.Fatalf("set: %v", err)
	}
	settle(t, f)
	if got := mustGet(t, f, "city"); got != "city-4200" {
		t.Fatalf("expected city-4200, got %v", got)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one lookup, got %d", n)
	}
}

func TestHiddenAndRequiredFlipInOnePass(t *testing.T) {
	t.Parallel()

	isCompany := func(v bool) formconfig.LogicCondition {
		return formconfig.LogicCondition{Expression: &formconfig.ConditionalExpression{
			Type: formconfig.ConditionFieldValue, FieldPath: "isCompany", Operator: formconfig.OpEquals, Value: v,
		}}
	}
	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "isCompany", Type: formconfig.FieldTypeCheckbox, Value: false},
		{Key: "vat", Type: formconfig.FieldTypeInput, Required: true, Logic: []formconfig.LogicConfig{
			{Type: formconfig.LogicHidden, Condition: isCompany(false)},
		}},
		{Key: "companyName", Type: formconfig.FieldTypeInput, Logic: []formconfig.LogicConfig{
			{Type: formconfig.LogicRequired, Condition: isCompany(true)},
		}},
	}}
	f := mustNew(t, cfg)

	vat, _ := f.State("vat")
	company, _ := f.State("companyName")
	if !vat.Hidden || company.Required || !f.Valid() {
		t.Fatalf("unexpected initial state vat=%+v company=%+v", vat, company)
	}

	type observed struct {
		vatHidden, companyRequired bool
		vatErrors, companyErrors   []string
	}
	var (
		mu   sync.Mutex
		seen []observed
	)
	f.Subscribe(func(Change) {
		vat, _ := f.State("vat")
		company, _ := f.State("companyName")
		mu.Lock()
		seen = append(seen, observed{vat.Hidden, company.Required, errorKinds(vat.Errors), errorKinds(company.Errors)})
		mu.Unlock()
	})

	if err := f.SetValue("isCompany", true); err != nil {
		t.Fatalf("set: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []observed{{
		vatHidden:       false,
		companyRequired: true,
		vatErrors:       []string{"required"},
		companyErrors:   []string{"required"},
	}}
	if diff := cmp.Diff(want, seen, cmp.AllowUnexported(observed{})); diff != "" {
		t.Fatalf("observed states (-want +got):\n%s", diff)
	}
}

func totalConfig(stop, reengage bool) formconfig.FormConfig {
	return formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "price", Type: formconfig.FieldTypeInput, Value: 2},
		{Key: "quantity", Type: formconfig.FieldTypeInput, Value: 3},
		{Key: "total", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{
			Expression:                 "formValue.price * formValue.quantity",
			StopOnUserOverride:         stop,
			ReEngageOnDependencyChange: reengage,
		}},
	}}
}

func TestStopOnUserOverride(t *testing.T) {
	t.Parallel()

	f := mustNew(t, totalConfig(true, false))
	if got := mustGet(t, f, "total"); got != 6 {
		t.Fatalf("expected initial total 6, got %v", got)
	}

	_ = f.SetValue("total", 10)
	_ = f.SetValue("quantity", 4)
	if got := mustGet(t, f, "total"); got != 10 {
		t.Fatalf("user value must survive dependency change, got %v", got)
	}
	state, _ := f.State("total")
	if state.Derivation == nil || !state.Derivation.Overridden {
		t.Fatalf("expected overridden derivation state, got %+v", state.Derivation)
	}
}

func TestReEngageOnDependencyChange(t *testing.T) {
	t.Parallel()

	f := mustNew(t, totalConfig(true, true))
	_ = f.SetValue("total", 10)
	_ = f.SetValue("quantity", 4)
	if got := mustGet(t, f, "total"); got != 8 {
		t.Fatalf("expected recomputed total 8, got %v", got)
	}
}

func TestLatestAsyncRequestWins(t *testing.T) {
	t.Parallel()

	gates := map[string]chan struct{}{"1": make(chan struct{}), "2": make(chan struct{})}
	reg := registry.New()
	_ = reg.RegisterAsyncDerivation("lookup", func(ctx context.Context, ectx expression.Context) (any, error) {
		zip, _ := ectx.FormValue["zip"].(string)
		if gate, ok := gates[zip]; ok {
			<-gate
		}
		return "city-" + zip, nil
	})
	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "zip", Type: formconfig.FieldTypeInput},
		{Key: "city", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{
			Source: formconfig.DerivationAsyncFunction, AsyncFunctionName: "lookup", DependsOn: []string{"zip"},
		}},
	}}
	f := mustNew(t, cfg, WithRegistry(reg))

	applied := make(chan struct{}, 1)
	f.Subscribe(func(c Change) {
		if c.Value["city"] == "city-2" {
			select {
			case applied <- struct{}{}:
			default:
			}
		}
	})

	_ = f.SetValue("zip", "1")
	_ = f.SetValue("zip", "2")
	if !f.Pending() {
		t.Fatalf("expected pending lookups")
	}

	close(gates["2"])
	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatalf("t1 result never applied")
	}
	close(gates["1"])
	settle(t, f)

	if got := mustGet(t, f, "city"); got != "city-2" {
		t.Fatalf("stale t0 response overwrote t1, got %v", got)
	}
	if f.Pending() {
		t.Fatalf("nothing should be pending after settle")
	}
}

func itemsConfig() formconfig.FormConfig {
	return formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "items", Type: formconfig.FieldTypeArray, Template: []formconfig.FieldConfig{
			{Key: "price", Type: formconfig.FieldTypeInput},
			{Key: "quantity", Type: formconfig.FieldTypeInput, Value: 1},
			{Key: "total", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{
				Expression:         "formValue.price * formValue.quantity",
				StopOnUserOverride: true,
			}},
		}},
		{Key: "count", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{
			Expression: "len(formValue.items)",
		}},
	}}
}

func TestArrayReindexPreservesState(t *testing.T) {
	t.Parallel()

	f := mustNew(t, itemsConfig(), WithInitialValue(map[string]any{
		"items": []any{
			map[string]any{"price": 1, "quantity": 2},
			map[string]any{"price": 2, "quantity": 2},
			map[string]any{"price": 3, "quantity": 2},
		},
	}))
	if got := mustGet(t, f, "items[2].total"); got != 6 {
		t.Fatalf("expected per-item total 6, got %v", got)
	}
	if got := mustGet(t, f, "count"); got != 3 {
		t.Fatalf("expected count 3, got %v", got)
	}

	_ = f.SetValue("items[2].total", 99)
	if err := f.RemoveAt("items", 0); err != nil {
		t.Fatalf("remove: %v", err)
	}

	state, ok := f.State("items[1].total")
	if !ok || state.ID != "items#2.total" {
		t.Fatalf("surviving item lost its identity: %+v", state)
	}
	if state.Derivation == nil || !state.Derivation.Overridden {
		t.Fatalf("override flag must follow the item, got %+v", state.Derivation)
	}
	if got := mustGet(t, f, "count"); got != 2 {
		t.Fatalf("expected count 2, got %v", got)
	}

	_ = f.SetValue("items[1].quantity", 5)
	if got := mustGet(t, f, "items[1].total"); got != 99 {
		t.Fatalf("overridden item total changed to %v", got)
	}
	_ = f.SetValue("items[0].quantity", 5)
	if got := mustGet(t, f, "items[0].total"); got != 10 {
		t.Fatalf("expected recomputed total 10, got %v", got)
	}

	if err := f.Append("items", map[string]any{"price": 10, "quantity": 2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := mustGet(t, f, "items[2].total"); got != 20 {
		t.Fatalf("appended item total = %v", got)
	}
	if err := f.Prepend("items", nil); err != nil {
		t.Fatalf("prepend: %v", err)
	}
	if got := mustGet(t, f, "items[0].quantity"); got != 1 {
		t.Fatalf("template default not applied, got %v", got)
	}
	if err := f.Move("items", 0, 3); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := f.Shift("items"); err != nil {
		t.Fatalf("shift: %v", err)
	}
	if got := mustGet(t, f, "count"); got != 3 {
		t.Fatalf("expected count 3, got %v", got)
	}
	if err := f.Append("count", nil); err == nil {
		t.Fatalf("expected error appending to a non-array")
	}
}

func TestServerErrors(t *testing.T) {
	t.Parallel()

	cfg := itemsConfig()
	cfg.Fields = append(cfg.Fields, formconfig.FieldConfig{Key: "name", Type: formconfig.FieldTypeInput})
	f := mustNew(t, cfg, WithInitialValue(map[string]any{
		"items": []any{map[string]any{"price": 1}, map[string]any{"price": 2}},
	}))

	mapping := f.SetServerErrors(map[string][]string{
		"/body/name":       {"Name is taken", " Name is taken "},
		"items/1/price":    {"Too expensive"},
		"non_field_errors": {"Try again"},
		"request/unknown":  {"Lost field"},
	})

	wantFields := map[string][]string{
		"name":           {"Name is taken"},
		"items[1].price": {"Too expensive"},
	}
	if diff := cmp.Diff(wantFields, mapping.Fields); diff != "" {
		t.Fatalf("field mapping (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Lost field", "Try again"}, f.FormErrors(), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Fatalf("form errors (-want +got):\n%s", diff)
	}
	if f.Valid() {
		t.Fatalf("server errors must make the form invalid")
	}

	_ = f.SetValue("name", "Grace")
	if errs := f.Errors(); len(errs["name"]) != 0 || len(errs["items[1].price"]) != 1 {
		t.Fatalf("only the edited field should be cleared, got %v", errs)
	}
}

func TestMergeFormErrors(t *testing.T) {
	t.Parallel()

	merged := MergeFormErrors([]string{" First ", "Second"}, "Second", "third", "  ")
	if diff := cmp.Diff([]string{"First", "Second", "third"}, merged); diff != "" {
		t.Fatalf("merged (-want +got):\n%s", diff)
	}
}

func TestResetAndClear(t *testing.T) {
	t.Parallel()

	f := mustNew(t, totalConfig(true, false))
	initial := f.Value()

	_ = f.SetValue("total", 50)
	_ = f.SetValue("price", 7)
	_ = f.MarkTouched("price")

	if err := f.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if diff := cmp.Diff(initial, f.Value()); diff != "" {
		t.Fatalf("reset value (-want +got):\n%s", diff)
	}
	state, _ := f.State("price")
	if state.Dirty || state.Touched {
		t.Fatalf("interaction flags must be cleared: %+v", state)
	}
	total, _ := f.State("total")
	if total.Derivation == nil || total.Derivation.Overridden {
		t.Fatalf("override must be cleared by reset: %+v", total.Derivation)
	}

	if err := f.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	want := map[string]any{"price": nil, "quantity": nil, "total": nil}
	if diff := cmp.Diff(want, f.Value()); diff != "" {
		t.Fatalf("cleared value (-want +got):\n%s", diff)
	}
}

func TestApplyPatchRecomputes(t *testing.T) {
	t.Parallel()

	f := mustNew(t, totalConfig(false, false))
	var origins []Origin
	f.Subscribe(func(c Change) { origins = append(origins, c.Origin) })

	err := f.ApplyPatch([]valuetree.PatchOperation{
		{Op: "replace", Path: "price", Value: 5},
		{Op: "replace", Path: "quantity", Value: 5},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if got := mustGet(t, f, "total"); !valuetree.Equal(got, 25) {
		t.Fatalf("expected 25, got %v", got)
	}
	if diff := cmp.Diff([]Origin{OriginPatch}, origins); diff != "" {
		t.Fatalf("origins (-want +got):\n%s", diff)
	}

	bad := f.ApplyPatch([]valuetree.PatchOperation{
		{Op: "replace", Path: "price", Value: 1},
		{Op: "remove", Path: "missing"},
	})
	if bad == nil {
		t.Fatalf("expected failing patch to error")
	}
	if got := mustGet(t, f, "price"); !valuetree.Equal(got, 5) {
		t.Fatalf("failed patch must not apply partially, price=%v", got)
	}
}

func TestDerivationCycleStopsAtDepth(t *testing.T) {
	t.Parallel()

	cfg := formconfig.FormConfig{
		Options: formconfig.FormOptions{MaxDerivationDepth: 4},
		Fields: []formconfig.FieldConfig{
			{Key: "a", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{Expression: "formValue.b + 1"}},
			{Key: "b", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{Expression: "formValue.a + 1"}},
		},
	}
	f := mustNew(t, cfg)
	if err := f.SetValue("a", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if a, b := mustGet(t, f, "a"), mustGet(t, f, "b"); a != 5 || b != 4 {
		t.Fatalf("expected propagation to stop at depth 4, got a=%v b=%v", a, b)
	}
}

func TestHiddenFieldsSkipValidation(t *testing.T) {
	t.Parallel()

	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "secret", Type: formconfig.FieldTypeInput, Required: true, Hidden: true},
		{Key: "locked", Type: formconfig.FieldTypeGroup, Disabled: true, Fields: []formconfig.FieldConfig{
			{Key: "inner", Type: formconfig.FieldTypeInput, Required: true},
		}},
	}}
	f := mustNew(t, cfg)
	if !f.Valid() {
		t.Fatalf("hidden and disabled fields must not block validity: %v", f.Errors())
	}
	inner, _ := f.State("locked.inner")
	if !inner.Disabled {
		t.Fatalf("disabled must be inherited from the group")
	}

	cfg.Options.ValidateHidden = true
	f = mustNew(t, cfg)
	errs := f.Errors()
	if len(errs["secret"]) != 1 || len(errs["locked.inner"]) != 1 {
		t.Fatalf("expected errors with validateHidden, got %v", errs)
	}
}

func TestHTTPValidatorThroughForm(t *testing.T) {
	t.Parallel()

	client := transport.ClientFunc(func(ctx context.Context, req transport.Request) (any, error) {
		return map[string]any{"available": req.Query["username"] != "taken"}, nil
	})
	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "username", Type: formconfig.FieldTypeInput, Validators: []formconfig.ValidatorConfig{{
			Type:            formconfig.ValidatorHTTP,
			HTTP:            &formconfig.HTTPRequest{URL: "https://api.test/users", QueryParams: map[string]any{"username": "fieldValue"}},
			ResponseMapping: &formconfig.ResponseMapping{ValidWhen: "response.available", ErrorKind: "usernameTaken"},
		}}},
		{Key: "submit", Type: formconfig.FieldTypeInput, Logic: []formconfig.LogicConfig{
			{Type: formconfig.LogicDisabled, Condition: formconfig.LogicCondition{Name: "formInvalid"}},
		}},
	}}
	f := mustNew(t, cfg, WithTransport(client))
	settle(t, f)

	_ = f.SetValue("username", "taken")
	settle(t, f)
	if diff := cmp.Diff([]string{"usernameTaken"}, errorKinds(f.Errors()["username"])); diff != "" {
		t.Fatalf("username errors (-want +got):\n%s", diff)
	}
	submit, _ := f.State("submit")
	if !submit.Disabled {
		t.Fatalf("formInvalid should disable submit")
	}

	_ = f.SetValue("username", "free")
	settle(t, f)
	if !f.Valid() {
		t.Fatalf("expected valid form, got %v", f.Errors())
	}
	submit, _ = f.State("submit")
	if submit.Disabled {
		t.Fatalf("submit should be enabled again")
	}
}

func TestSubmittingPredicate(t *testing.T) {
	t.Parallel()

	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "name", Type: formconfig.FieldTypeInput, Logic: []formconfig.LogicConfig{
			{Type: formconfig.LogicReadonly, Condition: formconfig.LogicCondition{Name: "formSubmitting"}},
		}},
	}}
	f := mustNew(t, cfg)
	f.SetSubmitting(true)
	if state, _ := f.State("name"); !state.Readonly {
		t.Fatalf("expected readonly while submitting")
	}
	f.SetSubmitting(false)
	if state, _ := f.State("name"); state.Readonly {
		t.Fatalf("expected editable after submit")
	}
}

func TestClosedFormRejectsWrites(t *testing.T) {
	t.Parallel()

	f := mustNew(t, passwordConfig())
	f.Close()
	if err := f.SetValue("password", "x"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSettleConcurrentWithWrites(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	_ = reg.RegisterAsyncDerivation("lookupCity", func(ctx context.Context, ectx expression.Context) (any, error) {
		zip, _ := ectx.FormValue["zip"].(string)
		return "city-" + zip, nil
	})
	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "zip", Type: formconfig.FieldTypeInput},
		{Key: "city", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{
			Source:            formconfig.DerivationAsyncFunction,
			AsyncFunctionName: "lookupCity",
			DependsOn:         []string{"zip"},
		}},
	}}
	f := mustNew(t, cfg, WithRegistry(reg))

	const writes = 200
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 0; i < writes; i++ {
			_ = f.SetValue("zip", strconv.Itoa(i))
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = f.Settle(ctx)
			cancel()
		}
	}()
	wg.Wait()

	settle(t, f)
	if got := mustGet(t, f, "city"); got != "city-"+strconv.Itoa(writes-1) {
		t.Fatalf("expected city of the last zip, got %v", got)
	}
	if f.Pending() {
		t.Fatalf("form still pending after settle")
	}
}

func TestSettleHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	reg := registry.New()
	_ = reg.RegisterAsyncDerivation("slow", func(ctx context.Context, ectx expression.Context) (any, error) {
		<-release
		return "done", nil
	})
	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "in", Type: formconfig.FieldTypeInput},
		{Key: "out", Type: formconfig.FieldTypeInput, Derivation: &formconfig.DerivationConfig{
			Source: formconfig.DerivationAsyncFunction, AsyncFunctionName: "slow", DependsOn: []string{"in"},
		}},
	}}
	f := mustNew(t, cfg, WithRegistry(reg))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Settle(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	settle(t, f)
	if got := mustGet(t, f, "out"); got != "done" {
		t.Fatalf("expected derived value after release, got %v", got)
	}
}

func TestStaleAsyncValidationDiscarded(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	client := transport.ClientFunc(func(ctx context.Context, req transport.Request) (any, error) {
		if req.Query["username"] == "old" {
			close(started)
			<-release
			return map[string]any{"available": false}, nil
		}
		return map[string]any{"available": true}, nil
	})
	cfg := formconfig.FormConfig{Fields: []formconfig.FieldConfig{
		{Key: "username", Type: formconfig.FieldTypeInput, Validators: []formconfig.ValidatorConfig{{
			Type:            formconfig.ValidatorHTTP,
			HTTP:            &formconfig.HTTPRequest{URL: "https://api.test/users", QueryParams: map[string]any{"username": "fieldValue"}},
			ResponseMapping: &formconfig.ResponseMapping{ValidWhen: "response.available", ErrorKind: "usernameTaken"},
		}}},
	}}
	f := mustNew(t, cfg, WithTransport(client))
	settle(t, f)

	_ = f.SetValue("username", "old")
	<-started
	_ = f.SetValue("username", "new")

	deadline := time.Now().Add(5 * time.Second)
	for f.Pending() {
		if time.Now().After(deadline) {
			t.Fatalf("validation of the new value never finished")
		}
		time.Sleep(time.Millisecond)
	}

	close(release)
	settle(t, f)
	if errs := f.Errors(); len(errs) != 0 {
		t.Fatalf("stale response leaked into errors: %v", errs)
	}
	if !f.Valid() {
		t.Fatalf("expected valid form")
	}
}
