package valuetree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []Segment
	}{
		{"name", []Segment{{Key: "name"}}},
		{"address.city", []Segment{{Key: "address"}, {Key: "city"}}},
		{"items[2].name", []Segment{{Key: "items"}, {Index: 2, IsIndex: true}, {Key: "name"}}},
		{"items.2.name", []Segment{{Key: "items"}, {Index: 2, IsIndex: true}, {Key: "name"}}},
		{"matrix[0][1]", []Segment{{Key: "matrix"}, {Index: 0, IsIndex: true}, {Index: 1, IsIndex: true}}},
	}
	for _, tc := range cases {
		got, err := ParsePath(tc.in)
		if err != nil {
			t.Fatalf("ParsePath(%q) error: %v", tc.in, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("ParsePath(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}

	for _, bad := range []string{"", "  ", "items[", "items[-1]", "items[x]"} {
		if _, err := ParsePath(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCanonicalAndPrefix(t *testing.T) {
	t.Parallel()

	if got := Canonical("items.0.name"); got != "items[0].name" {
		t.Fatalf("Canonical = %q", got)
	}
	if !HasPrefix("items[0].name", "items") || !HasPrefix("items[0].name", "items[0]") {
		t.Fatalf("expected prefix match")
	}
	if HasPrefix("itemsCount", "items") {
		t.Fatalf("itemsCount must not match prefix items")
	}
}

func TestTreeSetGetCreatesIntermediates(t *testing.T) {
	t.Parallel()

	tree := New(nil)
	if err := tree.Set("contacts[1].email", "b@example.com"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := tree.Set("address.city", "Lisbon"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	want := map[string]any{
		"contacts": []any{nil, map[string]any{"email": "b@example.com"}},
		"address":  map[string]any{"city": "Lisbon"},
	}
	if diff := cmp.Diff(want, tree.Snapshot()); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}

	got, ok := tree.Get("contacts.1.email")
	if !ok || got != "b@example.com" {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	if _, ok := tree.Get("contacts[5]"); ok {
		t.Fatalf("expected missing index")
	}
	if err := tree.Set("[0]", 1); err == nil {
		t.Fatalf("expected error for index-first path")
	}
}

func TestTreeSnapshotIsIsolated(t *testing.T) {
	t.Parallel()

	initial := map[string]any{"tags": []any{"a"}}
	tree := New(initial)
	initial["tags"].([]any)[0] = "mutated"

	snap := tree.Snapshot()
	snap["tags"].([]any)[0] = "changed"

	got, _ := tree.Get("tags[0]")
	if got != "a" {
		t.Fatalf("tree leaked external mutation, got %v", got)
	}
}

func TestTreeArrayOperations(t *testing.T) {
	t.Parallel()

	tree := New(map[string]any{"items": []any{"a", "b", "c"}})

	if err := tree.InsertAt("items", 1, "x"); err != nil {
		t.Fatalf("InsertAt: %v", err)
	}
	if err := tree.InsertAt("items", 99, "z"); err != nil {
		t.Fatalf("InsertAt clamp: %v", err)
	}
	removed, err := tree.RemoveAt("items", 0)
	if err != nil || removed != "a" {
		t.Fatalf("RemoveAt = %v, %v", removed, err)
	}
	if err := tree.Move("items", 0, 3); err != nil {
		t.Fatalf("Move: %v", err)
	}

	got, _ := tree.Array("items")
	if diff := cmp.Diff([]any{"b", "c", "z", "x"}, got); diff != "" {
		t.Fatalf("array mismatch (-want +got):\n%s", diff)
	}
	if _, err := tree.RemoveAt("items", 10); err == nil {
		t.Fatalf("expected out of range error")
	}
	if err := tree.Move("missing", 0, 1); err == nil {
		t.Fatalf("expected error moving within a missing array")
	}
}

func TestTreeDelete(t *testing.T) {
	t.Parallel()

	tree := New(map[string]any{"a": map[string]any{"b": 1, "c": 2}, "list": []any{1, 2}})
	if err := tree.Delete("a.b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tree.Delete("list[0]"); err != nil {
		t.Fatalf("Delete index: %v", err)
	}
	want := map[string]any{"a": map[string]any{"c": 2}, "list": []any{2}}
	if diff := cmp.Diff(want, tree.Snapshot()); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestEqualNormalisesNumbers(t *testing.T) {
	t.Parallel()

	if !Equal(map[string]any{"n": 3}, map[string]any{"n": 3.0}) {
		t.Fatalf("expected int and float64 to compare equal")
	}
	if Equal([]any{1, 2}, []any{1}) {
		t.Fatalf("expected length mismatch to differ")
	}
	if Equal("1", 1) {
		t.Fatalf("string and number must differ")
	}
}

func TestItemScopes(t *testing.T) {
	t.Parallel()

	got := ItemScopes("orders[1].lines[0].qty")
	if diff := cmp.Diff([]string{"orders[1].lines[0]", "orders[1]"}, got); diff != "" {
		t.Fatalf("scopes mismatch (-want +got):\n%s", diff)
	}
	if got := ItemScopes("name"); len(got) != 0 {
		t.Fatalf("expected no scopes, got %v", got)
	}
}
