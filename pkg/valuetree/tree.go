package valuetree

import (
	"fmt"
	"reflect"
)

// Tree holds a nested form value: maps for objects, []any for arrays and
// scalars at the leaves. Tree is not safe for concurrent use; callers
// serialise access.
type Tree struct {
	root map[string]any
}

// New returns a tree seeded with a deep copy of initial.
func New(initial map[string]any) *Tree {
	t := &Tree{root: map[string]any{}}
	if initial != nil {
		t.root = Clone(initial).(map[string]any)
	}
	return t
}

// Root exposes the live root map. Callers must not mutate it.
func (t *Tree) Root() map[string]any {
	return t.root
}

// Snapshot returns a deep copy of the whole tree.
func (t *Tree) Snapshot() map[string]any {
	return Clone(t.root).(map[string]any)
}

// Replace swaps the tree's content for a deep copy of root.
func (t *Tree) Replace(root map[string]any) {
	if root == nil {
		t.root = map[string]any{}
		return
	}
	t.root = Clone(root).(map[string]any)
}

// Get resolves path and reports whether a value exists there.
func (t *Tree) Get(path string) (any, bool) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	return Lookup(t.root, segs)
}

// Lookup walks segs from node.
func Lookup(node any, segs []Segment) (any, bool) {
	current := node
	for _, seg := range segs {
		if seg.IsIndex {
			list, ok := current.([]any)
			if !ok || seg.Index >= len(list) {
				return nil, false
			}
			current = list[seg.Index]
			continue
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg.Key]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Set writes value at path, creating intermediate objects and growing
// arrays as needed. Existing scalars in the way are replaced.
func (t *Tree) Set(path string, value any) error {
	segs, err := ParsePath(path)
	if err != nil {
		return err
	}
	if segs[0].IsIndex {
		return fmt.Errorf("valuetree: path %q must start with a key", path)
	}
	updated := setIn(t.root, segs, value)
	t.root = updated.(map[string]any)
	return nil
}

func setIn(node any, segs []Segment, value any) any {
	if len(segs) == 0 {
		return value
	}
	seg := segs[0]
	if seg.IsIndex {
		list, _ := node.([]any)
		if len(list) <= seg.Index {
			list = append(list, make([]any, seg.Index+1-len(list))...)
		}
		list[seg.Index] = setIn(list[seg.Index], segs[1:], value)
		return list
	}
	m, ok := node.(map[string]any)
	if !ok || m == nil {
		m = map[string]any{}
	}
	m[seg.Key] = setIn(m[seg.Key], segs[1:], value)
	return m
}

// Delete removes the key at path. Deleting an array element removes it and
// shifts the tail left.
func (t *Tree) Delete(path string) error {
	segs, err := ParsePath(path)
	if err != nil {
		return err
	}
	last := segs[len(segs)-1]
	if last.IsIndex {
		_, err := t.RemoveAt(FormatPath(segs[:len(segs)-1]), last.Index)
		return err
	}
	parent := any(t.root)
	if len(segs) > 1 {
		var ok bool
		parent, ok = Lookup(t.root, segs[:len(segs)-1])
		if !ok {
			return nil
		}
	}
	if m, ok := parent.(map[string]any); ok {
		delete(m, last.Key)
	}
	return nil
}

// Array returns the array stored at path.
func (t *Tree) Array(path string) ([]any, bool) {
	v, ok := t.Get(path)
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	return list, ok
}

// Len is the length of the array at path, or zero.
func (t *Tree) Len(path string) int {
	list, _ := t.Array(path)
	return len(list)
}

// InsertAt inserts item at index of the array at path. index is clamped to
// [0, len]. A missing array is created.
func (t *Tree) InsertAt(path string, index int, item any) error {
	list, _ := t.Array(path)
	if index < 0 {
		index = 0
	}
	if index > len(list) {
		index = len(list)
	}
	out := make([]any, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, item)
	out = append(out, list[index:]...)
	return t.Set(path, out)
}

// RemoveAt removes and returns the element at index of the array at path.
func (t *Tree) RemoveAt(path string, index int) (any, error) {
	list, ok := t.Array(path)
	if !ok {
		return nil, fmt.Errorf("valuetree: %q is not an array", path)
	}
	if index < 0 || index >= len(list) {
		return nil, fmt.Errorf("valuetree: index %d out of range for %q (len %d)", index, path, len(list))
	}
	removed := list[index]
	out := make([]any, 0, len(list)-1)
	out = append(out, list[:index]...)
	out = append(out, list[index+1:]...)
	return removed, t.Set(path, out)
}

// Move relocates the element at from to position to within the array at path.
func (t *Tree) Move(path string, from, to int) error {
	list, ok := t.Array(path)
	if !ok {
		return fmt.Errorf("valuetree: %q is not an array", path)
	}
	if from < 0 || from >= len(list) || to < 0 || to >= len(list) {
		return fmt.Errorf("valuetree: move %d->%d out of range for %q (len %d)", from, to, path, len(list))
	}
	if from == to {
		return nil
	}
	item := list[from]
	out := make([]any, 0, len(list))
	out = append(out, list[:from]...)
	out = append(out, list[from+1:]...)
	out = append(out[:to], append([]any{item}, out[to:]...)...)
	return t.Set(path, out)
}

// Clone deep-copies maps and slices. Other values are returned as-is.
func Clone(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, child := range typed {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, child := range typed {
			out[i] = Clone(child)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, child := range typed {
			out[i] = Clone(child)
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for i, child := range typed {
			out[i] = child
		}
		return out
	default:
		return v
	}
}

// Equal compares two values structurally. Numbers compare by value so an
// int read from config equals the float64 produced by JSON decoding.
func Equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch ta := a.(type) {
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, av := range ta {
			bv, ok := tb[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !Equal(ta[i], tb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
