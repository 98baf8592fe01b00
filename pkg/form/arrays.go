package form

import (
	"fmt"

	"github.com/goliatone/go-formlogic/pkg/graph"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// Append adds an item at the end of the array at path. item may be nil;
// missing keys are filled from the template.
func (f *Form) Append(path string, item map[string]any) error {
	return f.insert(path, -1, item)
}

// Prepend adds an item at the start of the array at path.
func (f *Form) Prepend(path string, item map[string]any) error {
	return f.insert(path, 0, item)
}

// InsertAt adds an item at index, clamped to the array bounds.
func (f *Form) InsertAt(path string, index int, item map[string]any) error {
	if index < 0 {
		index = 0
	}
	return f.insert(path, index, item)
}

// RemoveAt deletes the item at index. State of the surviving items moves
// with them.
func (f *Form) RemoveAt(path string, index int) error {
	return f.structural(path, func(n *graph.Node) error {
		if _, err := f.values.RemoveAt(n.Path, index); err != nil {
			return err
		}
		return f.index.RemoveItem(n.Path, index)
	})
}

// Shift removes the first item.
func (f *Form) Shift(path string) error {
	return f.RemoveAt(path, 0)
}

// Move relocates the item at from to position to.
func (f *Form) Move(path string, from, to int) error {
	return f.structural(path, func(n *graph.Node) error {
		if err := f.values.Move(n.Path, from, to); err != nil {
			return err
		}
		return f.index.MoveItem(n.Path, from, to)
	})
}

func (f *Form) insert(path string, index int, item map[string]any) error {
	return f.structural(path, func(n *graph.Node) error {
		at := index
		if length := f.values.Len(n.Path); at < 0 || at > length {
			at = length
		}
		value := map[string]any{}
		if item != nil {
			value = valuetree.Clone(item).(map[string]any)
		}
		applyDefaults(n.Config.Children(), value)
		if err := f.values.InsertAt(n.Path, at, value); err != nil {
			return err
		}
		return f.index.InsertItem(n.Path, at)
	})
}

// structural runs an array edit on the array node at path, re-indexes and
// re-runs the rules reading the array as a whole.
func (f *Form) structural(path string, edit func(n *graph.Node) error) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	n, ok := f.index.ByPath(path)
	if !ok || n.Kind != graph.KindArray {
		f.mu.Unlock()
		return fmt.Errorf("%w: %q", graph.ErrNotArray, path)
	}
	if err := edit(n); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("form: edit %q: %w", path, err)
	}
	f.stateFor(n.ID).dirty = true
	f.dirty = true

	p := f.newPass(OriginArray)
	p.written(n.Path)
	f.reindex(p)
	p.enqueue(work{path: n.Path, shallow: true})
	f.run(p)
	change := f.finish(p)
	f.mu.Unlock()

	f.notify(change)
	return nil
}

// ApplyPatch applies an RFC 6902 patch to the value tree as one atomic edit,
// then re-indexes and re-runs every rule reading a touched path. Array items
// are matched to their previous state by position.
func (f *Form) ApplyPatch(ops []valuetree.PatchOperation) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	touched, err := f.values.ApplyPatch(ops)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("form: apply patch: %w", err)
	}

	p := f.newPass(OriginPatch)
	f.reindex(p)
	for _, path := range touched {
		p.written(path)
		p.enqueue(work{path: path})
	}
	f.run(p)
	change := f.finish(p)
	f.mu.Unlock()

	f.notify(change)
	return nil
}

// Reset restores the initial values and clears every override, error and
// interaction flag.
func (f *Form) Reset() error {
	return f.restart(OriginReset, f.initial)
}

// Clear empties every field: nil leaves, empty groups and arrays. Runtime
// state is cleared as for Reset.
func (f *Form) Clear() error {
	empty := map[string]any{}
	emptyValues(f.cfg.Fields, empty)
	return f.restart(OriginClear, empty)
}

func (f *Form) restart(origin Origin, values map[string]any) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	for _, st := range f.fields {
		st.cancelAsync()
	}
	f.fields = make(map[string]*fieldState)
	f.derive.Reset()
	f.values.Replace(values)
	f.dirty = false
	f.touched = false
	f.submitting = false
	f.formErrors = nil

	p := f.newPass(origin)
	p.written("")
	f.reindex(p)
	f.run(p)
	change := f.finish(p)
	f.mu.Unlock()

	f.notify(change)
	return nil
}
