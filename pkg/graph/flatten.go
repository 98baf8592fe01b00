package graph

import (
	"fmt"
	"sort"

	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// Flatten maps every leaf path present in values to its value. Empty arrays
// are kept as empty lists so Unflatten restores them.
func (idx *Index) Flatten(values map[string]any) map[string]any {
	out := make(map[string]any)
	for _, id := range idx.order {
		n := idx.nodes[id]
		switch n.Kind {
		case KindField:
			if v, ok := lookup(values, n.Path); ok {
				out[n.Path] = valuetree.Clone(v)
			}
		case KindArray:
			if len(n.Children) == 0 {
				if _, ok := lookup(values, n.Path); ok {
					out[n.Path] = []any{}
				}
			}
		}
	}
	return out
}

// Unflatten rebuilds the nested value tree from a leaf-path map.
func Unflatten(flat map[string]any) (map[string]any, error) {
	paths := make([]string, 0, len(flat))
	for path := range flat {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	tree := valuetree.New(nil)
	for _, path := range paths {
		if err := tree.Set(path, valuetree.Clone(flat[path])); err != nil {
			return nil, fmt.Errorf("graph: unflatten %q: %w", path, err)
		}
	}
	return tree.Root(), nil
}
