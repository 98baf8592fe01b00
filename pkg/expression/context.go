package expression

import (
	"strings"

	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// Context is the value context a single evaluation runs against. It is built
// per call and never retained.
type Context struct {
	FieldValue any
	FormValue  map[string]any
	// FieldPath is the path of the field the rule belongs to. It scopes
	// relative references inside array items.
	FieldPath string
}

// Lookup resolves ref against the form value. When the owning field lives
// inside array items, a sibling key in the nearest enclosing item wins over
// a root-level field with the same leading key.
func (c Context) Lookup(ref string) (any, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	return lookupPath(c.FormValue, c.ResolvePath(ref))
}

// ResolvePath maps ref to the absolute path Lookup reads.
func (c Context) ResolvePath(ref string) string {
	ref = strings.TrimSpace(ref)
	head := firstKey(ref)
	for _, scope := range valuetree.ItemScopes(c.FieldPath) {
		item, ok := lookupPath(c.FormValue, scope)
		if !ok {
			continue
		}
		if m, isMap := item.(map[string]any); isMap {
			if _, has := m[head]; has {
				return valuetree.Canonical(scope + "." + ref)
			}
		}
	}
	return valuetree.Canonical(ref)
}

// ScopedFormValue is the form value scripts see: the root with every
// enclosing array item laid over it, innermost last, so sibling keys shadow
// root keys of the same name.
func (c Context) ScopedFormValue() map[string]any {
	scopes := valuetree.ItemScopes(c.FieldPath)
	if len(scopes) == 0 {
		return c.FormValue
	}
	out := make(map[string]any, len(c.FormValue))
	for k, v := range c.FormValue {
		out[k] = v
	}
	for i := len(scopes) - 1; i >= 0; i-- {
		item, ok := lookupPath(c.FormValue, scopes[i])
		if !ok {
			continue
		}
		if m, isMap := item.(map[string]any); isMap {
			for k, v := range m {
				out[k] = v
			}
		}
	}
	return out
}

func firstKey(ref string) string {
	segs, err := valuetree.ParsePath(ref)
	if err != nil || segs[0].IsIndex {
		return ref
	}
	return segs[0].Key
}

func lookupPath(values map[string]any, path string) (any, bool) {
	if len(values) == 0 {
		return nil, false
	}
	// Prefer an exact key so flat maps with dotted keys still resolve.
	if v, ok := values[path]; ok {
		return v, true
	}
	segs, err := valuetree.ParsePath(path)
	if err != nil {
		return nil, false
	}
	return valuetree.Lookup(values, segs)
}
