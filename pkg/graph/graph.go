// Package graph indexes a form configuration against a value tree. Every
// field instance becomes a Node with a stable ID, and every rule that reads
// another field contributes a dependency Edge, so the runtime can ask which
// rules a value change affects without scanning the whole form.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

var (
	ErrMissingKey     = errors.New("graph: field without key")
	ErrDuplicateKey   = errors.New("graph: duplicate key in scope")
	ErrEmptyContainer = errors.New("graph: container without children")
	ErrArrayTemplate  = errors.New("graph: array without template")
	ErrNotArray       = errors.New("graph: path is not an array field")
	ErrItemRange      = errors.New("graph: item index out of range")
)

// Kind classifies index nodes.
type Kind uint8

const (
	KindField Kind = iota
	KindGroup
	KindLayout
	KindArray
	KindItem
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindGroup:
		return "group"
	case KindLayout:
		return "layout"
	case KindArray:
		return "array"
	case KindItem:
		return "item"
	default:
		return "unknown"
	}
}

// Node is one field instance. Layout nodes carry a synthetic path under
// their value scope; it addresses no value. Item nodes have no config.
type Node struct {
	ID       string
	Key      string
	Path     string
	Kind     Kind
	Config   *formconfig.FieldConfig
	Parent   string
	Children []string
	// Item is the position of an item node within its array, -1 otherwise.
	Item int
}

// HasValue reports whether the node addresses a slot in the value tree.
func (n *Node) HasValue() bool {
	return n.Kind != KindLayout
}

// Index is the walked form: nodes, value path lookup and dependency edges.
// It is not safe for concurrent use.
type Index struct {
	cfg       formconfig.FormConfig
	nodes     map[string]*Node
	byPath    map[string]string
	order     []string
	roots     []string
	items     map[string][]string
	seq       map[string]int
	edges     []Edge
	formState []string
}

// Build validates the container structure of cfg and indexes it against
// values. Arrays get one item per element present in values.
func Build(cfg formconfig.FormConfig, values map[string]any) (*Index, error) {
	if err := checkScope(cfg.Fields, ""); err != nil {
		return nil, err
	}
	idx := &Index{
		cfg:   cfg,
		items: make(map[string][]string),
		seq:   make(map[string]int),
	}
	idx.walk(values)
	return idx, nil
}

// Rebuild re-walks the configuration against values, keeping item ids of
// surviving array elements, and returns the ids that disappeared.
func (idx *Index) Rebuild(values map[string]any) []string {
	previous := idx.nodes
	idx.walk(values)
	var removed []string
	for id := range previous {
		if _, ok := idx.nodes[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// ByID returns the node with the given id.
func (idx *Index) ByID(id string) (*Node, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

// ByPath returns the value node at path.
func (idx *Index) ByPath(path string) (*Node, bool) {
	id, ok := idx.byPath[valuetree.Canonical(path)]
	if !ok {
		return nil, false
	}
	return idx.nodes[id], true
}

// Nodes lists every node in document order.
func (idx *Index) Nodes() []*Node {
	out := make([]*Node, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.nodes[id])
	}
	return out
}

// Leaves lists the value-bearing input nodes in document order.
func (idx *Index) Leaves() []*Node {
	var out []*Node
	for _, id := range idx.order {
		if n := idx.nodes[id]; n.Kind == KindField {
			out = append(out, n)
		}
	}
	return out
}

// Roots lists the ids of the top-level nodes.
func (idx *Index) Roots() []string {
	return append([]string(nil), idx.roots...)
}

// ArrayItems lists the item ids of the array at path in index order.
func (idx *Index) ArrayItems(path string) []string {
	n, ok := idx.ByPath(path)
	if !ok || n.Kind != KindArray {
		return nil
	}
	return append([]string(nil), idx.items[n.ID]...)
}

// Ancestors lists the parents of id, nearest first.
func (idx *Index) Ancestors(id string) []*Node {
	var out []*Node
	n, ok := idx.nodes[id]
	for ok && n.Parent != "" {
		n, ok = idx.nodes[n.Parent]
		if ok {
			out = append(out, n)
		}
	}
	return out
}

// InsertItem reserves a fresh item id at position at of the array at path.
// Call Rebuild once the value tree holds the new element.
func (idx *Index) InsertItem(path string, at int) error {
	arr, err := idx.array(path)
	if err != nil {
		return err
	}
	ids := idx.items[arr.ID]
	if at < 0 {
		at = 0
	}
	if at > len(ids) {
		at = len(ids)
	}
	ids = append(ids, "")
	copy(ids[at+1:], ids[at:])
	ids[at] = idx.nextItemID(arr.ID)
	idx.items[arr.ID] = ids
	return nil
}

// RemoveItem drops the item id at position at of the array at path.
func (idx *Index) RemoveItem(path string, at int) error {
	arr, err := idx.array(path)
	if err != nil {
		return err
	}
	ids := idx.items[arr.ID]
	if at < 0 || at >= len(ids) {
		return fmt.Errorf("%w: %s[%d]", ErrItemRange, path, at)
	}
	idx.items[arr.ID] = append(ids[:at], ids[at+1:]...)
	return nil
}

// MoveItem relocates an item id inside the array at path.
func (idx *Index) MoveItem(path string, from, to int) error {
	arr, err := idx.array(path)
	if err != nil {
		return err
	}
	ids := idx.items[arr.ID]
	if from < 0 || from >= len(ids) || to < 0 || to >= len(ids) {
		return fmt.Errorf("%w: move %s[%d] to %d", ErrItemRange, path, from, to)
	}
	id := ids[from]
	ids = append(ids[:from], ids[from+1:]...)
	ids = append(ids, "")
	copy(ids[to+1:], ids[to:])
	ids[to] = id
	idx.items[arr.ID] = ids
	return nil
}

func (idx *Index) array(path string) (*Node, error) {
	n, ok := idx.ByPath(path)
	if !ok || n.Kind != KindArray {
		return nil, fmt.Errorf("%w: %q", ErrNotArray, path)
	}
	return n, nil
}

func (idx *Index) nextItemID(arrayID string) string {
	id := arrayID + "#" + strconv.Itoa(idx.seq[arrayID])
	idx.seq[arrayID]++
	return id
}

// reconcile sizes the item id list of an array to n, keeping the leading
// ids and minting new ones at the tail.
func (idx *Index) reconcile(arrayID string, n int) []string {
	ids := idx.items[arrayID]
	if len(ids) > n {
		ids = ids[:n]
	}
	for len(ids) < n {
		ids = append(ids, idx.nextItemID(arrayID))
	}
	idx.items[arrayID] = ids
	return ids
}

func (idx *Index) walk(values map[string]any) {
	idx.nodes = make(map[string]*Node)
	idx.byPath = make(map[string]string)
	idx.order = nil
	idx.roots = idx.walkFields(idx.cfg.Fields, "", "", "", values)
	for id := range idx.items {
		if _, ok := idx.nodes[id]; !ok {
			delete(idx.items, id)
			delete(idx.seq, id)
		}
	}
	idx.collectEdges()
}

func (idx *Index) add(n *Node) {
	idx.nodes[n.ID] = n
	idx.order = append(idx.order, n.ID)
	if n.HasValue() {
		idx.byPath[n.Path] = n.ID
	}
}

func (idx *Index) walkFields(fields []formconfig.FieldConfig, parent, scopeID, scopePath string, values map[string]any) []string {
	ids := make([]string, 0, len(fields))
	for i := range fields {
		f := &fields[i]
		key := strings.TrimSpace(f.Key)

		if f.Type.IsLayout() {
			name := "@" + key
			if key == "" {
				name = "@" + strconv.Itoa(i)
			}
			owner := parent
			if owner == "" {
				owner = scopeID
			}
			n := &Node{ID: joinID(owner, name), Key: key, Path: valuetree.Join(scopePath, name), Kind: KindLayout, Config: f, Parent: parent, Item: -1}
			idx.add(n)
			n.Children = idx.walkFields(f.Fields, n.ID, scopeID, scopePath, values)
			ids = append(ids, n.ID)
			continue
		}

		n := &Node{ID: joinID(scopeID, key), Key: key, Path: valuetree.Join(scopePath, key), Config: f, Parent: parent, Item: -1}
		switch f.Type {
		case formconfig.FieldTypeGroup:
			n.Kind = KindGroup
			idx.add(n)
			n.Children = idx.walkFields(f.Fields, n.ID, n.ID, n.Path, values)
		case formconfig.FieldTypeArray:
			n.Kind = KindArray
			idx.add(n)
			n.Children = idx.walkItems(n, values)
		default:
			n.Kind = KindField
			idx.add(n)
		}
		ids = append(ids, n.ID)
	}
	return ids
}

func (idx *Index) walkItems(arr *Node, values map[string]any) []string {
	ids := idx.reconcile(arr.ID, arrayLen(values, arr.Path))
	template := arr.Config.Children()
	children := make([]string, 0, len(ids))
	for i, itemID := range ids {
		item := &Node{ID: itemID, Path: valuetree.IndexPath(arr.Path, i), Kind: KindItem, Parent: arr.ID, Item: i}
		idx.add(item)
		item.Children = idx.walkFields(template, item.ID, item.ID, item.Path, values)
		children = append(children, itemID)
	}
	return children
}

func joinID(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}

func lookup(values map[string]any, path string) (any, bool) {
	segs, err := valuetree.ParsePath(path)
	if err != nil {
		return nil, false
	}
	return valuetree.Lookup(values, segs)
}

func arrayLen(values map[string]any, path string) int {
	v, ok := lookup(values, path)
	if !ok {
		return 0
	}
	switch list := v.(type) {
	case []any:
		return len(list)
	case []map[string]any:
		return len(list)
	default:
		return 0
	}
}

func checkScope(fields []formconfig.FieldConfig, scope string) error {
	return checkFields(fields, scope, make(map[string]struct{}))
}

func checkFields(fields []formconfig.FieldConfig, scope string, seen map[string]struct{}) error {
	for i := range fields {
		f := &fields[i]
		key := strings.TrimSpace(f.Key)

		if f.Type.IsLayout() {
			if len(f.Fields) == 0 {
				return fmt.Errorf("%w: %s %q in %s", ErrEmptyContainer, f.Type, key, scopeName(scope))
			}
			if key != "" {
				if _, dup := seen["@"+key]; dup {
					return fmt.Errorf("%w: %s %q in %s", ErrDuplicateKey, f.Type, key, scopeName(scope))
				}
				seen["@"+key] = struct{}{}
			}
			if err := checkFields(f.Fields, scope, seen); err != nil {
				return err
			}
			continue
		}

		if key == "" {
			return fmt.Errorf("%w: position %d in %s", ErrMissingKey, i, scopeName(scope))
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %q in %s", ErrDuplicateKey, key, scopeName(scope))
		}
		seen[key] = struct{}{}

		path := valuetree.Join(scope, key)
		switch f.Type {
		case formconfig.FieldTypeGroup:
			if len(f.Fields) == 0 {
				return fmt.Errorf("%w: group %q", ErrEmptyContainer, path)
			}
			if err := checkScope(f.Fields, path); err != nil {
				return err
			}
		case formconfig.FieldTypeArray:
			children := f.Children()
			if len(children) == 0 {
				return fmt.Errorf("%w: %q", ErrArrayTemplate, path)
			}
			if err := checkScope(children, path+"[]"); err != nil {
				return err
			}
		}
	}
	return nil
}

func scopeName(scope string) string {
	if scope == "" {
		return "root"
	}
	return strconv.Quote(scope)
}
