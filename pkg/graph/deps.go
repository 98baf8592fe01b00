package graph

import (
	"sort"
	"strings"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/logic"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// RuleKind is a bit set of rule families.
type RuleKind uint8

const (
	RuleValidation RuleKind = 1 << iota
	RuleLogic
	RuleDerivation
)

// Has reports whether every bit of other is set.
func (k RuleKind) Has(other RuleKind) bool {
	return k&other == other
}

func (k RuleKind) String() string {
	var parts []string
	if k.Has(RuleValidation) {
		parts = append(parts, "validation")
	}
	if k.Has(RuleLogic) {
		parts = append(parts, "logic")
	}
	if k.Has(RuleDerivation) {
		parts = append(parts, "derivation")
	}
	return strings.Join(parts, "|")
}

// Edge records that a rule of Kind on node Target reads the value at
// Source. An empty Source is the whole form.
type Edge struct {
	Source string
	Target string
	Kind   RuleKind
}

// Dependent is a node whose rules must re-run after a change.
type Dependent struct {
	ID    string
	Kinds RuleKind
}

// Edges lists the dependency edges in document order of their targets.
func (idx *Index) Edges() []Edge {
	return append([]Edge(nil), idx.edges...)
}

// FormStateDependents lists the nodes whose logic reads a form-state
// predicate.
func (idx *Index) FormStateDependents() []string {
	return append([]string(nil), idx.formState...)
}

// Affected returns the nodes with a rule reading changed, an ancestor of
// changed or a descendant of it, in document order.
func (idx *Index) Affected(changed string) []Dependent {
	return idx.dependents(changed, true)
}

// Watchers returns the nodes with a rule reading path itself or one of its
// ancestors. Array structure edits use it so rules inside surviving items
// are left alone.
func (idx *Index) Watchers(path string) []Dependent {
	return idx.dependents(path, false)
}

func (idx *Index) dependents(changed string, descendants bool) []Dependent {
	changed = valuetree.Canonical(changed)
	kinds := make(map[string]RuleKind)
	var order []string
	for _, e := range idx.edges {
		match := valuetree.HasPrefix(changed, e.Source)
		if !match && descendants {
			match = valuetree.HasPrefix(e.Source, changed)
		}
		if !match {
			continue
		}
		if _, seen := kinds[e.Target]; !seen {
			order = append(order, e.Target)
		}
		kinds[e.Target] |= e.Kind
	}
	out := make([]Dependent, 0, len(order))
	for _, id := range order {
		out = append(out, Dependent{ID: id, Kinds: kinds[id]})
	}
	return out
}

// Transitive follows derivation outputs from changed and lists every
// derived node that may recompute, breadth first.
func (idx *Index) Transitive(changed string) []string {
	seen := make(map[string]struct{})
	var out []string
	queue := []string{valuetree.Canonical(changed)}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		for _, dep := range idx.Affected(path) {
			if !dep.Kinds.Has(RuleDerivation) {
				continue
			}
			if _, ok := seen[dep.ID]; ok {
				continue
			}
			seen[dep.ID] = struct{}{}
			out = append(out, dep.ID)
			queue = append(queue, idx.nodes[dep.ID].Path)
		}
	}
	return out
}

func (idx *Index) collectEdges() {
	idx.edges = nil
	idx.formState = nil
	seen := make(map[Edge]struct{})
	add := func(e Edge) {
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		idx.edges = append(idx.edges, e)
	}

	for _, id := range idx.order {
		n := idx.nodes[id]
		if n.Config == nil {
			continue
		}
		emit := func(kind RuleKind) func(string) {
			return func(source string) {
				add(Edge{Source: source, Target: n.ID, Kind: kind})
			}
		}

		if n.HasValue() {
			validators := formconfig.FieldValidators(*n.Config)
			if len(validators) > 0 || n.Config.Required || hasRequiredRule(n.Config.Logic) {
				emit(RuleValidation)(n.Path)
			}
			for _, v := range validators {
				idx.validatorDeps(n, v, emit(RuleValidation))
			}
		}

		usesState := false
		for _, rule := range n.Config.Logic {
			if name := strings.TrimSpace(rule.Condition.Name); name != "" {
				if logic.IsPredicate(name) {
					usesState = true
				}
				continue
			}
			idx.conditionDeps(n, rule.Condition.Expression, emit(RuleLogic))
		}
		if usesState {
			idx.formState = append(idx.formState, n.ID)
		}

		if d := n.Config.Derivation; d != nil && n.HasValue() {
			idx.derivationDeps(n, *d, emit(RuleDerivation))
		}
	}
}

func hasRequiredRule(rules []formconfig.LogicConfig) bool {
	for _, r := range rules {
		if r.Type == formconfig.LogicRequired {
			return true
		}
	}
	return false
}

func (idx *Index) validatorDeps(n *Node, v formconfig.ValidatorConfig, add func(string)) {
	idx.conditionDeps(n, v.When, add)
	switch v.Type {
	case formconfig.ValidatorCustom:
		idx.scriptDeps(n, v.Expression, add)
	case formconfig.ValidatorHTTP:
		idx.requestDeps(n, v.HTTP, add)
		if v.ResponseMapping != nil {
			idx.scriptDeps(n, v.ResponseMapping.ValidWhen, add)
		}
	}
}

func (idx *Index) derivationDeps(n *Node, d formconfig.DerivationConfig, add func(string)) {
	idx.conditionDeps(n, d.Condition, add)
	if len(d.DependsOn) > 0 {
		for _, ref := range d.DependsOn {
			if ref = strings.TrimSpace(ref); ref != "" {
				add(idx.resolve(n, ref))
			}
		}
		return
	}
	switch d.EffectiveSource() {
	case formconfig.DerivationExpression:
		idx.scriptDeps(n, d.Expression, add)
	case formconfig.DerivationHTTP:
		idx.requestDeps(n, d.HTTP, add)
		idx.scriptDeps(n, d.ResponseExpression, add)
	}
}

func (idx *Index) conditionDeps(n *Node, cond *formconfig.ConditionalExpression, add func(string)) {
	if cond == nil {
		return
	}
	if cond.Conditions != nil {
		for i := range cond.Conditions.Expressions {
			idx.conditionDeps(n, &cond.Conditions.Expressions[i], add)
		}
		return
	}
	switch cond.Type {
	case formconfig.ConditionFieldValue, formconfig.ConditionFormValue:
		if ref := strings.TrimSpace(cond.FieldPath); ref != "" {
			add(idx.resolve(n, ref))
		} else if cond.Type == formconfig.ConditionFieldValue {
			add(n.Path)
		} else {
			add("")
		}
	case formconfig.ConditionCustom, formconfig.ConditionJavascript:
		idx.scriptDeps(n, cond.Expression, add)
	}
}

func (idx *Index) scriptDeps(n *Node, src string, add func(string)) {
	if strings.TrimSpace(src) == "" {
		return
	}
	if n.HasValue() && strings.Contains(src, "fieldValue") {
		add(n.Path)
	}
	for _, ref := range expression.Dependencies(src) {
		add(idx.resolve(n, ref))
	}
}

func (idx *Index) requestDeps(n *Node, req *formconfig.HTTPRequest, add func(string)) {
	if req == nil {
		return
	}
	keys := make([]string, 0, len(req.QueryParams))
	for k := range req.QueryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if src, ok := req.QueryParams[k].(string); ok {
			idx.scriptDeps(n, src, add)
		}
	}
	if req.BodyExpressions {
		idx.bodyDeps(n, req.Body, add)
	}
}

func (idx *Index) bodyDeps(n *Node, body any, add func(string)) {
	switch v := body.(type) {
	case string:
		idx.scriptDeps(n, v, add)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			idx.bodyDeps(n, v[k], add)
		}
	case []any:
		for _, item := range v {
			idx.bodyDeps(n, item, add)
		}
	}
}

// resolve maps a reference made by a rule on n to an absolute path. Inside
// array items a sibling with the same leading key wins over the root.
func (idx *Index) resolve(n *Node, ref string) string {
	ref = valuetree.Canonical(ref)
	head := ref
	if segs, err := valuetree.ParsePath(ref); err == nil && !segs[0].IsIndex {
		head = segs[0].Key
	}
	scope := n
	for {
		parent, ok := idx.nodes[scope.Parent]
		if !ok {
			break
		}
		scope = parent
		if scope.Kind != KindItem {
			continue
		}
		if _, ok := idx.byPath[valuetree.Join(scope.Path, head)]; ok {
			return valuetree.Canonical(valuetree.Join(scope.Path, ref))
		}
	}
	return ref
}
