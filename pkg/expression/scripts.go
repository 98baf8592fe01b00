package expression

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// DefaultMaxNodes bounds the size of a single script.
const DefaultMaxNodes uint = 512

// conditionEnv is the whole surface a condition script can see.
type conditionEnv struct {
	FieldValue any            `expr:"fieldValue"`
	FormValue  map[string]any `expr:"formValue"`
}

// responseEnv adds the HTTP response for validWhen and responseExpression.
type responseEnv struct {
	Response   any            `expr:"response"`
	FieldValue any            `expr:"fieldValue"`
	FormValue  map[string]any `expr:"formValue"`
}

type envKind uint8

const (
	envCondition envKind = iota
	envResponse
)

type scriptKey struct {
	kind   envKind
	source string
}

// Scripts compiles and runs sandboxed script strings with expr. Scripts can
// only read the declared bindings; unknown identifiers are compile errors and
// clock builtins are disabled. Compiled programs are cached per source.
type Scripts struct {
	mu       sync.RWMutex
	programs map[scriptKey]*vm.Program
	maxNodes uint
}

// ScriptOption customises Scripts.
type ScriptOption func(*Scripts)

// WithMaxNodes overrides DefaultMaxNodes.
func WithMaxNodes(n uint) ScriptOption {
	return func(s *Scripts) {
		if n > 0 {
			s.maxNodes = n
		}
	}
}

// NewScripts constructs an empty script cache.
func NewScripts(opts ...ScriptOption) *Scripts {
	s := &Scripts{
		programs: make(map[scriptKey]*vm.Program),
		maxNodes: DefaultMaxNodes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Eval runs src against {fieldValue, formValue}. Inside array items
// formValue is Context.ScopedFormValue.
func (s *Scripts) Eval(src string, ctx Context) (any, error) {
	program, err := s.compile(envCondition, src)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, conditionEnv{FieldValue: ctx.FieldValue, FormValue: ctx.ScopedFormValue()})
	if err != nil {
		return nil, fmt.Errorf("expression: run %q: %w", src, err)
	}
	return out, nil
}

// EvalBool runs src and reduces the result with Truthy.
func (s *Scripts) EvalBool(src string, ctx Context) (bool, error) {
	out, err := s.Eval(src, ctx)
	if err != nil {
		return false, err
	}
	if b, ok := out.(bool); ok {
		return b, nil
	}
	return Truthy(out), nil
}

// EvalResponse runs src against {response, fieldValue, formValue}.
func (s *Scripts) EvalResponse(src string, response any, ctx Context) (any, error) {
	program, err := s.compile(envResponse, src)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, responseEnv{Response: response, FieldValue: ctx.FieldValue, FormValue: ctx.ScopedFormValue()})
	if err != nil {
		return nil, fmt.Errorf("expression: run %q: %w", src, err)
	}
	return out, nil
}

// Check compiles src against the condition bindings without running it.
func (s *Scripts) Check(src string) error {
	_, err := s.compile(envCondition, src)
	return err
}

func (s *Scripts) compile(kind envKind, src string) (*vm.Program, error) {
	source := Normalize(src)
	if source == "" {
		return nil, ErrEmptyScript
	}
	key := scriptKey{kind: kind, source: source}

	s.mu.RLock()
	program, ok := s.programs[key]
	s.mu.RUnlock()
	if ok {
		return program, nil
	}

	var env any = conditionEnv{}
	if kind == envResponse {
		env = responseEnv{}
	}
	program, err := expr.Compile(source,
		expr.Env(env),
		expr.DisableBuiltin("now"),
		expr.DisableBuiltin("date"),
		expr.MaxNodes(s.maxNodes),
		expr.Patch(lengthPatcher{}),
	)
	if err != nil {
		return nil, fmt.Errorf("expression: compile %q: %w", src, err)
	}

	s.mu.Lock()
	s.programs[key] = program
	s.mu.Unlock()
	return program, nil
}

// lengthPatcher rewrites `x.length` into `len(x)`.
type lengthPatcher struct{}

func (lengthPatcher) Visit(node *ast.Node) {
	member, ok := (*node).(*ast.MemberNode)
	if !ok || member.Method {
		return
	}
	prop, ok := member.Property.(*ast.StringNode)
	if !ok || prop.Value != "length" {
		return
	}
	ast.Patch(node, &ast.BuiltinNode{Name: "len", Arguments: []ast.Node{member.Node}})
}

// Normalize rewrites the strict equality operators `===`/`!==` and the
// `null`/`undefined` literals into expr syntax. String literals are left
// untouched.
func Normalize(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			end := skipString(src, i)
			b.WriteString(src[i:end])
			i = end
		case strings.HasPrefix(src[i:], "==="):
			b.WriteString("==")
			i += 3
		case strings.HasPrefix(src[i:], "!=="):
			b.WriteString("!=")
			i += 3
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			prevDot := start > 0 && src[start-1] == '.'
			if !prevDot && (word == "null" || word == "undefined") {
				b.WriteString("nil")
			} else {
				b.WriteString(word)
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func skipString(src string, start int) int {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		if src[i] == '\\' && quote != '`' {
			i++
			continue
		}
		if src[i] == quote {
			return i + 1
		}
	}
	return len(src)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Dependencies lists the form value paths src reads through `formValue`,
// sorted and with ancestors of other entries removed. Unparseable scripts
// have no dependencies.
func Dependencies(src string) []string {
	source := Normalize(src)
	if source == "" {
		return nil
	}
	tree, err := parser.Parse(source)
	if err != nil {
		return nil
	}
	collector := &dependencyCollector{paths: map[string]struct{}{}}
	ast.Walk(&tree.Node, collector)
	return collector.result()
}

type dependencyCollector struct {
	paths map[string]struct{}
}

func (c *dependencyCollector) Visit(node *ast.Node) {
	member, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}
	if path, ok := memberPath(member); ok && path != "" {
		c.paths[path] = struct{}{}
	}
}

// memberPath flattens a formValue.a.b[0] chain into "a.b[0]".
func memberPath(node ast.Node) (string, bool) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		return "", n.Value == "formValue"
	case *ast.ChainNode:
		return memberPath(n.Node)
	case *ast.MemberNode:
		base, ok := memberPath(n.Node)
		if !ok {
			return "", false
		}
		switch prop := n.Property.(type) {
		case *ast.StringNode:
			if prop.Value == "length" && base != "" {
				return base, true
			}
			if base == "" {
				return prop.Value, true
			}
			return base + "." + prop.Value, true
		case *ast.IntegerNode:
			return base + "[" + strconv.Itoa(prop.Value) + "]", true
		default:
			// Dynamic index: depend on the whole collection.
			return base, true
		}
	}
	return "", false
}

func (c *dependencyCollector) result() []string {
	var out []string
	for path := range c.paths {
		covered := false
		for other := range c.paths {
			if other != path && strings.HasPrefix(other, path) && (other[len(path)] == '.' || other[len(path)] == '[') {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}
