// Package logic merges a field's static flags with its conditional logic
// rules into the effective hidden/disabled/readonly/required state.
package logic

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
)

// Flags is the resolved state of one field.
type Flags struct {
	Hidden   bool `json:"hidden"`
	Disabled bool `json:"disabled"`
	Readonly bool `json:"readonly"`
	Required bool `json:"required"`
}

// StaticFlags reads the literal flags from a field's configuration.
func StaticFlags(field formconfig.FieldConfig) Flags {
	return Flags{
		Hidden:   field.Hidden || field.Type == formconfig.FieldTypeHidden,
		Disabled: field.Disabled,
		Readonly: field.Readonly,
		Required: field.Required,
	}
}

// FormState feeds the named form-state predicates.
type FormState struct {
	Submitting bool
	Valid      bool
	Dirty      bool
	Touched    bool
	Pending    bool
}

// Form-state predicate names accepted as string conditions.
const (
	PredicateSubmitting = "formSubmitting"
	PredicateInvalid    = "formInvalid"
	PredicateValid      = "formValid"
	PredicateDirty      = "formDirty"
	PredicatePristine   = "formPristine"
	PredicateTouched    = "formTouched"
	PredicatePending    = "formPending"
)

// Predicates lists the accepted predicate names.
var Predicates = []string{
	PredicateSubmitting, PredicateInvalid, PredicateValid, PredicateDirty,
	PredicatePristine, PredicateTouched, PredicatePending,
}

// Predicate evaluates a named predicate. ok is false for unknown names.
func (s FormState) Predicate(name string) (value bool, ok bool) {
	switch strings.TrimSpace(name) {
	case PredicateSubmitting:
		return s.Submitting, true
	case PredicateInvalid:
		return !s.Valid, true
	case PredicateValid:
		return s.Valid, true
	case PredicateDirty:
		return s.Dirty, true
	case PredicatePristine:
		return !s.Dirty, true
	case PredicateTouched:
		return s.Touched, true
	case PredicatePending:
		return s.Pending, true
	}
	return false, false
}

// IsPredicate reports whether name is a known form-state predicate.
func IsPredicate(name string) bool {
	_, ok := FormState{}.Predicate(name)
	return ok
}

// Engine resolves logic rules. It is stateless and safe for concurrent use.
type Engine struct {
	evaluator *expression.Evaluator
	logger    zerolog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithEvaluator shares an expression evaluator.
func WithEvaluator(e *expression.Evaluator) Option {
	return func(engine *Engine) {
		if e != nil {
			engine.evaluator = e
		}
	}
}

// WithLogger logs unknown predicates and rule types.
func WithLogger(logger zerolog.Logger) Option {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// New constructs an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.evaluator == nil {
		e.evaluator = expression.New(expression.WithLogger(e.logger))
	}
	return e
}

// Resolve computes the effective flags for the field at path. Each axis is
// the OR of its rules' conditions; a static true on any axis is final. Axes
// already forced by static flags skip their rules entirely.
func (e *Engine) Resolve(path string, rules []formconfig.LogicConfig, static Flags, ectx expression.Context, state FormState) Flags {
	out := static
	for _, rule := range rules {
		target := e.axis(&out, rule.Type, path)
		if target == nil || *target {
			continue
		}
		if e.conditionHolds(path, rule.Condition, ectx, state) {
			*target = true
		}
	}
	return out
}

func (e *Engine) axis(flags *Flags, t formconfig.LogicType, path string) *bool {
	switch t {
	case formconfig.LogicHidden:
		return &flags.Hidden
	case formconfig.LogicDisabled:
		return &flags.Disabled
	case formconfig.LogicReadonly:
		return &flags.Readonly
	case formconfig.LogicRequired:
		return &flags.Required
	}
	e.logger.Warn().Str("path", path).Str("type", string(t)).Msg("unknown logic type")
	return nil
}

func (e *Engine) conditionHolds(path string, cond formconfig.LogicCondition, ectx expression.Context, state FormState) bool {
	if cond.Expression != nil {
		return e.evaluator.Evaluate(cond.Expression, ectx)
	}
	value, ok := state.Predicate(cond.Name)
	if !ok {
		e.logger.Warn().Str("path", path).Str("condition", cond.Name).Msg("unknown form-state predicate")
		return false
	}
	return value
}
