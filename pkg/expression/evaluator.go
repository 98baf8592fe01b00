// Package expression evaluates ConditionalExpression trees and sandboxed
// script strings against a form value context.
package expression

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-formlogic/pkg/formconfig"
)

var (
	ErrNilExpression    = errors.New("expression: nil expression")
	ErrMissingOperator  = errors.New("expression: missing operator")
	ErrUnknownOperator  = errors.New("expression: unknown operator")
	ErrUnknownType      = errors.New("expression: unknown condition type")
	ErrUnknownGroupMode = errors.New("expression: unknown group logic")
	ErrEmptyScript      = errors.New("expression: empty script")
)

// Evaluator evaluates conditional expressions. It is safe for concurrent use.
type Evaluator struct {
	scripts *Scripts
	logger  zerolog.Logger
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithLogger routes evaluation failures to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithScripts shares a compiled-script cache between evaluators.
func WithScripts(scripts *Scripts) Option {
	return func(e *Evaluator) {
		if scripts != nil {
			e.scripts = scripts
		}
	}
}

// New constructs an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.scripts == nil {
		e.scripts = NewScripts()
	}
	return e
}

// Scripts exposes the evaluator's script interpreter.
func (e *Evaluator) Scripts() *Scripts {
	return e.scripts
}

var defaultEvaluator = New()

// Evaluate runs cond through a shared default evaluator.
func Evaluate(cond *formconfig.ConditionalExpression, ctx Context) bool {
	return defaultEvaluator.Evaluate(cond, ctx)
}

// Evaluate reports whether cond holds. Malformed expressions and script
// failures evaluate to false and are logged at warn level.
func (e *Evaluator) Evaluate(cond *formconfig.ConditionalExpression, ctx Context) bool {
	ok, err := e.EvaluateE(cond, ctx)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("path", ctx.FieldPath).
			Msg("condition evaluation failed")
		return false
	}
	return ok
}

// EvaluateE is Evaluate with the failure surfaced.
func (e *Evaluator) EvaluateE(cond *formconfig.ConditionalExpression, ctx Context) (bool, error) {
	if cond == nil {
		return false, ErrNilExpression
	}
	if cond.Conditions != nil {
		return e.evaluateGroup(cond.Conditions, ctx)
	}

	switch cond.Type {
	case formconfig.ConditionFieldValue:
		actual := ctx.FieldValue
		if cond.FieldPath != "" {
			actual, _ = ctx.Lookup(cond.FieldPath)
		}
		return Compare(cond.Operator, actual, cond.Value)
	case formconfig.ConditionFormValue:
		var actual any = ctx.FormValue
		if cond.FieldPath != "" {
			actual, _ = ctx.Lookup(cond.FieldPath)
		}
		return Compare(cond.Operator, actual, cond.Value)
	case formconfig.ConditionCustom, formconfig.ConditionJavascript:
		return e.scripts.EvalBool(cond.Expression, ctx)
	case "":
		return false, fmt.Errorf("%w: empty", ErrUnknownType)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownType, cond.Type)
	}
}

func (e *Evaluator) evaluateGroup(group *formconfig.ConditionGroup, ctx Context) (bool, error) {
	switch group.Logic {
	case formconfig.LogicAnd, "":
		for i := range group.Expressions {
			ok, err := e.EvaluateE(&group.Expressions[i], ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case formconfig.LogicOr:
		for i := range group.Expressions {
			ok, err := e.EvaluateE(&group.Expressions[i], ctx)
			if err != nil {
				// A broken branch counts as false; the rest of the group can
				// still satisfy the disjunction.
				e.logger.Warn().Err(err).Str("path", ctx.FieldPath).Msg("condition branch failed")
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownGroupMode, group.Logic)
	}
}
