// Package validation runs a field's validator list and resolves the
// resulting error messages.
package validation

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/registry"
	"github.com/goliatone/go-formlogic/pkg/transport"
)

var ErrNoTransport = errors.New("validation: no transport configured")

// Error is one validation failure.
type Error struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}

// Field is the validation surface of a single field instance.
type Field struct {
	Path       string
	Validators []formconfig.ValidatorConfig
	// Messages are the field's validationMessages, keyed by kind.
	Messages map[string]string
}

// Engine evaluates validators. It holds no per-field state and is safe for
// concurrent use.
type Engine struct {
	evaluator *expression.Evaluator
	client    transport.Client
	registry  *registry.Registry
	defaults  map[string]string
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

// WithTransport sets the client used by http and customHttp validators.
func WithTransport(client transport.Client) Option {
	return func(engine *Engine) {
		engine.client = client
	}
}

// WithRegistry supplies customHttp validators.
func WithRegistry(reg *registry.Registry) Option {
	return func(engine *Engine) {
		engine.registry = reg
	}
}

// WithDefaultMessages sets the form-level defaultValidationMessages.
func WithDefaultMessages(messages map[string]string) Option {
	return func(engine *Engine) {
		engine.defaults = messages
	}
}

// WithLogger routes configuration and network failures to logger.
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

// HasAsync reports whether any validator needs the async pass.
func HasAsync(validators []formconfig.ValidatorConfig) bool {
	for _, v := range validators {
		if v.Type.IsAsync() {
			return true
		}
	}
	return false
}

// Validate runs the synchronous validators in order, skipping any whose
// `when` gate is false. Async kinds are left to ValidateAsync.
func (e *Engine) Validate(field Field, ectx expression.Context) []Error {
	var out []Error
	for _, v := range field.Validators {
		if v.Type.IsAsync() || !e.gateOpen(v, ectx) {
			continue
		}
		if err, failed := e.validateSync(field, v, ectx); failed {
			out = append(out, err)
		}
	}
	return out
}

// ValidateAsync runs the http and customHttp validators in order. It returns
// nil if ctx is cancelled part way, since the result is stale by then.
func (e *Engine) ValidateAsync(ctx context.Context, field Field, ectx expression.Context) []Error {
	var out []Error
	for _, v := range field.Validators {
		if !v.Type.IsAsync() || !e.gateOpen(v, ectx) {
			continue
		}
		var (
			verr   Error
			failed bool
		)
		switch v.Type {
		case formconfig.ValidatorHTTP:
			verr, failed = e.validateHTTP(ctx, field, v, ectx)
		case formconfig.ValidatorCustomHTTP:
			verr, failed = e.validateCustomHTTP(ctx, field, v, ectx)
		}
		if ctx.Err() != nil {
			return nil
		}
		if failed {
			out = append(out, verr)
		}
	}
	return out
}

func (e *Engine) gateOpen(v formconfig.ValidatorConfig, ectx expression.Context) bool {
	if v.When == nil {
		return true
	}
	return e.evaluator.Evaluate(v.When, ectx)
}

func (e *Engine) validateSync(field Field, v formconfig.ValidatorConfig, ectx expression.Context) (Error, bool) {
	if v.Type == formconfig.ValidatorCustom {
		ok, err := e.evaluator.Scripts().EvalBool(v.Expression, ectx)
		if err != nil {
			e.logger.Warn().Err(err).Str("path", field.Path).Str("kind", v.ErrorKind()).Msg("custom validator failed to evaluate")
			return Error{}, false
		}
		if ok {
			return Error{}, false
		}
		return e.newError(field, v, v.ErrorKind(), nil), true
	}

	ok, params, err := checkBuiltin(v, ectx.FieldValue)
	if err != nil {
		e.logger.Warn().Err(err).Str("path", field.Path).Str("kind", string(v.Type)).Msg("validator misconfigured")
		return Error{}, false
	}
	if ok {
		return Error{}, false
	}
	return e.newError(field, v, v.ErrorKind(), params), true
}

func (e *Engine) validateHTTP(ctx context.Context, field Field, v formconfig.ValidatorConfig, ectx expression.Context) (Error, bool) {
	kind := v.ErrorKind()
	scripts := e.evaluator.Scripts()
	if v.HTTP == nil {
		e.logger.Warn().Str("path", field.Path).Str("kind", kind).Msg("http validator has no request")
		return e.newError(field, v, kind, nil), true
	}
	if e.client == nil {
		e.logger.Warn().Err(ErrNoTransport).Str("path", field.Path).Str("kind", kind).Msg("http validator failed closed")
		return e.newError(field, v, kind, nil), true
	}

	req, err := transport.Resolve(*v.HTTP, ectx, scripts)
	if err != nil {
		e.logger.Warn().Err(err).Str("path", field.Path).Str("kind", kind).Msg("http validator request failed to resolve")
		return e.newError(field, v, kind, nil), true
	}
	response, err := e.client.Do(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Str("path", field.Path).Str("kind", kind).Msg("http validator failed closed")
		}
		return e.newError(field, v, kind, nil), true
	}

	mapping := v.ResponseMapping
	if mapping == nil || mapping.ValidWhen == "" {
		return Error{}, false
	}
	validOut, err := scripts.EvalResponse(mapping.ValidWhen, response, ectx)
	if err != nil {
		e.logger.Warn().Err(err).Str("path", field.Path).Str("kind", kind).Msg("validWhen failed to evaluate")
		return e.newError(field, v, kind, nil), true
	}
	if expression.Truthy(validOut) {
		return Error{}, false
	}

	var params map[string]any
	for name, raw := range mapping.ErrorParams {
		value := raw
		if src, isScript := raw.(string); isScript {
			evaluated, err := scripts.EvalResponse(src, response, ectx)
			if err != nil {
				e.logger.Debug().Err(err).Str("path", field.Path).Str("param", name).Msg("error param failed to evaluate")
				continue
			}
			value = evaluated
		}
		if params == nil {
			params = make(map[string]any, len(mapping.ErrorParams))
		}
		params[name] = value
	}
	return e.newError(field, v, kind, params), true
}

func (e *Engine) validateCustomHTTP(ctx context.Context, field Field, v formconfig.ValidatorConfig, ectx expression.Context) (Error, bool) {
	spec, ok := e.registry.HTTPValidator(v.FunctionName)
	if !ok {
		e.logger.Warn().Str("path", field.Path).Str("function", v.FunctionName).Msg("customHttp validator is not registered")
		return Error{}, false
	}
	kind := v.ErrorKind()
	if v.Kind == "" && spec.ErrorKind != "" {
		kind = spec.ErrorKind
	}

	fail := func(err error) (Error, bool) {
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Str("path", field.Path).Str("function", v.FunctionName).Bool("fail_closed", spec.FailClosed).Msg("customHttp validator request failed")
		}
		if spec.FailClosed {
			return e.newError(field, v, kind, nil), true
		}
		return Error{}, false
	}

	if e.client == nil {
		return fail(ErrNoTransport)
	}
	req, err := spec.Request(ectx)
	if err != nil {
		return fail(err)
	}
	response, err := e.client.Do(ctx, req)
	if err != nil {
		return fail(err)
	}
	if spec.Check == nil {
		return Error{}, false
	}
	failedKind, params := spec.Check(response, ectx)
	if failedKind == "" {
		return Error{}, false
	}
	return e.newError(field, v, failedKind, params), true
}

func (e *Engine) newError(field Field, v formconfig.ValidatorConfig, kind string, params map[string]any) Error {
	template := resolveMessage(kind, v.ErrorMessage, field.Messages, e.defaults)
	return Error{
		Kind:    kind,
		Message: Interpolate(template, params),
		Params:  params,
	}
}
