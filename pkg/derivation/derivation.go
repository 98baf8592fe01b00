// Package derivation tracks computed field values: when to recompute, which
// in-flight result may still be applied, and when a user edit stops the
// engine from overwriting a field.
package derivation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/registry"
	"github.com/goliatone/go-formlogic/pkg/transport"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

var (
	ErrMissingExpression = errors.New("derivation: expression is required")
	ErrMissingFunction   = errors.New("derivation: async function is not registered")
	ErrMissingRequest    = errors.New("derivation: http request is required")
	ErrNoTransport       = errors.New("derivation: no transport configured")
	ErrUnknownSource     = errors.New("derivation: unknown source")
)

// Status is the lifecycle position of one derived field instance.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusComputing      Status = "computing"
	StatusApplied        Status = "applied"
	StatusUserOverridden Status = "userOverridden"
	StatusCancelled      Status = "cancelled"
)

// State is a snapshot of a derived field's runtime state.
type State struct {
	Status     Status `json:"status"`
	LastValue  any    `json:"lastValue,omitempty"`
	HasValue   bool   `json:"hasValue"`
	Overridden bool   `json:"overridden"`
	RequestID  uint64 `json:"requestId"`
	LastError  string `json:"lastError,omitempty"`
}

// Target identifies one derived field instance.
type Target struct {
	// ID is the stable instance id; state survives path changes.
	ID     string
	Path   string
	Config formconfig.DerivationConfig
}

// PlanKind says what Begin decided.
type PlanKind uint8

const (
	// PlanSkip means nothing should be written.
	PlanSkip PlanKind = iota
	// PlanSync carries a value to write now.
	PlanSync
	// PlanAsync carries a job the caller runs off the evaluation pass and
	// reports back through Resolve.
	PlanAsync
)

// Plan is the outcome of Begin.
type Plan struct {
	Kind      PlanKind
	Target    Target
	Value     any
	RequestID uint64
	// Reason explains a skip.
	Reason string

	job func(ctx context.Context) (any, error)
	ctx context.Context
}

// Run executes an async plan. It blocks and must be called off the
// evaluation pass.
func (p Plan) Run() (any, error) {
	if p.Kind != PlanAsync || p.job == nil {
		return nil, fmt.Errorf("derivation: plan for %q is not async", p.Target.Path)
	}
	return p.job(p.ctx)
}

type entry struct {
	path   string
	state  State
	cancel context.CancelFunc
}

// Engine owns the derivation state of one form instance.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64

	base      context.Context
	closeBase context.CancelFunc

	evaluator *expression.Evaluator
	client    transport.Client
	registry  *registry.Registry
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

// WithTransport sets the client used by http derivations.
func WithTransport(client transport.Client) Option {
	return func(engine *Engine) {
		engine.client = client
	}
}

// WithRegistry supplies async derivation functions.
func WithRegistry(reg *registry.Registry) Option {
	return func(engine *Engine) {
		engine.registry = reg
	}
}

// WithLogger logs derivation failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithContext parents every async job on ctx.
func WithContext(ctx context.Context) Option {
	return func(engine *Engine) {
		if ctx != nil {
			engine.base = ctx
		}
	}
}

// New constructs an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		entries: make(map[string]*entry),
		base:    context.Background(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.base, e.closeBase = context.WithCancel(e.base)
	if e.evaluator == nil {
		e.evaluator = expression.New(expression.WithLogger(e.logger))
	}
	return e
}

func (e *Engine) entryFor(id string) *entry {
	ent, ok := e.entries[id]
	if !ok {
		ent = &entry{state: State{Status: StatusIdle}}
		e.entries[id] = ent
	}
	return ent
}

// Begin reacts to a dependency change of target. It evaluates the condition
// and override rules, supersedes any in-flight job for the same instance,
// and either computes the value synchronously or returns an async job.
func (e *Engine) Begin(target Target, ectx expression.Context) Plan {
	cfg := target.Config
	skip := func(reason string) Plan {
		return Plan{Kind: PlanSkip, Target: target, Reason: reason}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ent := e.entryFor(target.ID)
	ent.path = target.Path

	if cfg.Condition != nil && !e.evaluator.Evaluate(cfg.Condition, ectx) {
		if ent.state.Status == StatusComputing {
			e.cancelLocked(ent)
			ent.state.Status = StatusCancelled
		}
		return skip("condition")
	}

	if ent.state.Overridden {
		if !cfg.ReEngageOnDependencyChange {
			return skip("overridden")
		}
		ent.state.Overridden = false
		e.logger.Debug().Str("path", target.Path).Msg("derivation re-engaged")
	}

	e.cancelLocked(ent)
	e.nextID++
	requestID := e.nextID
	ent.state.RequestID = requestID

	switch cfg.EffectiveSource() {
	case formconfig.DerivationExpression:
		if cfg.Expression == "" {
			return e.failLocked(ent, target, requestID, ErrMissingExpression)
		}
		value, err := e.evaluator.Scripts().Eval(cfg.Expression, ectx)
		if err != nil {
			return e.failLocked(ent, target, requestID, err)
		}
		e.applyLocked(ent, value)
		return Plan{Kind: PlanSync, Target: target, Value: value, RequestID: requestID}

	case formconfig.DerivationAsyncFunction:
		fn, ok := e.registry.AsyncDerivation(cfg.AsyncFunctionName)
		if !ok {
			return e.failLocked(ent, target, requestID, fmt.Errorf("%w: %q", ErrMissingFunction, cfg.AsyncFunctionName))
		}
		snapshot := isolate(ectx)
		return e.startLocked(ent, target, requestID, func(ctx context.Context) (any, error) {
			value, err := fn(ctx, snapshot)
			if err != nil {
				return nil, err
			}
			return e.postProcess(cfg, value, snapshot)
		})

	case formconfig.DerivationHTTP:
		if cfg.HTTP == nil {
			return e.failLocked(ent, target, requestID, ErrMissingRequest)
		}
		if e.client == nil {
			return e.failLocked(ent, target, requestID, ErrNoTransport)
		}
		req, err := transport.Resolve(*cfg.HTTP, ectx, e.evaluator.Scripts())
		if err != nil {
			return e.failLocked(ent, target, requestID, err)
		}
		snapshot := isolate(ectx)
		client := e.client
		return e.startLocked(ent, target, requestID, func(ctx context.Context) (any, error) {
			response, err := client.Do(ctx, req)
			if err != nil {
				return nil, err
			}
			return e.postProcess(cfg, response, snapshot)
		})
	}

	return e.failLocked(ent, target, requestID, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source))
}

func (e *Engine) startLocked(ent *entry, target Target, requestID uint64, job func(context.Context) (any, error)) Plan {
	ctx, cancel := context.WithCancel(e.base)
	ent.cancel = cancel
	ent.state.Status = StatusComputing
	return Plan{Kind: PlanAsync, Target: target, RequestID: requestID, job: job, ctx: ctx}
}

func (e *Engine) postProcess(cfg formconfig.DerivationConfig, value any, ectx expression.Context) (any, error) {
	if cfg.ResponseExpression == "" {
		return value, nil
	}
	return e.evaluator.Scripts().EvalResponse(cfg.ResponseExpression, value, ectx)
}

func (e *Engine) applyLocked(ent *entry, value any) {
	ent.state.Status = StatusApplied
	ent.state.LastValue = valuetree.Clone(value)
	ent.state.HasValue = true
	ent.state.LastError = ""
}

func (e *Engine) failLocked(ent *entry, target Target, requestID uint64, err error) Plan {
	e.recordErrorLocked(ent, target.Path, requestID, err)
	return Plan{Kind: PlanSkip, Target: target, RequestID: requestID, Reason: err.Error()}
}

// recordErrorLocked keeps the last good value and settles the status.
func (e *Engine) recordErrorLocked(ent *entry, path string, requestID uint64, err error) {
	e.logger.Warn().
		Err(err).
		Str("path", path).
		Uint64("request_id", requestID).
		Msg("derivation failed")
	ent.state.LastError = err.Error()
	if ent.state.HasValue {
		ent.state.Status = StatusApplied
	} else {
		ent.state.Status = StatusIdle
	}
}

func (e *Engine) cancelLocked(ent *entry) {
	if ent.cancel != nil {
		ent.cancel()
		ent.cancel = nil
	}
}

// Resolve reports the outcome of an async plan. It returns the value to
// write and true only when requestID is still the latest for the instance
// and the instance is still computing. Stale results are dropped silently.
func (e *Engine) Resolve(id string, requestID uint64, value any, err error) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[id]
	if !ok || ent.state.RequestID != requestID || ent.state.Status != StatusComputing {
		return nil, false
	}
	if ent.cancel != nil {
		ent.cancel()
		ent.cancel = nil
	}
	if err != nil {
		e.recordErrorLocked(ent, ent.path, requestID, err)
		return nil, false
	}
	e.applyLocked(ent, value)
	return value, true
}

// NoteUserWrite records a user edit of the derived field. It only counts as
// an override when stopOnUserOverride is set and the value differs from the
// last engine-applied value. An override cancels any in-flight job.
func (e *Engine) NoteUserWrite(target Target, value any) bool {
	if !target.Config.StopOnUserOverride {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ent := e.entryFor(target.ID)
	if ent.state.HasValue && valuetree.Equal(value, ent.state.LastValue) {
		return false
	}
	e.cancelLocked(ent)
	ent.state.Overridden = true
	ent.state.Status = StatusUserOverridden
	return true
}

// Cancel aborts the in-flight job of an instance, if any.
func (e *Engine) Cancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[id]; ok && ent.state.Status == StatusComputing {
		e.cancelLocked(ent)
		ent.state.Status = StatusCancelled
	}
}

// Forget drops the state of an instance that no longer exists.
func (e *Engine) Forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[id]; ok {
		e.cancelLocked(ent)
		delete(e.entries, id)
	}
}

// Reset cancels every job and clears all state. Request ids keep increasing.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ent := range e.entries {
		e.cancelLocked(ent)
		delete(e.entries, id)
	}
}

// Close cancels every job, including ones started later.
func (e *Engine) Close() {
	e.Reset()
	e.closeBase()
}

// State snapshots the state of an instance.
func (e *Engine) State(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return State{}, false
	}
	return ent.state, true
}

// Pending reports whether any instance is computing.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ent := range e.entries {
		if ent.state.Status == StatusComputing {
			return true
		}
	}
	return false
}

// isolate copies the mutable parts of ectx so an async job never reads the
// live value tree.
func isolate(ectx expression.Context) expression.Context {
	out := ectx
	out.FieldValue = valuetree.Clone(ectx.FieldValue)
	if ectx.FormValue != nil {
		out.FormValue = valuetree.Clone(ectx.FormValue).(map[string]any)
	}
	return out
}
