// Package form owns one live form instance: the value tree, the field index
// and the per-field runtime state. Every mutation runs a single evaluation
// pass under the form's lock: affected derivations recompute and their writes
// propagate downstream, then logic and synchronous validation settle before
// subscribers are told about the change. Async derivations and validators run
// in goroutines and re-enter through the same lock when they resolve.
package form

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-formlogic/pkg/derivation"
	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/graph"
	"github.com/goliatone/go-formlogic/pkg/logic"
	"github.com/goliatone/go-formlogic/pkg/registry"
	"github.com/goliatone/go-formlogic/pkg/transport"
	"github.com/goliatone/go-formlogic/pkg/validation"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// DefaultMaxDerivationDepth bounds chained derivation writes in one pass
// when the configuration does not set options.maxDerivationDepth.
const DefaultMaxDerivationDepth = 16

var (
	ErrClosed      = errors.New("form: closed")
	ErrUnknownPath = errors.New("form: unknown field path")
)

// Origin tags what triggered a pass.
type Origin string

const (
	OriginInit       Origin = "init"
	OriginUser       Origin = "user"
	OriginDerivation Origin = "derivation"
	OriginValidation Origin = "validation"
	OriginArray      Origin = "array"
	OriginPatch      Origin = "patch"
	OriginReset      Origin = "reset"
	OriginClear      Origin = "clear"
	OriginState      Origin = "state"
	OriginServer     Origin = "server"
)

// Change is delivered to subscribers after every completed pass.
type Change struct {
	Origin Origin
	// Paths lists the value paths written during the pass. An empty path
	// stands for the whole tree.
	Paths []string
	// Value is a snapshot of the whole value tree after the pass.
	Value map[string]any
}

// FieldState is the public runtime state of one field instance. Hidden and
// Disabled include the state inherited from containers.
type FieldState struct {
	ID         string             `json:"id"`
	Path       string             `json:"path"`
	Kind       string             `json:"kind"`
	Hidden     bool               `json:"hidden"`
	Disabled   bool               `json:"disabled"`
	Readonly   bool               `json:"readonly"`
	Required   bool               `json:"required"`
	Touched    bool               `json:"touched"`
	Dirty      bool               `json:"dirty"`
	Pending    bool               `json:"pending"`
	Errors     []validation.Error `json:"errors,omitempty"`
	Derivation *derivation.State  `json:"derivation,omitempty"`
}

type fieldState struct {
	flags   logic.Flags
	touched bool
	dirty   bool

	errors      []validation.Error
	asyncErrors []validation.Error
	server      []string

	asyncSeq     uint64
	asyncCancel  context.CancelFunc
	asyncPending bool
	asyncRan     bool
	asyncInput   any
}

// Form is a live form instance. It is safe for concurrent use.
type Form struct {
	mu sync.Mutex

	id       string
	cfg      formconfig.FormConfig
	index    *graph.Index
	values   *valuetree.Tree
	initial  map[string]any
	fields   map[string]*fieldState
	maxDepth int

	submitting bool
	dirty      bool
	touched    bool
	formErrors []string
	closed     bool

	evaluator *expression.Evaluator
	validator *validation.Engine
	logic     *logic.Engine
	derive    *derivation.Engine

	seed     map[string]any
	registry *registry.Registry
	client   transport.Client
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	// inflight counts async jobs; idle is closed whenever it drops to zero.
	// Both are guarded by mu.
	inflight int
	idle     chan struct{}

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSub     int
}

// Option customises a Form.
type Option func(*Form)

// WithInitialValue seeds the value tree. Keys it sets win over the
// configured value/defaultValue.
func WithInitialValue(values map[string]any) Option {
	return func(f *Form) {
		f.seed = values
	}
}

// WithRegistry supplies named async derivations and custom HTTP validators.
func WithRegistry(reg *registry.Registry) Option {
	return func(f *Form) {
		f.registry = reg
	}
}

// WithTransport replaces the HTTP client used by http validators and
// derivations.
func WithTransport(client transport.Client) Option {
	return func(f *Form) {
		f.client = client
	}
}

// WithLogger sets the logger; every entry carries the form id.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Form) {
		f.logger = logger
	}
}

// WithContext parents all async work on ctx. Cancelling it has the same
// effect on in-flight work as Close.
func WithContext(ctx context.Context) Option {
	return func(f *Form) {
		if ctx != nil {
			f.ctx = ctx
		}
	}
}

// New builds a form from cfg and runs the initial evaluation pass.
// Structural configuration errors are returned; rule errors found later
// degrade and are logged.
func New(cfg formconfig.FormConfig, opts ...Option) (*Form, error) {
	f := &Form{
		id:          uuid.NewString(),
		fields:      make(map[string]*fieldState),
		logger:      zerolog.Nop(),
		ctx:         context.Background(),
		subscribers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.logger = f.logger.With().Str("form_id", f.id).Logger()
	f.ctx, f.cancel = context.WithCancel(f.ctx)

	normalized, err := formconfig.Normalize(cfg)
	if err != nil {
		f.cancel()
		return nil, err
	}
	f.cfg = normalized
	f.maxDepth = normalized.Options.MaxDerivationDepth
	if f.maxDepth <= 0 {
		f.maxDepth = DefaultMaxDerivationDepth
	}

	if f.client == nil {
		f.client = transport.NewHTTPClient(transport.WithLogger(f.logger))
	}
	f.evaluator = expression.New(expression.WithLogger(f.logger))
	f.validator = validation.New(
		validation.WithEvaluator(f.evaluator),
		validation.WithTransport(f.client),
		validation.WithRegistry(f.registry),
		validation.WithDefaultMessages(normalized.DefaultValidationMessages),
		validation.WithLogger(f.logger),
	)
	f.logic = logic.New(logic.WithEvaluator(f.evaluator), logic.WithLogger(f.logger))
	f.derive = derivation.New(
		derivation.WithEvaluator(f.evaluator),
		derivation.WithTransport(f.client),
		derivation.WithRegistry(f.registry),
		derivation.WithLogger(f.logger),
		derivation.WithContext(f.ctx),
	)

	seeded := map[string]any{}
	if f.seed != nil {
		seeded = valuetree.Clone(f.seed).(map[string]any)
	}
	applyDefaults(normalized.Fields, seeded)
	f.values = valuetree.New(seeded)
	f.initial = f.values.Snapshot()

	index, err := graph.Build(normalized, f.values.Root())
	if err != nil {
		f.cancel()
		return nil, fmt.Errorf("form: build index: %w", err)
	}
	f.index = index

	f.mu.Lock()
	p := f.newPass(OriginInit)
	f.reindex(p)
	f.run(p)
	f.mu.Unlock()

	f.logger.Debug().Int("fields", len(index.Leaves())).Msg("form ready")
	return f, nil
}

// ID returns the instance id.
func (f *Form) ID() string {
	return f.id
}

// Config returns the normalized configuration the form was built from.
func (f *Form) Config() formconfig.FormConfig {
	return f.cfg
}

// Index exposes the field index. Callers must not mutate it, and must not
// read it while other goroutines edit the form.
func (f *Form) Index() *graph.Index {
	return f.index
}

// Value returns a snapshot of the value tree.
func (f *Form) Value() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values.Snapshot()
}

// Get returns a copy of the value at path.
func (f *Form) Get(path string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values.Get(path)
	return valuetree.Clone(v), ok
}

// State returns the runtime state of the value node at path.
func (f *Form) State(path string) (FieldState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.index.ByPath(path)
	if !ok {
		return FieldState{}, false
	}
	return f.publicState(n), true
}

// States returns the runtime state of every value node keyed by path.
func (f *Form) States() map[string]FieldState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]FieldState)
	for _, n := range f.index.Nodes() {
		if n.HasValue() {
			out[n.Path] = f.publicState(n)
		}
	}
	return out
}

// Errors returns the current errors keyed by field path. Fields without
// errors are omitted.
func (f *Form) Errors() map[string][]validation.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]validation.Error)
	for _, n := range f.index.Nodes() {
		if st, ok := f.fields[n.ID]; ok {
			if errs := st.allErrors(); len(errs) > 0 {
				out[n.Path] = errs
			}
		}
	}
	return out
}

// FormErrors returns server errors that could not be mapped to a field.
func (f *Form) FormErrors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.formErrors...)
}

// Valid reports whether no field has an error and nothing is pending.
func (f *Form) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validLocked()
}

// Pending reports whether async derivations or validators are in flight.
func (f *Form) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

// SetValue writes a user value at path and runs a pass.
func (f *Form) SetValue(path string, value any) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	n, ok := f.index.ByPath(path)
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
	if n.Config != nil && n.Config.Derivation != nil {
		if f.derive.NoteUserWrite(derivationTarget(n), value) {
			f.logger.Debug().Str("path", n.Path).Msg("derived field overridden by user")
		}
	}
	if err := f.values.Set(n.Path, valuetree.Clone(value)); err != nil {
		f.mu.Unlock()
		return fmt.Errorf("form: set %q: %w", path, err)
	}
	f.stateFor(n.ID).dirty = true
	f.dirty = true

	p := f.newPass(OriginUser)
	p.written(n.Path)
	if n.Kind != graph.KindField {
		f.reindex(p)
	}
	p.enqueue(work{path: n.Path})
	f.run(p)
	change := f.finish(p)
	f.mu.Unlock()

	f.notify(change)
	return nil
}

// SetSubmitting feeds the formSubmitting predicate.
func (f *Form) SetSubmitting(submitting bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.submitting = submitting
	p := f.newPass(OriginState)
	f.run(p)
	change := f.finish(p)
	f.mu.Unlock()
	f.notify(change)
}

// MarkTouched flags the field at path as touched.
func (f *Form) MarkTouched(path string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	n, ok := f.index.ByPath(path)
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}
	f.stateFor(n.ID).touched = true
	f.touched = true
	p := f.newPass(OriginState)
	f.run(p)
	change := f.finish(p)
	f.mu.Unlock()
	f.notify(change)
	return nil
}

// Subscribe registers fn for every completed pass and returns a function
// that removes it. fn may be called from async goroutines and must not
// block for long.
func (f *Form) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subscribers[id] = fn
	f.subMu.Unlock()
	return func() {
		f.subMu.Lock()
		delete(f.subscribers, id)
		f.subMu.Unlock()
	}
}

// Settle waits until no async work is in flight or ctx is done. Work
// started by the jobs it waits for is waited for too.
func (f *Form) Settle(ctx context.Context) error {
	for {
		f.mu.Lock()
		idle, busy := f.idle, f.inflight > 0
		f.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// startJob registers an async job. Callers hold mu.
func (f *Form) startJob() {
	if f.inflight == 0 {
		f.idle = make(chan struct{})
	}
	f.inflight++
}

// finishJob releases a job registered with startJob.
func (f *Form) finishJob() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	if f.inflight == 0 {
		close(f.idle)
	}
}

// Close cancels in-flight work and discards runtime state. Late results are
// dropped.
func (f *Form) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, st := range f.fields {
		st.cancelAsync()
	}
	f.fields = make(map[string]*fieldState)
	f.derive.Close()
	f.cancel()
}

func (f *Form) notify(change Change) {
	f.subMu.Lock()
	ids := make([]int, 0, len(f.subscribers))
	for id := range f.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, f.subscribers[id])
	}
	f.subMu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}

func (f *Form) stateFor(id string) *fieldState {
	st, ok := f.fields[id]
	if !ok {
		st = &fieldState{}
		f.fields[id] = st
	}
	return st
}

func (f *Form) discard(id string) {
	if st, ok := f.fields[id]; ok {
		st.cancelAsync()
		delete(f.fields, id)
	}
	f.derive.Forget(id)
}

func (f *Form) publicState(n *graph.Node) FieldState {
	out := FieldState{ID: n.ID, Path: n.Path, Kind: n.Kind.String()}
	if st, ok := f.fields[n.ID]; ok {
		out.Readonly = st.flags.Readonly
		out.Required = st.flags.Required
		out.Touched = st.touched
		out.Dirty = st.dirty
		out.Pending = st.asyncPending
		out.Errors = st.allErrors()
	}
	out.Hidden, out.Disabled = f.inherited(n)
	if ds, ok := f.derive.State(n.ID); ok {
		out.Derivation = &ds
	}
	return out
}

// inherited folds the hidden and disabled flags of n and its containers.
func (f *Form) inherited(n *graph.Node) (hidden, disabled bool) {
	if st, ok := f.fields[n.ID]; ok {
		hidden, disabled = st.flags.Hidden, st.flags.Disabled
	}
	for _, a := range f.index.Ancestors(n.ID) {
		if st, ok := f.fields[a.ID]; ok {
			hidden = hidden || st.flags.Hidden
			disabled = disabled || st.flags.Disabled
		}
	}
	return hidden, disabled
}

func (f *Form) formStateLocked() logic.FormState {
	return logic.FormState{
		Submitting: f.submitting,
		Valid:      f.validLocked(),
		Dirty:      f.dirty,
		Touched:    f.touched,
		Pending:    f.pendingLocked(),
	}
}

func (f *Form) validLocked() bool {
	if f.pendingLocked() {
		return false
	}
	for _, st := range f.fields {
		if len(st.errors) > 0 || len(st.asyncErrors) > 0 || len(st.server) > 0 {
			return false
		}
	}
	return true
}

func (f *Form) pendingLocked() bool {
	for _, st := range f.fields {
		if st.asyncPending {
			return true
		}
	}
	return f.derive.Pending()
}

func (st *fieldState) allErrors() []validation.Error {
	if len(st.errors)+len(st.asyncErrors)+len(st.server) == 0 {
		return nil
	}
	out := make([]validation.Error, 0, len(st.errors)+len(st.asyncErrors)+len(st.server))
	out = append(out, st.errors...)
	out = append(out, st.asyncErrors...)
	for _, msg := range st.server {
		out = append(out, validation.Error{Kind: ServerErrorKind, Message: msg})
	}
	return out
}

func (st *fieldState) cancelAsync() {
	if st.asyncCancel != nil {
		st.asyncCancel()
		st.asyncCancel = nil
	}
	st.asyncSeq++
	st.asyncPending = false
}

func derivationTarget(n *graph.Node) derivation.Target {
	return derivation.Target{ID: n.ID, Path: n.Path, Config: *n.Config.Derivation}
}

// applyDefaults fills keys missing from target with the configured initial
// values. Arrays default to an empty list and every present item is filled
// from the template, so sibling keys always exist.
func applyDefaults(fields []formconfig.FieldConfig, target map[string]any) {
	for i := range fields {
		field := fields[i]
		if field.Type.IsLayout() {
			applyDefaults(field.Fields, target)
			continue
		}
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}
		switch field.Type {
		case formconfig.FieldTypeGroup:
			existing, exists := target[key]
			m, isMap := existing.(map[string]any)
			if exists && !isMap && existing != nil {
				continue
			}
			if !isMap {
				m = map[string]any{}
				if initial, ok := valuetree.Clone(field.InitialValue()).(map[string]any); ok {
					m = initial
				}
				target[key] = m
			}
			applyDefaults(field.Fields, m)
		case formconfig.FieldTypeArray:
			if existing, exists := target[key]; !exists || existing == nil {
				list, ok := valuetree.Clone(field.InitialValue()).([]any)
				if !ok {
					list = []any{}
				}
				target[key] = list
			}
			if list, ok := target[key].([]any); ok {
				for _, item := range list {
					if m, ok := item.(map[string]any); ok {
						applyDefaults(field.Children(), m)
					}
				}
			}
		default:
			if _, exists := target[key]; !exists {
				target[key] = valuetree.Clone(field.InitialValue())
			}
		}
	}
}

// emptyValues builds the cleared shape of fields: nil leaves, empty groups
// and empty arrays.
func emptyValues(fields []formconfig.FieldConfig, target map[string]any) {
	for i := range fields {
		field := fields[i]
		if field.Type.IsLayout() {
			emptyValues(field.Fields, target)
			continue
		}
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}
		switch field.Type {
		case formconfig.FieldTypeGroup:
			m := map[string]any{}
			emptyValues(field.Fields, m)
			target[key] = m
		case formconfig.FieldTypeArray:
			target[key] = []any{}
		default:
			target[key] = nil
		}
	}
}
