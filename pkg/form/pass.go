package form

import (
	"context"

	"github.com/goliatone/go-formlogic/pkg/derivation"
	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/formconfig"
	"github.com/goliatone/go-formlogic/pkg/graph"
	"github.com/goliatone/go-formlogic/pkg/logic"
	"github.com/goliatone/go-formlogic/pkg/validation"
	"github.com/goliatone/go-formlogic/pkg/valuetree"
)

// maxStateRounds bounds the logic/validation rounds driven by form-state
// predicates within one pass.
const maxStateRounds = 3

type work struct {
	path  string
	depth int
	// shallow limits the lookup to rules reading path or an ancestor.
	shallow bool
}

// pass accumulates the work of one evaluation pass. It only lives while the
// form lock is held.
type pass struct {
	origin  Origin
	queue   []work
	fresh   []string
	logic   map[string]struct{}
	checks  map[string]bool
	changed []string
	seen    map[string]struct{}
}

func (f *Form) newPass(origin Origin) *pass {
	return &pass{
		origin: origin,
		logic:  make(map[string]struct{}),
		checks: make(map[string]bool),
		seen:   make(map[string]struct{}),
	}
}

func (p *pass) enqueue(w work) {
	p.queue = append(p.queue, w)
}

func (p *pass) written(path string) {
	if _, ok := p.seen[path]; ok {
		return
	}
	p.seen[path] = struct{}{}
	p.changed = append(p.changed, path)
}

// check schedules validation of id. forced re-runs async validators even
// when the field value is unchanged.
func (p *pass) check(id string, forced bool) {
	p.checks[id] = p.checks[id] || forced
}

func (f *Form) finish(p *pass) Change {
	return Change{Origin: p.origin, Paths: p.changed, Value: f.values.Snapshot()}
}

// reindex re-walks the value tree, drops the state of vanished nodes and
// schedules a full evaluation of new ones.
func (f *Form) reindex(p *pass) {
	for _, id := range f.index.Rebuild(f.values.Root()) {
		f.discard(id)
	}
	for _, n := range f.index.Nodes() {
		if n.Config == nil {
			continue
		}
		if _, ok := f.fields[n.ID]; ok {
			continue
		}
		f.fields[n.ID] = &fieldState{}
		p.logic[n.ID] = struct{}{}
		p.check(n.ID, true)
		if n.Config.Derivation != nil && n.HasValue() {
			p.fresh = append(p.fresh, n.ID)
		}
	}
}

// run drains the pass: derivations first, following their writes
// downstream, then logic and validation until the form state is stable.
func (f *Form) run(p *pass) {
	fresh := p.fresh
	p.fresh = nil
	for _, id := range fresh {
		f.deriveNode(p, id, work{})
	}

	for len(p.queue) > 0 {
		w := p.queue[0]
		p.queue = p.queue[1:]
		f.clearServerErrors(w.path)

		var deps []graph.Dependent
		if w.shallow {
			deps = f.index.Watchers(w.path)
		} else {
			deps = f.index.Affected(w.path)
		}
		for _, dep := range deps {
			if dep.Kinds.Has(graph.RuleLogic) {
				p.logic[dep.ID] = struct{}{}
			}
			if dep.Kinds.Has(graph.RuleValidation) {
				p.check(dep.ID, true)
			}
			if dep.Kinds.Has(graph.RuleDerivation) {
				f.deriveNode(p, dep.ID, w)
			}
		}
		for _, id := range p.fresh {
			f.deriveNode(p, id, work{depth: w.depth})
		}
		p.fresh = nil
	}

	state := f.formStateLocked()
	for _, id := range f.index.FormStateDependents() {
		p.logic[id] = struct{}{}
	}
	for round := 0; ; round++ {
		f.applyLogic(p, state)
		f.applyValidation(p)
		next := f.formStateLocked()
		if next == state || round+1 >= maxStateRounds {
			return
		}
		state = next
		for _, id := range f.index.FormStateDependents() {
			p.logic[id] = struct{}{}
		}
	}
}

func (f *Form) deriveNode(p *pass, id string, w work) {
	n, ok := f.index.ByID(id)
	if !ok || n.Config == nil || n.Config.Derivation == nil {
		return
	}
	if w.path != "" && valuetree.HasPrefix(w.path, n.Path) {
		return
	}
	if w.depth >= f.maxDepth {
		f.logger.Warn().
			Str("path", n.Path).
			Int("depth", w.depth).
			Msg("derivation depth limit reached; possible cycle")
		return
	}

	plan := f.derive.Begin(derivationTarget(n), f.contextFor(n))
	switch plan.Kind {
	case derivation.PlanSync:
		f.writeDerived(p, n, plan.Value, w.depth+1)
	case derivation.PlanAsync:
		f.launchDerivation(plan)
	}
}

func (f *Form) writeDerived(p *pass, n *graph.Node, value any, depth int) {
	current, _ := f.values.Get(n.Path)
	if valuetree.Equal(current, value) {
		return
	}
	if err := f.values.Set(n.Path, valuetree.Clone(value)); err != nil {
		f.logger.Warn().Err(err).Str("path", n.Path).Msg("derived value not written")
		return
	}
	p.written(n.Path)
	if n.Kind != graph.KindField {
		f.reindex(p)
	}
	p.enqueue(work{path: n.Path, depth: depth})
}

func (f *Form) launchDerivation(plan derivation.Plan) {
	f.startJob()
	go func() {
		defer f.finishJob()
		value, err := plan.Run()

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return
		}
		p := f.newPass(OriginDerivation)
		if v, ok := f.derive.Resolve(plan.Target.ID, plan.RequestID, value, err); ok {
			if n, exists := f.index.ByID(plan.Target.ID); exists {
				f.writeDerived(p, n, v, 0)
			}
		}
		f.run(p)
		change := f.finish(p)
		f.mu.Unlock()
		f.notify(change)
	}()
}

func (f *Form) applyLogic(p *pass, state logic.FormState) {
	if len(p.logic) == 0 {
		return
	}
	for _, n := range f.index.Nodes() {
		if _, ok := p.logic[n.ID]; !ok || n.Config == nil {
			continue
		}
		st := f.stateFor(n.ID)
		before := st.flags
		after := f.logic.Resolve(n.Path, n.Config.Logic, logic.StaticFlags(*n.Config), f.contextFor(n), state)
		st.flags = after
		if before == after {
			continue
		}
		if before.Required != after.Required {
			p.check(n.ID, false)
		}
		if before.Hidden != after.Hidden || before.Disabled != after.Disabled {
			f.checkSubtree(p, n)
		}
	}
	p.logic = make(map[string]struct{})
}

func (f *Form) checkSubtree(p *pass, n *graph.Node) {
	if n.HasValue() && n.Config != nil {
		p.check(n.ID, false)
	}
	for _, child := range n.Children {
		if c, ok := f.index.ByID(child); ok {
			f.checkSubtree(p, c)
		}
	}
}

func (f *Form) applyValidation(p *pass) {
	if len(p.checks) == 0 {
		return
	}
	for _, n := range f.index.Nodes() {
		forced, ok := p.checks[n.ID]
		if !ok {
			continue
		}
		f.validateNode(n, forced)
	}
	p.checks = make(map[string]bool)
}

func (f *Form) validateNode(n *graph.Node, forced bool) {
	if !n.HasValue() || n.Config == nil {
		return
	}
	st := f.stateFor(n.ID)
	validators := formconfig.FieldValidators(*n.Config)
	if st.flags.Required && !hasValidator(validators, formconfig.ValidatorRequired) {
		validators = append([]formconfig.ValidatorConfig{{Type: formconfig.ValidatorRequired}}, validators...)
	}

	hidden, disabled := f.inherited(n)
	if len(validators) == 0 || (!f.cfg.Options.ValidateHidden && (hidden || disabled)) {
		st.errors = nil
		st.asyncErrors = nil
		st.asyncRan = false
		st.cancelAsync()
		return
	}

	field := validation.Field{Path: n.Path, Validators: validators, Messages: n.Config.ValidationMessages}
	ectx := f.contextFor(n)
	st.errors = f.validator.Validate(field, ectx)

	if !validation.HasAsync(validators) {
		return
	}
	if len(st.errors) > 0 {
		st.asyncErrors = nil
		st.asyncRan = false
		st.cancelAsync()
		return
	}
	if !forced && st.asyncRan && valuetree.Equal(st.asyncInput, ectx.FieldValue) {
		return
	}
	f.launchValidation(n.ID, st, field, ectx)
}

// launchValidation supersedes any running async validation of the field.
// Only the result of the latest launch is kept.
func (f *Form) launchValidation(id string, st *fieldState, field validation.Field, ectx expression.Context) {
	st.cancelAsync()
	seq := st.asyncSeq
	ctx, cancel := context.WithCancel(f.ctx)
	st.asyncCancel = cancel
	st.asyncPending = true
	st.asyncRan = true
	st.asyncInput = valuetree.Clone(ectx.FieldValue)
	snapshot := isolate(ectx)

	f.startJob()
	go func() {
		defer f.finishJob()
		defer cancel()
		errs := f.validator.ValidateAsync(ctx, field, snapshot)

		f.mu.Lock()
		current, ok := f.fields[id]
		if f.closed || !ok || current != st || st.asyncSeq != seq || ctx.Err() != nil {
			f.mu.Unlock()
			return
		}
		st.asyncErrors = errs
		st.asyncPending = false
		st.asyncCancel = nil
		p := f.newPass(OriginValidation)
		f.run(p)
		change := f.finish(p)
		f.mu.Unlock()
		f.notify(change)
	}()
}

func (f *Form) contextFor(n *graph.Node) expression.Context {
	ctx := expression.Context{FormValue: f.values.Root(), FieldPath: n.Path}
	if n.HasValue() {
		ctx.FieldValue, _ = f.values.Get(n.Path)
	}
	return ctx
}

func isolate(ectx expression.Context) expression.Context {
	out := ectx
	out.FieldValue = valuetree.Clone(ectx.FieldValue)
	if ectx.FormValue != nil {
		out.FormValue = valuetree.Clone(ectx.FormValue).(map[string]any)
	}
	return out
}

func hasValidator(validators []formconfig.ValidatorConfig, t formconfig.ValidatorType) bool {
	for _, v := range validators {
		if v.Type == t {
			return true
		}
	}
	return false
}
