// Package registry holds the named functions a host application injects at
// form construction time. Configuration stays plain data and refers to these
// capabilities by name.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-formlogic/pkg/expression"
	"github.com/goliatone/go-formlogic/pkg/transport"
)

var (
	ErrEmptyName = errors.New("registry: name is required")
	ErrNilFunc   = errors.New("registry: function is nil")
)

// AsyncDerivationFunc computes a derived value. ctx is cancelled when a newer
// computation for the same field supersedes this one.
type AsyncDerivationFunc func(ctx context.Context, ectx expression.Context) (any, error)

// HTTPValidator backs a customHttp validator.
type HTTPValidator struct {
	// Request builds the outgoing request for the current field value.
	Request func(ectx expression.Context) (transport.Request, error)
	// Check interprets the response. An empty kind means the value is valid.
	Check func(response any, ectx expression.Context) (kind string, params map[string]any)
	// FailClosed reports transport failures as ErrorKind instead of passing.
	FailClosed bool
	ErrorKind  string
}

// Registry maps names to injected capabilities. Later registrations replace
// earlier ones with the same name. A nil *Registry resolves nothing.
type Registry struct {
	mu          sync.RWMutex
	derivations map[string]AsyncDerivationFunc
	validators  map[string]HTTPValidator
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		derivations: make(map[string]AsyncDerivationFunc),
		validators:  make(map[string]HTTPValidator),
	}
}

// RegisterAsyncDerivation registers fn under name.
func (r *Registry) RegisterAsyncDerivation(name string, fn AsyncDerivationFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if fn == nil {
		return ErrNilFunc
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.derivations[name] = fn
	return nil
}

// RegisterHTTPValidator registers v under name. Request is required.
func (r *Registry) RegisterHTTPValidator(name string, v HTTPValidator) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if v.Request == nil {
		return ErrNilFunc
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
	return nil
}

// AsyncDerivation looks up a derivation function.
func (r *Registry) AsyncDerivation(name string) (AsyncDerivationFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.derivations[strings.TrimSpace(name)]
	return fn, ok
}

// HTTPValidator looks up a customHttp validator.
func (r *Registry) HTTPValidator(name string) (HTTPValidator, bool) {
	if r == nil {
		return HTTPValidator{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[strings.TrimSpace(name)]
	return v, ok
}

// Names lists registered derivation and validator names, sorted.
func (r *Registry) Names() (derivations, validators []string) {
	if r == nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.derivations {
		derivations = append(derivations, name)
	}
	for name := range r.validators {
		validators = append(validators, name)
	}
	sort.Strings(derivations)
	sort.Strings(validators)
	return derivations, validators
}
