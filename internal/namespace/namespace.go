// Package namespace manages the shared state that workers attach to. A
// namespace is scoped (typically one per database) and owns the statistics
// table and the decision epoch for that scope. Nothing here is a
// process-wide singleton; callers pass the Registry or Namespace explicitly.
package namespace

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/planmentor/internal/epoch"
	"github.com/arkilian/planmentor/internal/stats"
)

// Namespace is the shared state of one scope.
type Namespace struct {
	Scope   string
	Table   *stats.Table
	Epoch   *epoch.Epoch
	Created time.Time
}

// New creates a detached namespace. Most callers want Registry.Attach.
func New(scope string, opts stats.Options) *Namespace {
	table := stats.NewTable(opts)
	return &Namespace{
		Scope:   scope,
		Table:   table,
		Epoch:   epoch.New(),
		Created: table.Now(),
	}
}

// Registry hands out namespaces by scope name. The first Attach for a scope
// initializes it; later callers attach to the same instance.
type Registry struct {
	mu     sync.Mutex
	spaces map[string]*Namespace
	opts   stats.Options
}

// NewRegistry creates an empty registry whose namespaces use opts.
func NewRegistry(opts stats.Options) *Registry {
	return &Registry{
		spaces: make(map[string]*Namespace),
		opts:   opts,
	}
}

// Attach returns the namespace for scope, creating it if needed. found
// reports whether it already existed.
func (r *Registry) Attach(scope string) (ns *Namespace, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ns, ok := r.spaces[scope]; ok {
		return ns, true
	}
	ns = New(scope, r.opts)
	r.spaces[scope] = ns
	return ns, false
}

// Lookup returns an existing namespace without creating one.
func (r *Registry) Lookup(scope string) (*Namespace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.spaces[scope]
	return ns, ok
}

// Scopes lists attached scopes in name order.
func (r *Registry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	scopes := make([]string, 0, len(r.spaces))
	for s := range r.spaces {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// Drop discards a namespace. Its state is gone; a later Attach starts from
// zero. Workers still holding the old *Namespace keep using it harmlessly.
func (r *Registry) Drop(scope string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.spaces[scope]; !ok {
		return false
	}
	delete(r.spaces, scope)
	return true
}
