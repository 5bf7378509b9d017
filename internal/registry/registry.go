// Package registry maps (entity type, field) pairs to external source
// functions. The registry is assembled explicitly at startup with concrete
// implementations or test doubles; nothing is resolved implicitly.
package registry

import (
	"sync"

	"github.com/civiclens/civiclens/internal/entity"
)

type key struct {
	et    entity.EntityType
	field string
}

// Registry is a lookup table of source functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[key]entity.SourceFunc
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{funcs: map[key]entity.SourceFunc{}}
}

// Register binds a source function to an (entity type, field) pair,
// replacing any prior binding.
func (r *Registry) Register(et entity.EntityType, field string, fn entity.SourceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key{et: et, field: field}] = fn
}

// Lookup resolves the source function for a field.
func (r *Registry) Lookup(et entity.EntityType, field string) (entity.SourceFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[key{et: et, field: field}]
	return fn, ok
}
