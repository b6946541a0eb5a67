// Package dispatch implements the per-port service registry: the map from
// an exported object's index to a trait-specific dispatcher function, and
// the export/DELETE/invoke lifecycle described for the service registry
// component.
package dispatch

import (
	"fmt"
	"sync"

	"mini-rpc/handle"
	"mini-rpc/wire"
)

// DispatcherFunc decodes payload as the argument tuple for method, invokes
// the real object, and encodes the result. It is produced once per
// exported object (see NewReflectDispatcher for the common case of
// building one from a Go struct).
type DispatcherFunc func(method uint32, payload []byte) ([]byte, error)

type entry struct {
	traitID uint16
	fn      DispatcherFunc
}

// Registry is one port's {service-object-id -> dispatcher} table. Indices
// are monotonic and never reused within the registry's lifetime, so a
// stale handle referencing a freed index is statistically detectable
// rather than silently aliasing a newer object.
type Registry struct {
	mu        sync.RWMutex
	nextIndex uint16
	entries   map[uint16]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint16]*entry)}
}

// Register places fn into the registry under a fresh monotonic index and
// returns the resulting handle identity.
func (r *Registry) Register(traitID uint16, fn DispatcherFunc) handle.ServiceObjectId {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.nextIndex
	r.nextIndex++
	r.entries[idx] = &entry{traitID: traitID, fn: fn}
	return handle.ServiceObjectId{TraitID: traitID, Index: idx}
}

// Dispatch resolves id against the registry and either removes the entry
// (method == wire.DeleteMethodID) or invokes its dispatcher. An unknown
// index, or a second DELETE for an already-removed object, is a protocol
// violation and panics — the peer has either raced the teardown of this
// port or sent a handle that never belonged to it.
func (r *Registry) Dispatch(id handle.ServiceObjectId, method uint32, payload []byte) ([]byte, error) {
	if method == wire.DeleteMethodID {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.entries[id.Index]; !ok {
			panic(fmt.Sprintf("dispatch: DELETE for unknown or already-deleted object index %d", id.Index))
		}
		delete(r.entries, id.Index)
		return nil, nil
	}

	r.mu.RLock()
	e, ok := r.entries[id.Index]
	r.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("dispatch: unknown service object index %d", id.Index))
	}
	return e.fn(method, payload)
}

// Size reports the number of currently-registered (non-deleted) objects.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
