package modrt

import (
	"fmt"
	"sync"

	"mini-rpc/port"
)

// PortTable is a module's {link id -> Port} table: one entry per inbound
// link the linker has wired to this module. Unlike the per-port service
// registry (dispatch.Registry), this table is keyed by the linker's own
// link identifier, not by exported-object index.
type PortTable struct {
	mu    sync.Mutex
	ports map[uint64]*port.Port
}

// NewPortTable creates an empty table.
func NewPortTable() *PortTable {
	return &PortTable{ports: make(map[uint64]*port.Port)}
}

// Insert adds p under portID. Re-linking an id already present is a
// protocol violation: the linker is expected to Unlink before relinking.
func (t *PortTable) Insert(portID uint64, p *port.Port) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ports[portID]; ok {
		return fmt.Errorf("modrt: port id %d already linked", portID)
	}
	t.ports[portID] = p
	return nil
}

// Get returns the port registered under portID, if any.
func (t *PortTable) Get(portID uint64) (*port.Port, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ports[portID]
	return p, ok
}

// Remove closes and removes the port registered under portID. A no-op if
// the id is not present.
func (t *PortTable) Remove(portID uint64) {
	t.mu.Lock()
	p, ok := t.ports[portID]
	delete(t.ports, portID)
	t.mu.Unlock()
	if ok {
		p.Close()
	}
}

// CloseAll closes and removes every port in the table, in terminate
// processing.
func (t *PortTable) CloseAll() {
	t.mu.Lock()
	ports := t.ports
	t.ports = make(map[uint64]*port.Port)
	t.mu.Unlock()
	for _, p := range ports {
		p.Close()
	}
}
