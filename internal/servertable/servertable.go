// Package servertable holds the in-memory server-sets table, kept
// current by the config feed and read by the geo-dist dispatcher path.
package servertable

import (
	"sync"

	"github.com/flirble-lb/flirble-dns-server/internal/model"
)

// Table is the in-memory mapping from server-set name to its ordered
// list of candidate servers.
type Table struct {
	mu   sync.RWMutex
	sets map[string]model.ServerSet
}

// New returns an empty Table.
func New() *Table {
	return &Table{sets: make(map[string]model.ServerSet)}
}

// Get returns the server set for name and whether it exists.
func (t *Table) Get(name string) (model.ServerSet, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sets[name]
	return s, ok
}

// Set installs or replaces the server set for name.
func (t *Table) Set(name string, s model.ServerSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sets[name] = s
}

// Delete removes the server set for name, if present.
func (t *Table) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sets, name)
}

// Len reports the number of server sets currently held.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sets)
}

// Resolve returns the server set a zone should use along with the
// name it was actually resolved under: the named set if it exists,
// else the "default" set, else (nil, "", false). The resolved name
// feeds the geo cache key.
func (t *Table) Resolve(name string) (model.ServerSet, string, bool) {
	if name != "" {
		if s, ok := t.Get(name); ok {
			return s, name, true
		}
	}
	if s, ok := t.Get(model.DefaultServerSetName); ok {
		return s, model.DefaultServerSetName, true
	}
	return nil, "", false
}
