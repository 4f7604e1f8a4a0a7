// Package zonetable holds the in-memory zones table, populated and
// kept current by the config feed and read by the dispatcher.
package zonetable

import (
	"sync"

	"github.com/flirble-lb/flirble-dns-server/internal/model"
)

// Table is the in-memory mapping from zone FQDN (trailing dot
// included, exactly as seen on the wire) to its Zone document. Each
// key is set and read atomically under a single RWMutex, so a reader
// always observes either the old or the new complete value for a
// given key.
type Table struct {
	mu    sync.RWMutex
	zones map[string]model.Zone
}

// New returns an empty Table.
func New() *Table {
	return &Table{zones: make(map[string]model.Zone)}
}

// Get returns the zone for name and whether it exists. The lock is
// released before Get returns, so dispatch never runs while holding it.
func (t *Table) Get(name string) (model.Zone, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	z, ok := t.zones[name]
	return z, ok
}

// Set installs or replaces the zone for name.
func (t *Table) Set(name string, z model.Zone) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.zones[name] = z
}

// Delete removes the zone for name, if present.
func (t *Table) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.zones, name)
}

// Len reports the number of zones currently held.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.zones)
}
