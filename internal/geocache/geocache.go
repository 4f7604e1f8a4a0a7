// Package geocache is the short-TTL memoization of (client,
// server-set, params) -> selected server list.
package geocache

import (
	"fmt"
	"sync"
	"time"

	"github.com/flirble-lb/flirble-dns-server/internal/model"
)

// Key identifies a cached selection.
type Key struct {
	Client    string
	ServerSet string
	ParamsKey string
}

type entry struct {
	expiresAt time.Time
	selected  model.ServerSet
}

// Cache is a mutex-guarded map from Key to an expiring selection.
type Cache struct {
	glock   sync.Mutex
	entries map[Key]entry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]entry)}
}

// NewKey builds a cache Key from a client address, server-set name
// and selection parameters, with params normalized to a deterministic
// string via SelectParams.SortedKey.
func NewKey(client, serverSet string, params model.SelectParams) Key {
	return Key{Client: client, ServerSet: serverSet, ParamsKey: params.SortedKey()}
}

// Get returns the cached selection for key, if present and
// unexpired. An expired entry is treated as a miss even before the
// idle loop gets around to evicting it.
func (c *Cache) Get(key Key) (model.ServerSet, bool) {
	c.glock.Lock()
	defer c.glock.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.selected, true
}

// Set stores selected under key with the given TTL.
func (c *Cache) Set(key Key, selected model.ServerSet, ttl time.Duration) {
	c.glock.Lock()
	defer c.glock.Unlock()
	c.entries[key] = entry{expiresAt: time.Now().Add(ttl), selected: selected}
}

// EvictExpired removes every entry whose expiry has passed, for use
// by the idle loop. It returns the number of entries removed.
func (c *Cache) EvictExpired() int {
	c.glock.Lock()
	defer c.glock.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.glock.Lock()
	defer c.glock.Unlock()
	return len(c.entries)
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Client, k.ServerSet, k.ParamsKey)
}
