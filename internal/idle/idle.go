// Package idle runs the periodic housekeeping loop that evicts
// expired GeoCache entries between requests, so stale selections
// don't accumulate indefinitely.
package idle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flirble-lb/flirble-dns-server/internal/geocache"
)

// DefaultInterval is how often the loop sweeps the cache when Run is
// called without an explicit interval.
const DefaultInterval = 30 * time.Second

// Run evicts expired entries from cache every interval until ctx is
// canceled. A non-positive interval uses DefaultInterval. Intended to
// run in its own goroutine for the lifetime of the process.
func Run(ctx context.Context, cache *geocache.Cache, interval time.Duration, log *logrus.Logger) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cache.EvictExpired(); n > 0 {
				log.WithField("evicted", n).Debug("geo cache housekeeping")
			}
		}
	}
}
