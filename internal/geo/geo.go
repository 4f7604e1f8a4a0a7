// Package geo wraps a Maxmind city database and implements the
// closest-server selection algorithm.
package geo

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/flirble-lb/flirble-dns-server/internal/distance"
	"github.com/flirble-lb/flirble-dns-server/internal/model"
)

// Geo serializes all GeoIP reader access under a single mutex; the
// reader is not assumed safe for concurrent use.
type Geo struct {
	mu     sync.Mutex
	dbPath string
	reader *geoip2.Reader

	// lookup, when set, replaces the Maxmind reader for city lookups.
	// Used by tests to avoid depending on a real .mmdb file.
	lookup func(ip net.IP) (lat, lon float64, ok bool)
}

// New opens the Maxmind database at path; an empty path yields a Geo
// with no database. A nil *Geo (or one built with an empty path) is
// legal to use: FindClosestServer then always
// reports a lookup failure, so callers can fall back to a zone's
// static answer when no database is configured.
func New(path string) (*Geo, error) {
	g := &Geo{dbPath: path}
	if path == "" {
		return g, nil
	}
	if err := g.Reopen(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reopen closes and reopens the underlying database, atomically
// swapping the reader while holding the lock.
func (g *Geo) Reopen() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, err := geoip2.Open(g.dbPath)
	if err != nil {
		return fmt.Errorf("open geoip database %q: %w", g.dbPath, err)
	}
	if g.reader != nil {
		_ = g.reader.Close()
	}
	g.reader = r
	return nil
}

// Close releases the underlying database handle.
func (g *Geo) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

func (g *Geo) cityLocation(client string) (lat, lon float64, ok bool) {
	ip := net.ParseIP(client)
	if ip == nil {
		return 0, 0, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lookup != nil {
		return g.lookup(ip)
	}
	if g.reader == nil {
		return 0, 0, false
	}
	city, err := g.reader.City(ip)
	if err != nil {
		return 0, 0, false
	}
	return city.Location.Latitude, city.Location.Longitude, true
}

// NewWithLookup builds a Geo that bypasses the Maxmind reader
// entirely, reporting coordinates from lookup instead. Exposed for
// tests exercising FindClosestServer without a real .mmdb file.
func NewWithLookup(lookup func(ip net.IP) (lat, lon float64, ok bool)) *Geo {
	return &Geo{lookup: lookup}
}

// FindClosestServer selects the nearest eligible servers for client: it
// filters servers by load/age/distance, picks the tied-minimum
// distance group, and deterministically slices maxreplies entries
// out of it starting at a hash of the client address.
//
// The second return value is false when the selection could not be
// made at all (no Geo database attached, lookup failure, or every
// candidate filtered out) — the caller falls back to a zone's static
// rr, if any.
func (g *Geo) FindClosestServer(servers model.ServerSet, client string, params model.SelectParams) (model.ServerSet, bool) {
	if g == nil {
		return nil, false
	}

	lat, lon, ok := g.cityLocation(client)
	if !ok {
		return nil, false
	}
	clientPoint := distance.Point{Lat: lat, Lon: lon}

	precision := distance.DefaultPrecision
	if params.Precision != nil {
		precision = *params.Precision
	}

	now := float64(time.Now().Unix())

	minDist := -1.0
	var ranked model.ServerSet

	for _, srv := range servers {
		if srv.Load < 0 {
			continue
		}
		if params.MaxLoad != nil && srv.Load > *params.MaxLoad {
			continue
		}
		if params.MaxAge != nil && srv.TS >= 0 {
			age := now - srv.TS
			if age > *params.MaxAge {
				continue
			}
		}

		dist := distance.GCS(clientPoint, distance.Point{Lat: srv.Lat, Lon: srv.Lon}, precision)

		if params.MaxDist != nil && *params.MaxDist >= 0 && dist > *params.MaxDist {
			continue
		}

		if minDist < 0 || dist < minDist {
			minDist = dist
			ranked = model.ServerSet{srv}
		} else if dist == minDist {
			ranked = append(ranked, srv)
		}
	}

	if len(ranked) == 0 {
		return nil, false
	}

	if len(ranked) > 1 {
		idx, err := tieBreakIndex(client, len(ranked))
		if err != nil {
			return nil, false
		}
		ranked = rotateSlice(ranked, idx, maxReplies(params))
	}

	return ranked, true
}

// tieBreakIndex computes the deterministic pick index from the
// client address: the last colon-group (hex) for IPv6, the last
// dot-octet (decimal) for IPv4.
func tieBreakIndex(client string, mod int) (int, error) {
	var val int64
	var err error

	switch {
	case strings.Contains(client, ":"):
		parts := strings.Split(client, ":")
		val, err = strconv.ParseInt(parts[len(parts)-1], 16, 64)
	case strings.Contains(client, "."):
		parts := strings.Split(client, ".")
		val, err = strconv.ParseInt(parts[len(parts)-1], 10, 64)
	default:
		return 0, fmt.Errorf("badly formatted address: %q", client)
	}
	if err != nil {
		return 0, fmt.Errorf("badly formatted address: %q: %w", client, err)
	}

	return int(val % int64(mod)), nil
}

func maxReplies(params model.SelectParams) int {
	if params.MaxReplies != nil {
		return *params.MaxReplies
	}
	return 1
}

// rotateSlice returns up to n entries from ranked, starting at idx
// and wrapping around.
func rotateSlice(ranked model.ServerSet, idx, n int) model.ServerSet {
	if n >= len(ranked) {
		return ranked
	}
	rotated := append(model.ServerSet{}, ranked[idx:]...)
	rotated = append(rotated, ranked[:idx]...)
	return rotated[:n]
}
