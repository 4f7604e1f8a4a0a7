// Package configfeed keeps the in-memory zone and server tables
// current from a live RethinkDB change feed, running one watcher
// goroutine per table over a cancellable context.
package configfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	r "github.com/rethinkdb/rethinkdb-go/v6"
	"github.com/sirupsen/logrus"

	"github.com/flirble-lb/flirble-dns-server/internal/config"
	"github.com/flirble-lb/flirble-dns-server/internal/model"
	"github.com/flirble-lb/flirble-dns-server/internal/servertable"
	"github.com/flirble-lb/flirble-dns-server/internal/zonetable"
)

// minBackoff/maxBackoff bound the reconnect delay after a watcher's
// cursor breaks.
const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// change mirrors the envelope RethinkDB emits for a Changes() feed
// entry; NewVal is nil on a delete.
type change struct {
	NewVal map[string]interface{} `rethinkdb:"new_val"`
	OldVal map[string]interface{} `rethinkdb:"old_val"`
}

// Feed owns the RethinkDB session and the per-table watcher
// goroutines that mirror it into ZoneTable/ServerTable.
type Feed struct {
	session *r.Session
	cfg     config.RethinkDBConfig
	zones   *zonetable.Table
	servers *servertable.Table
	log     *logrus.Logger

	wg sync.WaitGroup
}

// Connect opens the RethinkDB session that Feed's watchers will use.
// Connection failure at startup is fatal.
func Connect(cfg config.RethinkDBConfig, zones *zonetable.Table, servers *servertable.Table, log *logrus.Logger) (*Feed, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	session, err := r.Connect(r.ConnectOpts{
		Address:  cfg.Address,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to rethinkdb at %q: %w", cfg.Address, err)
	}
	return &Feed{session: session, cfg: cfg, zones: zones, servers: servers, log: log}, nil
}

// Start launches the zones and servers table watchers. It returns
// immediately; watchers run until ctx is canceled.
func (f *Feed) Start(ctx context.Context) {
	f.wg.Add(2)
	go f.watchZones(ctx)
	go f.watchServers(ctx)
}

// Wait blocks until every watcher goroutine has exited (after ctx is
// canceled) and closes the session.
func (f *Feed) Wait() {
	f.wg.Wait()
	_ = f.session.Close()
}

func (f *Feed) watchZones(ctx context.Context) {
	defer f.wg.Done()
	f.watchTable(ctx, f.cfg.ZonesTable, func(id string, newVal map[string]interface{}, deleted bool) {
		if deleted {
			f.zones.Delete(id)
			return
		}
		var zone model.Zone
		if err := decodeDoc(newVal, &zone); err != nil {
			f.log.WithError(err).WithField("zone", id).Warn("skipping malformed zone document")
			return
		}
		valid := zone.RR[:0]
		for _, rec := range zone.RR {
			if err := rec.Validate(); err != nil {
				f.log.WithError(err).WithField("zone", id).Warn("skipping invalid record")
				continue
			}
			valid = append(valid, rec)
		}
		zone.RR = valid
		f.zones.Set(id, zone)
	})
}

func (f *Feed) watchServers(ctx context.Context) {
	defer f.wg.Done()
	f.watchTable(ctx, f.cfg.ServersTable, func(id string, newVal map[string]interface{}, deleted bool) {
		if deleted {
			f.servers.Delete(id)
			return
		}
		var doc struct {
			Servers model.ServerSet `json:"servers"`
		}
		if err := decodeDoc(newVal, &doc); err != nil {
			f.log.WithError(err).WithField("server_set", id).Warn("skipping malformed server-set document")
			return
		}
		f.servers.Set(id, doc.Servers)
	})
}

// watchTable runs a Changes() cursor over table, applying each event
// via apply, and reconnects with backoff whenever the cursor breaks,
// until ctx is canceled.
func (f *Feed) watchTable(ctx context.Context, table string, apply func(id string, newVal map[string]interface{}, deleted bool)) {
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		f.log.WithField("table", table).Info("watching config table")
		cur, err := r.Table(table).Changes(r.ChangesOpts{IncludeInitial: true}).Run(f.session)
		if err != nil {
			f.log.WithError(err).WithField("table", table).Error("failed to open change feed")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

		stopped := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = cur.Close()
			case <-stopped:
			}
		}()

		var ch change
		for cur.Next(&ch) {
			id, ok := docID(ch)
			if ok {
				apply(id, ch.NewVal, ch.NewVal == nil)
			}
		}
		close(stopped)

		if ctx.Err() != nil {
			return
		}
		if err := cur.Err(); err != nil {
			f.log.WithError(err).WithField("table", table).Warn("change feed cursor broke, reconnecting")
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func docID(ch change) (string, bool) {
	src := ch.NewVal
	if src == nil {
		src = ch.OldVal
	}
	id, ok := src["id"].(string)
	return id, ok
}

// decodeDoc bridges a RethinkDB document (decoded into a generic map)
// into one of model's JSON-tagged types via a JSON round-trip, so the
// config feed doesn't need its own struct-tag vocabulary alongside
// model's.
func decodeDoc(doc map[string]interface{}, out interface{}) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// sleepOrDone waits for d or ctx cancellation, whichever comes first.
// It returns false if ctx was canceled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
