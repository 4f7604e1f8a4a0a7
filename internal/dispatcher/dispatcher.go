// Package dispatcher implements the request-processing pipeline:
// decoding a DNS query, routing it to the static or geo-dist zone
// handler, and assembling answer/authority/additional sections with
// recursion-guard and duplicate suppression.
package dispatcher

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/flirble-lb/flirble-dns-server/internal/geo"
	"github.com/flirble-lb/flirble-dns-server/internal/geocache"
	"github.com/flirble-lb/flirble-dns-server/internal/model"
	"github.com/flirble-lb/flirble-dns-server/internal/servertable"
	"github.com/flirble-lb/flirble-dns-server/internal/zonetable"
)

// zoneResult is the three-way outcome of walking a zone: a cycle was
// detected, nothing matched, or at least one record was added.
type zoneResult int

const (
	zoneCycle zoneResult = iota
	zoneNotFound
	zoneFound
)

// Dispatcher answers queries from the zone/server tables, applying
// geo selection where a zone calls for it.
type Dispatcher struct {
	Zones   *zonetable.Table
	Servers *servertable.Table
	Geo     *geo.Geo
	Cache   *geocache.Cache
	Log     *logrus.Logger
}

// New builds a Dispatcher over the given tables and collaborators.
func New(zones *zonetable.Table, servers *servertable.Table, g *geo.Geo, cache *geocache.Cache, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{Zones: zones, Servers: servers, Geo: g, Cache: cache, Log: log}
}

// Handle decodes raw, answers it, and returns the packed reply. A nil
// return means no reply should be sent: the packet was malformed or
// carried no question, and is dropped silently rather than answered
// with an error.
func (d *Dispatcher) Handle(raw []byte, client string) []byte {
	req := new(dns.Msg)
	if err := req.Unpack(raw); err != nil {
		d.Log.WithError(err).Debug("dropping malformed packet")
		return nil
	}
	if len(req.Question) == 0 {
		d.Log.Debug("dropping packet with no question")
		return nil
	}

	// Only the first question is answered; DNS clients never send more than one.
	q := req.Question[0]

	reply := new(dns.Msg)
	reply.Id = req.Id
	reply.Response = true
	reply.Authoritative = true
	reply.RecursionAvailable = false
	reply.Question = []dns.Question{q}

	state := NewRequestState(client, q.Name, q.Qtype, reply)

	result := func() (res zoneResult) {
		defer func() {
			if r := recover(); r != nil {
				d.Log.WithField("panic", r).Error("recovered while assembling reply")
				res = zoneNotFound
			}
		}()
		return d.handleZone(q.Name, q.Qtype, state, SectionAnswer)
	}()

	switch result {
	case zoneCycle:
		reply.Rcode = dns.RcodeRefused
	case zoneFound:
		d.ascendAuthority(q.Name, state, dns.TypeNS, SectionAuthority)
	case zoneNotFound:
		d.ascendAuthority(q.Name, state, dns.TypeSOA, SectionAuthority)
		if len(reply.Ns) == 0 {
			reply.Rcode = dns.RcodeRefused
		}
	}

	d.Log.WithFields(logrus.Fields{
		"qname":   q.Name,
		"qtype":   dns.TypeToString[q.Qtype],
		"client":  client,
		"rcode":   dns.RcodeToString[reply.Rcode],
		"answers": len(reply.Answer),
	}).Info("DNS query")

	out, err := reply.Pack()
	if err != nil {
		d.Log.WithError(err).Error("failed to pack reply")
		return nil
	}
	return out
}

// ascendAuthority walks from name up to the root, looking for a zone
// that answers a query of qtype into section, stopping at the first
// success. It never fails the request on absence of authority.
func (d *Dispatcher) ascendAuthority(name string, state *RequestState, qtype uint16, section Section) {
	cur := name
	for {
		if d.handleZone(cur, qtype, state, section) == zoneFound {
			return
		}
		if cur == "." {
			return
		}
		cur = parentOf(cur)
	}
}

// handleZone resolves name against the zone table and dispatches to
// the static or geo-dist handler, guarding against recursion cycles.
func (d *Dispatcher) handleZone(name string, qtype uint16, state *RequestState, section Section) zoneResult {
	if !state.visit(name, qtype) {
		return zoneCycle
	}

	zone, ok := d.Zones.Get(name)
	if !ok {
		return zoneNotFound
	}

	switch zone.Type {
	case model.ZoneStatic:
		return d.handleStatic(zone, name, qtype, state, section)
	case model.ZoneGeoDist:
		return d.handleGeoDist(zone, name, qtype, state, section)
	default:
		return zoneNotFound
	}
}

// handleStatic answers name from a static zone's rr list.
func (d *Dispatcher) handleStatic(zone model.Zone, name string, qtype uint16, state *RequestState, section Section) zoneResult {
	ttl := zone.EffectiveTTL()
	matched := false

	for _, rec := range zone.RR {
		if !staticTypeMatches(rec.Type, qtype) {
			continue
		}

		rr, err := buildRR(name, ttl, rec)
		if err != nil {
			d.Log.WithError(err).WithField("zone", name).Warn("skipping unsupported or malformed record")
			continue
		}

		if state.addRecord(section, rr) {
			matched = true
		}

		if wantsAdditional(qtype) {
			d.checkAdditional(rr, rec.Type, qtype, state, section)
		}
	}

	if matched {
		return zoneFound
	}
	return zoneNotFound
}

// checkAdditional recurses into MX/CNAME/NS targets. An NS target's
// A/AAAA records go to the additional section; CNAME and MX targets
// are resolved into the caller's section.
func (d *Dispatcher) checkAdditional(rr dns.RR, recType model.RRType, qtype uint16, state *RequestState, section Section) {
	var target string
	switch recType {
	case model.RRTypeNS:
		target = rr.(*dns.NS).Ns
	case model.RRTypeCNAME:
		target = rr.(*dns.CNAME).Target
	case model.RRTypeMX:
		target = rr.(*dns.MX).Mx
	default:
		return
	}

	if recType == model.RRTypeNS {
		d.handleZone(target, dns.TypeA, state, SectionAdditional)
		d.handleZone(target, dns.TypeAAAA, state, SectionAdditional)
		return
	}

	if qtype == dns.TypeANY {
		d.handleZone(target, dns.TypeA, state, section)
		d.handleZone(target, dns.TypeAAAA, state, section)
		return
	}
	d.handleZone(target, qtype, state, section)
}

// handleGeoDist answers name by selecting the nearest server(s) from
// the zone's server set, falling back to its static rr (if any) on
// any failure.
func (d *Dispatcher) handleGeoDist(zone model.Zone, name string, qtype uint16, state *RequestState, section Section) zoneResult {
	if qtype != dns.TypeA && qtype != dns.TypeAAAA && qtype != dns.TypeANY {
		return zoneNotFound
	}

	set, setName, ok := d.Servers.Resolve(zone.Servers)
	if !ok {
		if len(zone.RR) > 0 {
			return d.handleStatic(zone, name, qtype, state, section)
		}
		return zoneNotFound
	}

	clientHost := clientHostFromAddr(state.Client)
	key := geocache.NewKey(clientHost, setName, zone.Params)

	selected, ok := d.Cache.Get(key)
	if !ok {
		selected, ok = d.Geo.FindClosestServer(set, clientHost, zone.Params)
		if ok {
			ttl := time.Duration(zone.EffectiveGeoCacheTTL()) * time.Second
			d.Cache.Set(key, selected, ttl)
		}
	}

	if len(selected) == 0 {
		if len(zone.RR) > 0 {
			return d.handleStatic(zone, name, qtype, state, section)
		}
		return zoneNotFound
	}

	ttl := zone.EffectiveTTL()
	matched := false

	for _, srv := range selected {
		if qtype == dns.TypeA || qtype == dns.TypeANY {
			for _, addr := range srv.IPv4 {
				rr, err := buildA(name, ttl, addr)
				if err != nil {
					d.Log.WithError(err).WithField("server", srv.Name).Warn("skipping malformed ipv4 address")
					continue
				}
				if state.addRecord(section, rr) {
					matched = true
				}
			}
		}
		if qtype == dns.TypeAAAA || qtype == dns.TypeANY {
			for _, addr := range srv.IPv6 {
				rr, err := buildAAAA(name, ttl, addr)
				if err != nil {
					d.Log.WithError(err).WithField("server", srv.Name).Warn("skipping malformed ipv6 address")
					continue
				}
				if state.addRecord(section, rr) {
					matched = true
				}
			}
		}
	}

	if zone.Debug && qtype == dns.TypeANY {
		for _, srv := range selected {
			state.addRecord(section, buildTXT(name, ttl, fmt.Sprintf("name: %s", srv.Name)))
			state.addRecord(section, buildTXT(name, ttl, fmt.Sprintf("city: %s", srv.City)))
			matched = true
		}
	}

	if matched {
		return zoneFound
	}
	return zoneNotFound
}

