package dispatcher

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flirble-lb/flirble-dns-server/internal/geo"
	"github.com/flirble-lb/flirble-dns-server/internal/geocache"
	"github.com/flirble-lb/flirble-dns-server/internal/model"
	"github.com/flirble-lb/flirble-dns-server/internal/servertable"
	"github.com/flirble-lb/flirble-dns-server/internal/zonetable"
)

func ttlPtr(v uint32) *uint32 { return &v }

func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	raw, err := m.Pack()
	require.NoError(t, err)
	return raw
}

func unpack(t *testing.T, raw []byte) *dns.Msg {
	t.Helper()
	require.NotNil(t, raw)
	m := new(dns.Msg)
	require.NoError(t, m.Unpack(raw))
	return m
}

func newDispatcher(g *geo.Geo) (*Dispatcher, *zonetable.Table, *servertable.Table) {
	zones := zonetable.New()
	servers := servertable.New()
	cache := geocache.New()
	return New(zones, servers, g, cache, nil), zones, servers
}

// Scenario A: static zone answers A with configured ttl, NOERROR/aa=1/ra=0.
func TestHandle_StaticZone(t *testing.T) {
	d, zones, _ := newDispatcher(nil)
	zones.Set("example.", model.Zone{
		Type: model.ZoneStatic,
		TTL:  ttlPtr(60),
		RR:   []model.ResourceRecord{{Type: model.RRTypeA, Value: "10.0.0.1"}},
	})

	raw := packQuery(t, "example.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "198.51.100.9:5353"))

	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	assert.True(t, reply.Authoritative)
	assert.False(t, reply.RecursionAvailable)
	require.Len(t, reply.Answer, 1)
	a := reply.Answer[0].(*dns.A)
	assert.Equal(t, "10.0.0.1", a.A.String())
	assert.Equal(t, uint32(60), a.Hdr.Ttl)
}

// Scenario B: unknown zone is REFUSED with no answers.
func TestHandle_UnknownZone_Refused(t *testing.T) {
	d, _, _ := newDispatcher(nil)

	raw := packQuery(t, "missing.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "198.51.100.9:5353"))

	assert.Equal(t, dns.RcodeRefused, reply.Rcode)
	assert.Empty(t, reply.Answer)
}

func geoZoneFixture() (model.Zone, model.ServerSet) {
	set := model.ServerSet{
		{Name: "s1", Lat: 0, Lon: 0, IPv4: model.AddressList{"1.1.1.1"}, TS: -1},
		{Name: "s2", Lat: 0, Lon: 90, IPv4: model.AddressList{"2.2.2.2"}, TS: -1},
	}
	zone := model.Zone{Type: model.ZoneGeoDist, Servers: "pool"}
	return zone, set
}

// Scenario C: client near S2 gets S2.
func TestHandle_GeoDist_PicksNearServer(t *testing.T) {
	zone, set := geoZoneFixture()
	g := geo.NewWithLookup(func(ip net.IP) (float64, float64, bool) {
		return 0, 85, true
	})
	d, zones, servers := newDispatcher(g)
	zones.Set("g.", zone)
	servers.Set("pool", set)

	raw := packQuery(t, "g.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "203.0.113.4:5353"))

	require.Len(t, reply.Answer, 1)
	assert.Equal(t, "2.2.2.2", reply.Answer[0].(*dns.A).A.String())
}

// Scenario D: client near S1 gets S1.
func TestHandle_GeoDist_PicksOtherNearServer(t *testing.T) {
	zone, set := geoZoneFixture()
	g := geo.NewWithLookup(func(ip net.IP) (float64, float64, bool) {
		return 0, 0, true
	})
	d, zones, servers := newDispatcher(g)
	zones.Set("g.", zone)
	servers.Set("pool", set)

	raw := packQuery(t, "g.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "203.0.113.4:5353"))

	require.Len(t, reply.Answer, 1)
	assert.Equal(t, "1.1.1.1", reply.Answer[0].(*dns.A).A.String())
}

// Scenario E: two tied servers with maxreplies=2 both come back.
func TestHandle_GeoDist_TiedMaxRepliesTwo(t *testing.T) {
	mr := 2
	set := model.ServerSet{
		{Name: "s1", Lat: 0, Lon: 10, IPv4: model.AddressList{"1.1.1.1"}, TS: -1},
		{Name: "s2", Lat: 0, Lon: -10, IPv4: model.AddressList{"2.2.2.2"}, TS: -1},
	}
	zone := model.Zone{
		Type:    model.ZoneGeoDist,
		Servers: "pool",
		Params:  model.SelectParams{MaxReplies: &mr},
	}
	g := geo.NewWithLookup(func(ip net.IP) (float64, float64, bool) {
		return 0, 0, true
	})
	d, zones, servers := newDispatcher(g)
	zones.Set("g.", zone)
	servers.Set("pool", set)

	raw := packQuery(t, "g.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "198.51.100.9:5353"))

	require.Len(t, reply.Answer, 2)
}

// Scenario F: CNAME chained to an A record, both in the answer section.
func TestHandle_CNAMEChain(t *testing.T) {
	d, zones, _ := newDispatcher(nil)
	zones.Set("x.", model.Zone{
		Type: model.ZoneStatic,
		TTL:  ttlPtr(300),
		RR:   []model.ResourceRecord{{Type: model.RRTypeCNAME, Value: "y."}},
	})
	zones.Set("y.", model.Zone{
		Type: model.ZoneStatic,
		TTL:  ttlPtr(300),
		RR:   []model.ResourceRecord{{Type: model.RRTypeA, Value: "9.9.9.9"}},
	})

	raw := packQuery(t, "x.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "198.51.100.9:5353"))

	assert.True(t, reply.Authoritative)
	require.Len(t, reply.Answer, 2)
	_, isCNAME := reply.Answer[0].(*dns.CNAME)
	assert.True(t, isCNAME)
	_, isA := reply.Answer[1].(*dns.A)
	assert.True(t, isA)
}

// Invariant 5: a CNAME loop terminates, answering with the records reached
// before the repeated (name, type), not a hang.
func TestHandle_RecursionGuard_StopsCycle(t *testing.T) {
	d, zones, _ := newDispatcher(nil)
	zones.Set("a.example.", model.Zone{
		Type: model.ZoneStatic,
		RR:   []model.ResourceRecord{{Type: model.RRTypeCNAME, Value: "b.example."}},
	})
	zones.Set("b.example.", model.Zone{
		Type: model.ZoneStatic,
		RR:   []model.ResourceRecord{{Type: model.RRTypeCNAME, Value: "a.example."}},
	})

	raw := packQuery(t, "a.example.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "198.51.100.9:5353"))

	require.Len(t, reply.Answer, 2)
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
}

// Invariant 6: the same rdata reachable by two paths is only emitted once.
func TestHandle_DuplicateSuppression(t *testing.T) {
	d, zones, _ := newDispatcher(nil)
	zones.Set("dup.", model.Zone{
		Type: model.ZoneStatic,
		TTL:  ttlPtr(60),
		RR: []model.ResourceRecord{
			{Type: model.RRTypeA, Value: "10.0.0.1"},
			{Type: model.RRTypeA, Value: "10.0.0.1"},
		},
	})

	raw := packQuery(t, "dup.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "198.51.100.9:5353"))

	require.Len(t, reply.Answer, 1)
}

// Invariant 7: a geo-dist zone with no Geo instance falls back to static rr.
func TestHandle_GeoDist_FallsBackToStaticRR(t *testing.T) {
	d, zones, servers := newDispatcher(nil)
	zones.Set("g.", model.Zone{
		Type:    model.ZoneGeoDist,
		Servers: "pool",
		TTL:     ttlPtr(120),
		RR:      []model.ResourceRecord{{Type: model.RRTypeA, Value: "10.10.10.10"}},
	})
	servers.Set("pool", model.ServerSet{{Name: "s1", Lat: 0, Lon: 0, IPv4: model.AddressList{"1.1.1.1"}, TS: -1}})

	raw := packQuery(t, "g.", dns.TypeA)
	reply := unpack(t, d.Handle(raw, "198.51.100.9:5353"))

	require.Len(t, reply.Answer, 1)
	assert.Equal(t, "10.10.10.10", reply.Answer[0].(*dns.A).A.String())
}

func TestHandle_MalformedPacket_DropsSilently(t *testing.T) {
	d, _, _ := newDispatcher(nil)
	out := d.Handle([]byte{0x00, 0x01, 0x02}, "198.51.100.9:5353")
	assert.Nil(t, out)
}
