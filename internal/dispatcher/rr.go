package dispatcher

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/flirble-lb/flirble-dns-server/internal/model"
)

// buildRR constructs the wire RR for a zone's ResourceRecord entry,
// mapping its fields per record type.
func buildRR(name string, ttl uint32, rec model.ResourceRecord) (dns.RR, error) {
	rtype, ok := dns.StringToType[string(rec.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported RR type %q", rec.Type)
	}
	hdr := dns.RR_Header{Name: dns.Fqdn(name), Rrtype: rtype, Class: dns.ClassINET, Ttl: ttl}

	switch rec.Type {
	case model.RRTypeSOA:
		if rec.Times == nil {
			return nil, fmt.Errorf("SOA record missing times")
		}
		return &dns.SOA{
			Hdr:     hdr,
			Ns:      dns.Fqdn(rec.MName),
			Mbox:    dns.Fqdn(rec.RName),
			Serial:  rec.Times.Serial,
			Refresh: rec.Times.Refresh,
			Retry:   rec.Times.Retry,
			Expire:  rec.Times.Expire,
			Minttl:  rec.Times.Minimum,
		}, nil

	case model.RRTypeMX:
		return &dns.MX{Hdr: hdr, Mx: dns.Fqdn(rec.Value), Preference: rec.Pref}, nil

	case model.RRTypeA:
		ip := net.ParseIP(rec.Value).To4()
		if ip == nil {
			return nil, fmt.Errorf("invalid A address %q", rec.Value)
		}
		return &dns.A{Hdr: hdr, A: ip}, nil

	case model.RRTypeAAAA:
		ip := net.ParseIP(rec.Value)
		if ip == nil {
			return nil, fmt.Errorf("invalid AAAA address %q", rec.Value)
		}
		return &dns.AAAA{Hdr: hdr, AAAA: ip}, nil

	case model.RRTypeNS:
		return &dns.NS{Hdr: hdr, Ns: dns.Fqdn(rec.Value)}, nil

	case model.RRTypeCNAME:
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(rec.Value)}, nil

	case model.RRTypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: []string{rec.Value}}, nil

	case model.RRTypePTR:
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(rec.Value)}, nil
	}

	return nil, fmt.Errorf("unsupported RR type %q", rec.Type)
}

func buildA(name string, ttl uint32, addr string) (dns.RR, error) {
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return nil, fmt.Errorf("invalid A address %q", addr)
	}
	return &dns.A{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl}, A: ip}, nil
}

func buildAAAA(name string, ttl uint32, addr string) (dns.RR, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() != nil {
		return nil, fmt.Errorf("invalid AAAA address %q", addr)
	}
	return &dns.AAAA{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl}, AAAA: ip}, nil
}

func buildTXT(name string, ttl uint32, text string) dns.RR {
	return &dns.TXT{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl}, Txt: []string{text}}
}

// staticTypeMatches reports whether a zone.rr entry of recType should
// be emitted for a query of qtype: an exact type match, ANY, or a
// CNAME record answering an A/AAAA query.
func staticTypeMatches(recType model.RRType, qtype uint16) bool {
	if qtype == dns.TypeANY {
		return true
	}
	if wire, ok := dns.StringToType[string(recType)]; ok && wire == qtype {
		return true
	}
	if recType == model.RRTypeCNAME && (qtype == dns.TypeA || qtype == dns.TypeAAAA) {
		return true
	}
	return false
}

// wantsAdditional reports whether qtype is one of the types for which
// checkAdditional is invoked after a static match.
func wantsAdditional(qtype uint16) bool {
	switch qtype {
	case dns.TypeA, dns.TypeAAAA, dns.TypeNS, dns.TypeANY:
		return true
	default:
		return false
	}
}

// rdataKey renders the rdata portion of rr as a string, used for
// per-request duplicate suppression.
func rdataKey(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return "A:" + v.A.String()
	case *dns.AAAA:
		return "AAAA:" + v.AAAA.String()
	case *dns.CNAME:
		return "CNAME:" + v.Target
	case *dns.NS:
		return "NS:" + v.Ns
	case *dns.MX:
		return fmt.Sprintf("MX:%d:%s", v.Preference, v.Mx)
	case *dns.TXT:
		return "TXT:" + strings.Join(v.Txt, "\x00")
	case *dns.PTR:
		return "PTR:" + v.Ptr
	case *dns.SOA:
		return fmt.Sprintf("SOA:%s:%s:%d", v.Ns, v.Mbox, v.Serial)
	default:
		return rr.String()
	}
}

// clientHostFromAddr derives the bare client address string for geo
// selection, stripping a "::ffff:" IPv4-mapped prefix if present.
func clientHostFromAddr(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return strings.TrimPrefix(host, "::ffff:")
}

// parentOf returns the immediate parent domain of name by dropping
// its leftmost label, terminating at the root label ".".
func parentOf(name string) string {
	if name == "." || name == "" {
		return "."
	}
	labels := dns.SplitDomainName(name)
	if len(labels) <= 1 {
		return "."
	}
	return dns.Fqdn(strings.Join(labels[1:], "."))
}
