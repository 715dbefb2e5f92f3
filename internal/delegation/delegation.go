// Package delegation implements a provider.Filter that rewrites an
// authoritative response into an NS+glue referral for a delegated
// sub-zone, the way a parent zone refers a resolver to a child zone's
// own nameservers instead of answering for it directly.
package delegation

import (
	"net/netip"
	"strings"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
)

// Filter rewrites any response whose question falls under Zone into a
// referral: the answer section carries Zone's NS RRset, the
// additional section carries A/AAAA glue for each nameserver that has
// a configured address, the authority section is emptied, and the AA
// bit is cleared since the server is no longer claiming authority for
// the answer.
//
// Filter ignores the response it is given entirely and synthesizes
// the referral from the request and its own configuration, which
// makes it trivially idempotent: applying it twice yields the same
// output as applying it once.
type Filter struct {
	zone        name.Name
	nameservers []name.Name
	glue        map[string][]netip.Addr // lowercase nameserver name -> addresses
	ttl         uint32
}

// New builds a delegation Filter. glue keys are matched against
// nameserver names case-insensitively; a nameserver with no glue entry
// is still listed in the NS RRset, just without an address in the
// additional section (the resolver will have to look it up itself).
func New(zone name.Name, nameservers []name.Name, glue map[string][]netip.Addr, ttl uint32) *Filter {
	normalized := make(map[string][]netip.Addr, len(glue))
	for k, v := range glue {
		if n, err := name.Parse(k); err == nil {
			normalized[strings.ToLower(n.String())] = v
		}
	}
	return &Filter{zone: zone, nameservers: nameservers, glue: normalized, ttl: ttl}
}

// Zone implements provider.Filter.
func (f *Filter) Zone() name.Name {
	return f.zone
}

// Filter implements provider.Filter.
func (f *Filter) Filter(req dns.Packet, resp dns.Packet) dns.Packet {
	if len(req.Questions) == 0 {
		return resp
	}
	qname, err := name.Parse(req.Questions[0].Name)
	if err != nil || !qname.IsSubdomain(f.zone) {
		return resp
	}

	answers := make([]dns.Record, 0, len(f.nameservers))
	additionals := make([]dns.Record, 0)
	for _, ns := range f.nameservers {
		answers = append(answers, dns.Record{
			Name:  f.zone.String(),
			Type:  uint16(dns.TypeNS),
			Class: uint16(dns.ClassIN),
			TTL:   f.ttl,
			Data:  ns.String(),
		})
		for _, addr := range f.glue[strings.ToLower(ns.String())] {
			additionals = append(additionals, glueRecord(ns, addr, f.ttl))
		}
	}

	flags := resp.Header.Flags &^ (dns.AAFlag | dns.RCodeMask)
	flags |= uint16(dns.RCodeNoError)

	return dns.Packet{
		Header: dns.Header{
			ID:      resp.Header.ID,
			Flags:   flags,
			QDCount: uint16(len(req.Questions)),
			ANCount: uint16(len(answers)),
			ARCount: uint16(len(additionals)),
		},
		Questions:   req.Questions,
		Answers:     answers,
		Additionals: additionals,
	}
}

// glueRecord builds an A or AAAA record for ns depending on whether
// addr holds an IPv4 or IPv6 address.
func glueRecord(ns name.Name, addr netip.Addr, ttl uint32) dns.Record {
	if addr.Is4() || addr.Is4In6() {
		a4 := addr.As4()
		return dns.Record{Name: ns.String(), Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN), TTL: ttl, Data: a4[:]}
	}
	a16 := addr.As16()
	return dns.Record{Name: ns.String(), Type: uint16(dns.TypeAAAA), Class: uint16(dns.ClassIN), TTL: ttl, Data: a16[:]}
}
