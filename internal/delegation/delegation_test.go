package delegation

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
)

func TestFilterRewritesToReferral(t *testing.T) {
	zone := name.MustParse("sub.example.com")
	ns1 := name.MustParse("ns1.sub.example.com")
	ns2 := name.MustParse("ns2.sub.example.com")
	glue := map[string][]netip.Addr{
		"ns1.sub.example.com": {netip.MustParseAddr("192.0.2.1")},
		"ns2.sub.example.com": {netip.MustParseAddr("2001:db8::2")},
	}
	f := New(zone, []name.Name{ns1, ns2}, glue, 3600)

	req := dns.Packet{
		Header:    dns.Header{ID: 1, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: "host.sub.example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN)}},
	}
	original := dns.Packet{
		Header:      dns.Header{ID: 1, Flags: dns.QRFlag | dns.AAFlag},
		Questions:   req.Questions,
		Authorities: []dns.Record{{Name: "sub.example.com", Type: uint16(dns.TypeSOA)}},
	}

	resp := f.Filter(req, original)

	require.Len(t, resp.Answers, 2)
	for _, rr := range resp.Answers {
		assert.Equal(t, uint16(dns.TypeNS), rr.Type)
		assert.Equal(t, "sub.example.com.", rr.Name)
	}
	require.Len(t, resp.Additionals, 2)
	assert.Empty(t, resp.Authorities)
	assert.Zero(t, resp.Header.Flags&dns.AAFlag)
	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(resp.Header.Flags))
}

func TestFilterLeavesUnrelatedQuestionsAlone(t *testing.T) {
	zone := name.MustParse("sub.example.com")
	f := New(zone, nil, nil, 3600)

	req := dns.Packet{Questions: []dns.Question{{Name: "other.example.com", Type: uint16(dns.TypeA)}}}
	original := dns.Packet{Header: dns.Header{ID: 9}, Authorities: []dns.Record{{Name: "example.com"}}}

	resp := f.Filter(req, original)
	assert.Equal(t, original, resp)
}

func TestFilterIdempotent(t *testing.T) {
	zone := name.MustParse("sub.example.com")
	ns1 := name.MustParse("ns1.sub.example.com")
	f := New(zone, []name.Name{ns1}, map[string][]netip.Addr{"ns1.sub.example.com": {netip.MustParseAddr("192.0.2.1")}}, 60)

	req := dns.Packet{
		Header:    dns.Header{ID: 5},
		Questions: []dns.Question{{Name: "host.sub.example.com", Type: uint16(dns.TypeA)}},
	}
	once := f.Filter(req, dns.Packet{})
	twice := f.Filter(req, once)
	assert.Equal(t, once, twice)
}

func TestGlueDistinguishesIPv4AndIPv6(t *testing.T) {
	zone := name.MustParse("sub.example.com")
	ns1 := name.MustParse("ns1.sub.example.com")
	glue := map[string][]netip.Addr{"ns1.sub.example.com": {netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("2001:db8::1")}}
	f := New(zone, []name.Name{ns1}, glue, 60)

	req := dns.Packet{Questions: []dns.Question{{Name: "host.sub.example.com"}}}
	resp := f.Filter(req, dns.Packet{})

	require.Len(t, resp.Additionals, 2)
	types := map[uint16]bool{}
	for _, rr := range resp.Additionals {
		types[rr.Type] = true
	}
	assert.True(t, types[uint16(dns.TypeA)])
	assert.True(t, types[uint16(dns.TypeAAAA)])
}
