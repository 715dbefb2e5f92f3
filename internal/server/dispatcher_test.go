package server

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
	"github.com/jroosing/dnsd/internal/provider"
)

type stubProvider struct {
	zones []name.Name
	delay time.Duration
	fail  bool
}

func (s *stubProvider) Zones(_ netip.Addr) []name.Name { return s.zones }

func (s *stubProvider) Response(ctx context.Context, req dns.Packet, _ netip.Addr) (dns.Packet, bool) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	if s.fail {
		return dns.Packet{}, false
	}
	return dns.Packet{
		Header:    dns.Header{ID: req.Header.ID, Flags: dns.QRFlag | dns.AAFlag, QDCount: 1, ANCount: 1},
		Questions: req.Questions,
		Answers: []dns.Record{
			{Name: req.Questions[0].Name, Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN), TTL: 60, Data: []byte{192, 0, 2, 1}},
		},
	}, true
}

func (s *stubProvider) Filters() []provider.Filter { return nil }

func buildQuery(t *testing.T, qname string, qtype dns.RecordType, flags uint16) []byte {
	t.Helper()
	p := dns.Packet{
		Header:    dns.Header{ID: 1234, Flags: flags, QDCount: 1},
		Questions: []dns.Question{{Name: qname, Type: uint16(qtype), Class: uint16(dns.ClassIN)}},
	}
	b, err := p.Marshal()
	require.NoError(t, err)
	return b
}

func registryWith(t *testing.T, p provider.Provider) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry()
	require.NoError(t, r.Register(p))
	return r
}

func TestDispatcherHandleSuccess(t *testing.T) {
	reg := registryWith(t, &stubProvider{zones: []name.Name{name.MustParse("example.com")}})
	d := &Dispatcher{Registry: reg, Deadline: time.Second}

	req := buildQuery(t, "example.com", dns.TypeA, dns.RDFlag)
	result := d.Handle(context.Background(), "udp", "192.0.2.9:1", req)

	assert.True(t, result.ParsedOK)
	assert.Equal(t, "provider", result.Source)
	require.NotEmpty(t, result.ResponseBytes)
	resp, err := dns.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(resp.Header.Flags))
}

func TestDispatcherHandleParseError(t *testing.T) {
	reg := provider.NewRegistry()
	d := &Dispatcher{Registry: reg}

	result := d.Handle(context.Background(), "udp", "192.0.2.9:1", []byte{0x00, 0x01})
	assert.False(t, result.ParsedOK)
}

func TestDispatcherFormErrOnNoQuestion(t *testing.T) {
	reg := provider.NewRegistry()
	d := &Dispatcher{Registry: reg}

	p := dns.Packet{Header: dns.Header{ID: 1, Flags: dns.RDFlag, QDCount: 0}}
	b, err := p.Marshal()
	require.NoError(t, err)

	result := d.Handle(context.Background(), "udp", "x", b)
	resp, err := dns.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeFormErr, dns.RCodeFromFlags(resp.Header.Flags))
}

func TestDispatcherNotImpOnNonQueryOpcode(t *testing.T) {
	reg := registryWith(t, &stubProvider{zones: []name.Name{name.MustParse("example.com")}})
	d := &Dispatcher{Registry: reg}

	iqueryFlags := uint16(1) << 11 // opcode 1 = IQUERY
	req := buildQuery(t, "example.com", dns.TypeA, iqueryFlags)
	result := d.Handle(context.Background(), "udp", "x", req)

	resp, err := dns.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeNotImp, dns.RCodeFromFlags(resp.Header.Flags))
}

func TestDispatcherNXDomainOnNoZoneMatch(t *testing.T) {
	reg := registryWith(t, &stubProvider{zones: []name.Name{name.MustParse("example.com")}})
	d := &Dispatcher{Registry: reg}

	req := buildQuery(t, "other.org", dns.TypeA, dns.RDFlag)
	result := d.Handle(context.Background(), "udp", "x", req)

	resp, err := dns.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeNXDomain, dns.RCodeFromFlags(resp.Header.Flags))
}

func TestDispatcherServFailOnProviderFailure(t *testing.T) {
	reg := registryWith(t, &stubProvider{zones: []name.Name{name.MustParse("example.com")}, fail: true})
	d := &Dispatcher{Registry: reg}

	req := buildQuery(t, "example.com", dns.TypeA, dns.RDFlag)
	result := d.Handle(context.Background(), "udp", "x", req)

	resp, err := dns.ParsePacket(result.ResponseBytes)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeServFail, dns.RCodeFromFlags(resp.Header.Flags))
}

func TestDispatcherRecordsStats(t *testing.T) {
	reg := registryWith(t, &stubProvider{zones: []name.Name{name.MustParse("example.com")}})
	stats := NewDNSStats()
	d := &Dispatcher{Registry: reg, Stats: stats}

	req := buildQuery(t, "example.com", dns.TypeA, dns.RDFlag)
	d.Handle(context.Background(), "udp", "x", req)
	d.Handle(context.Background(), "tcp", "x", req)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(2), snap.QueriesTotal)
	assert.Equal(t, uint64(1), snap.QueriesUDP)
	assert.Equal(t, uint64(1), snap.QueriesTCP)
}

func TestDispatcherTimeout(t *testing.T) {
	reg := registryWith(t, &stubProvider{zones: []name.Name{name.MustParse("example.com")}, delay: 200 * time.Millisecond})
	d := &Dispatcher{Registry: reg, Deadline: 20 * time.Millisecond}

	req := buildQuery(t, "example.com", dns.TypeA, dns.RDFlag)
	result := d.Handle(context.Background(), "udp", "x", req)
	assert.Equal(t, "timeout", result.Source)
	assert.Empty(t, result.ResponseBytes)
}

func TestDispatcherShutdown(t *testing.T) {
	reg := registryWith(t, &stubProvider{zones: []name.Name{name.MustParse("example.com")}, delay: 200 * time.Millisecond})
	d := &Dispatcher{Registry: reg, Deadline: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := buildQuery(t, "example.com", dns.TypeA, dns.RDFlag)
	result := d.Handle(ctx, "udp", "x", req)
	assert.Equal(t, "shutdown", result.Source)
	assert.Empty(t, result.ResponseBytes)
}

func TestExtractQuestionInfo(t *testing.T) {
	qname, qtype := extractQuestionInfo(dns.Packet{
		Questions: []dns.Question{{Name: "test.example.com", Type: uint16(dns.TypeAAAA)}},
	})
	assert.Equal(t, "test.example.com", qname)
	assert.Equal(t, int(dns.TypeAAAA), qtype)

	qname, qtype = extractQuestionInfo(dns.Packet{})
	assert.Equal(t, "<no-question>", qname)
	assert.Equal(t, -1, qtype)
}
