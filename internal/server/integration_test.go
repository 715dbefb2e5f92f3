package server

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/dnsd/internal/delegation"
	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
	"github.com/jroosing/dnsd/internal/provider"
	"github.com/jroosing/dnsd/internal/reverseipv6"
	"github.com/jroosing/dnsd/internal/zonefile"
)

const testZoneText = `$ORIGIN example.test.
$TTL 3600
@    IN SOA ns1.example.test. admin.example.test. 2024010101 3600 600 604800 60
@    IN NS  ns1.example.test.
www  IN A   10.0.0.1
`

// testRegistry wires a ZoneFileProvider (with a delegation filter for
// sub.example.test) and a ReverseIPv6Provider, the full provider set
// the dispatcher is expected to arbitrate between.
func testRegistry(t *testing.T) *provider.Registry {
	t.Helper()

	z, err := zonefile.ParseText(testZoneText)
	require.NoError(t, err, "zone parse failed")

	delegated := delegation.New(
		name.MustParse("sub.example.test"),
		[]name.Name{name.MustParse("ns1.sub.example.test")},
		map[string][]netip.Addr{"ns1.sub.example.test": {netip.MustParseAddr("192.0.2.1")}},
		300,
	)
	zp := zonefile.NewZoneFileProviderFromZones([]*zonefile.Zone{z}, delegated)

	rp, err := reverseipv6.New(reverseipv6.Config{
		ForwardZone: name.MustParse("v6.example.test"),
		Prefix:      netip.MustParsePrefix("2001:db8::/32"),
		Nameservers: []name.Name{name.MustParse("ns1.example.test")},
		SOA: reverseipv6.SOAParams{
			MName:   "ns1.example.test",
			RName:   "admin.example.test",
			Serial:  2024010101,
			Refresh: 3600,
			Retry:   600,
			Expire:  604800,
			Minimum: 60,
		},
		TTL: 300,
	})
	require.NoError(t, err, "reverseipv6 provider failed")

	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(zp))
	require.NoError(t, reg.Register(rp))
	return reg
}

func startUDP(t *testing.T, d *Dispatcher) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err, "listen udp failed")
	addr := conn.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &UDPServer{Handler: d, WorkersPerSocket: 8}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.RunOnConn(ctx, conn) }()
	t.Cleanup(func() {
		_ = srv.Stop(2 * time.Second)
		cancel()
		<-errCh
	})
	return addr
}

func exchangeUDP(t *testing.T, addr *net.UDPAddr, req dns.Packet) dns.Packet {
	t.Helper()

	client, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err, "dial udp failed")
	defer client.Close()

	b, err := req.Marshal()
	require.NoError(t, err, "marshal failed")

	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Write(b)
	require.NoError(t, err, "write failed")

	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	require.NoError(t, err, "read failed")

	resp, err := dns.ParsePacket(buf[:n])
	require.NoError(t, err, "parse failed")
	return resp
}

func query(id uint16, qname string, qtype dns.RecordType) dns.Packet {
	return dns.Packet{
		Header:    dns.Header{ID: id, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: qname, Type: uint16(qtype), Class: uint16(dns.ClassIN)}},
	}
}

func TestUDPServer_ZoneAnswer(t *testing.T) {
	d := &Dispatcher{Registry: testRegistry(t), Deadline: 2 * time.Second}
	addr := startUDP(t, d)

	resp := exchangeUDP(t, addr, query(0xABCD, "www.example.test", dns.TypeA))

	assert.Equal(t, uint16(0xABCD), resp.Header.ID, "transaction ID mismatch")
	assert.NotZero(t, resp.Header.Flags&dns.QRFlag, "expected QR=1")
	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(resp.Header.Flags), "expected NOERROR rcode")
	require.Len(t, resp.Answers, 1, "expected 1 answer")
	assert.Equal(t, dns.TypeA, dns.RecordType(resp.Answers[0].Type), "expected A record")
	assert.Equal(t, []byte{10, 0, 0, 1}, resp.Answers[0].Data)
	require.Len(t, resp.Questions, 1)
	assert.Equal(t, "www.example.test", resp.Questions[0].Name, "question echo")
}

func TestUDPServer_NXDomainCarriesSOA(t *testing.T) {
	d := &Dispatcher{Registry: testRegistry(t), Deadline: 2 * time.Second}
	addr := startUDP(t, d)

	resp := exchangeUDP(t, addr, query(2, "missing.example.test", dns.TypeA))

	assert.Equal(t, dns.RCodeNXDomain, dns.RCodeFromFlags(resp.Header.Flags))
	require.Len(t, resp.Authorities, 1, "expected SOA in authority")
	assert.Equal(t, dns.TypeSOA, dns.RecordType(resp.Authorities[0].Type))
	assert.Equal(t, "example.test", resp.Authorities[0].Name)
	assert.Equal(t, uint32(60), resp.Authorities[0].TTL, "negative TTL is the SOA minimum")
}

func TestUDPServer_ForwardAAAA(t *testing.T) {
	d := &Dispatcher{Registry: testRegistry(t), Deadline: 2 * time.Second}
	addr := startUDP(t, d)

	resp := exchangeUDP(t, addr, query(3, "2001-0db8-0000-0000-0000-0000-0000-0001.v6.example.test", dns.TypeAAAA))

	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(resp.Header.Flags))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, dns.TypeAAAA, dns.RecordType(resp.Answers[0].Type))
	want := netip.MustParseAddr("2001:db8::1").As16()
	assert.Equal(t, want[:], resp.Answers[0].Data)
}

func TestUDPServer_ReversePTRRoundTrip(t *testing.T) {
	d := &Dispatcher{Registry: testRegistry(t), Deadline: 2 * time.Second}
	addr := startUDP(t, d)

	a16 := netip.MustParseAddr("2001:db8::1").As16()
	ptrName := name.ReverseIP6Arpa(a16)

	resp := exchangeUDP(t, addr, query(4, ptrName.String(), dns.TypePTR))
	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(resp.Header.Flags))
	require.Len(t, resp.Answers, 1)
	target := resp.Answers[0].Data.(string)

	// The PTR target must resolve back to the original address.
	back := exchangeUDP(t, addr, query(5, target, dns.TypeAAAA))
	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(back.Header.Flags))
	require.Len(t, back.Answers, 1)
	assert.Equal(t, a16[:], back.Answers[0].Data)
}

func TestUDPServer_DelegationReferral(t *testing.T) {
	d := &Dispatcher{Registry: testRegistry(t), Deadline: 2 * time.Second}
	addr := startUDP(t, d)

	resp := exchangeUDP(t, addr, query(6, "x.sub.example.test", dns.TypeA))

	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(resp.Header.Flags))
	assert.Zero(t, resp.Header.Flags&dns.AAFlag, "referral must not claim authority")
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, dns.TypeNS, dns.RecordType(resp.Answers[0].Type))
	assert.Equal(t, "sub.example.test", resp.Answers[0].Name)
	require.Len(t, resp.Additionals, 1, "expected glue")
	assert.Equal(t, dns.TypeA, dns.RecordType(resp.Additionals[0].Type))
	assert.Equal(t, []byte{192, 0, 2, 1}, resp.Additionals[0].Data)
}

func TestUDPServer_RefusesNonINClass(t *testing.T) {
	d := &Dispatcher{Registry: testRegistry(t), Deadline: 2 * time.Second}
	addr := startUDP(t, d)

	req := dns.Packet{
		Header:    dns.Header{ID: 7, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: "www.example.test", Type: uint16(dns.TypeA), Class: 3}}, // CHAOS
	}
	resp := exchangeUDP(t, addr, req)
	assert.Equal(t, dns.RCodeRefused, dns.RCodeFromFlags(resp.Header.Flags))
	assert.Empty(t, resp.Answers)
}

// The same zone query over TCP, with the framed message split across
// two writes, must yield the same answer the UDP path produces.
func TestTCPServer_ZoneAnswerSplitFrames(t *testing.T) {
	d := &Dispatcher{Registry: testRegistry(t), Deadline: 2 * time.Second}
	srv := &TCPServer{Handler: d, connPerIP: map[string]int{}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "listen tcp failed")

	ctx, cancel := context.WithCancel(context.Background())
	srv.listeners = []net.Listener{ln}
	go srv.acceptLoop(ctx, ln)
	t.Cleanup(func() {
		cancel()
		_ = srv.Stop(2 * time.Second)
	})

	req := query(0xBEEF, "www.example.test", dns.TypeA)
	b, err := req.Marshal()
	require.NoError(t, err)
	framed := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(framed, uint16(len(b)))
	copy(framed[2:], b)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err, "dial tcp failed")
	defer client.Close()

	_ = client.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Write(framed[:3]) // length prefix plus one body byte
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = client.Write(framed[3:])
	require.NoError(t, err)

	lenBuf := make([]byte, 2)
	_, err = client.Read(lenBuf)
	require.NoError(t, err, "reading response length")
	respLen := int(binary.BigEndian.Uint16(lenBuf))
	respBuf := make([]byte, respLen)
	for got := 0; got < respLen; {
		n, err := client.Read(respBuf[got:])
		require.NoError(t, err, "reading response body")
		got += n
	}

	resp, err := dns.ParsePacket(respBuf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), resp.Header.ID)
	assert.Equal(t, dns.RCodeNoError, dns.RCodeFromFlags(resp.Header.Flags))
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, []byte{10, 0, 0, 1}, resp.Answers[0].Data)
}
