// Package reverseipv6 synthesizes AAAA and PTR records for an entire
// IPv6 prefix from configuration alone, with no backing zone file: the
// forward zone encodes a full address as a single hyphen-joined label,
// and the reverse zone is the nibble-reversed "ip6.arpa" name for that
// prefix (RFC 3596 §2.5).
package reverseipv6

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
	"github.com/jroosing/dnsd/internal/provider"
)

// SOAParams holds the presentation-form fields of a synthesized SOA
// record, mirroring RFC 1035 §3.3.13.
type SOAParams struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// Config describes one ReverseIPv6Provider instance.
type Config struct {
	ForwardZone name.Name
	Prefix      netip.Prefix
	Nameservers []name.Name
	SOA         SOAParams
	// TTL applies to synthesized NS, AAAA, PTR, and answer-section SOA
	// records. The SOA carried in the authority section of a negative
	// response uses SOA.Minimum instead, per RFC 2308.
	TTL uint32
}

// Provider synthesizes AAAA/PTR/NS/SOA answers for Config's forward
// and reverse zones without ever materializing individual records.
type Provider struct {
	cfg         Config
	forwardZone name.Name
	reverseZone name.Name
	soaRData    []byte
	filters     []provider.Filter
}

// New validates cfg and derives the reverse zone apex once; it is
// reused for the lifetime of the provider.
func New(cfg Config, filters ...provider.Filter) (*Provider, error) {
	if !cfg.Prefix.IsValid() {
		return nil, errors.New("reverseipv6: invalid prefix")
	}
	if !cfg.Prefix.Addr().Is6() || cfg.Prefix.Addr().Is4In6() {
		return nil, errors.New("reverseipv6: prefix must be IPv6")
	}
	if cfg.Prefix.Bits()%4 != 0 {
		return nil, errors.New("reverseipv6: prefix length must be a multiple of 4 bits")
	}

	addr16 := cfg.Prefix.Addr().As16()
	nibbles := cfg.Prefix.Bits() / 4
	full := name.ReverseIP6Arpa(addr16) // 32 nibble labels + "ip6" + "arpa"

	reverseLabels := make([]string, 0, nibbles+2)
	reverseLabels = append(reverseLabels, full.Labels[32-nibbles:32]...)
	reverseLabels = append(reverseLabels, "ip6", "arpa")

	if cfg.SOA.Serial == 0 {
		cfg.SOA.Serial = bootSerial(time.Now())
	}

	mname, err := dns.EncodeName(cfg.SOA.MName)
	if err != nil {
		return nil, fmt.Errorf("reverseipv6: soa mname: %w", err)
	}
	rname, err := dns.EncodeName(cfg.SOA.RName)
	if err != nil {
		return nil, fmt.Errorf("reverseipv6: soa rname: %w", err)
	}
	buf := bytes.NewBuffer(nil)
	buf.Write(mname)
	buf.Write(rname)
	w := make([]byte, 20)
	binary.BigEndian.PutUint32(w[0:4], cfg.SOA.Serial)
	binary.BigEndian.PutUint32(w[4:8], cfg.SOA.Refresh)
	binary.BigEndian.PutUint32(w[8:12], cfg.SOA.Retry)
	binary.BigEndian.PutUint32(w[12:16], cfg.SOA.Expire)
	binary.BigEndian.PutUint32(w[16:20], cfg.SOA.Minimum)
	buf.Write(w)

	return &Provider{
		cfg:         cfg,
		forwardZone: cfg.ForwardZone,
		reverseZone: name.Name{Labels: reverseLabels},
		soaRData:    buf.Bytes(),
		filters:     filters,
	}, nil
}

// Zones implements provider.Provider. Both zones are served identically
// to every client.
func (p *Provider) Zones(_ netip.Addr) []name.Name {
	return []name.Name{p.forwardZone, p.reverseZone}
}

// Filters implements provider.Provider.
func (p *Provider) Filters() []provider.Filter {
	return p.filters
}

// Response implements provider.Provider.
func (p *Provider) Response(_ context.Context, req dns.Packet, _ netip.Addr) (dns.Packet, bool) {
	q := req.Questions[0]
	qname, err := name.Parse(q.Name)
	if err != nil {
		return provider.ServFail(req), true
	}

	switch {
	case qname.IsSubdomain(p.forwardZone):
		return p.forwardResponse(req, q, qname), true
	case qname.IsSubdomain(p.reverseZone):
		return p.reverseResponse(req, q, qname), true
	default:
		return provider.ServFail(req), true
	}
}

// forwardResponse dispatches on qtype for any name at or below the
// forward zone. NS and SOA answer with the configured records at any
// depth; AAAA synthesizes from the address label; everything else is
// NOTIMP with the SOA in authority.
func (p *Provider) forwardResponse(req dns.Packet, q dns.Question, qname name.Name) dns.Packet {
	switch dns.RecordType(q.Type) {
	case dns.TypeNS:
		return p.answer(req, p.nsRecords(p.forwardZone), nil)
	case dns.TypeSOA:
		return p.answer(req, []dns.Record{p.soaRecord(p.forwardZone)}, nil)
	case dns.TypeAAAA:
		return p.aaaaResponse(req, qname)
	case dns.TypeANY:
		if qname.Equal(p.forwardZone) {
			return p.answer(req, append(p.nsRecords(p.forwardZone), p.soaRecord(p.forwardZone)), nil)
		}
		return p.aaaaResponse(req, qname)
	default:
		return provider.NegativeResponse(req, dns.RCodeNotImp, p.soaRecord(p.forwardZone), p.cfg.SOA.Minimum)
	}
}

// reverseResponse is forwardResponse's counterpart under the ip6.arpa
// zone, with PTR taking AAAA's role.
func (p *Provider) reverseResponse(req dns.Packet, q dns.Question, qname name.Name) dns.Packet {
	switch dns.RecordType(q.Type) {
	case dns.TypeNS:
		return p.answer(req, p.nsRecords(p.reverseZone), nil)
	case dns.TypeSOA:
		return p.answer(req, []dns.Record{p.soaRecord(p.reverseZone)}, nil)
	case dns.TypePTR:
		return p.ptrResponse(req, qname)
	case dns.TypeANY:
		if qname.Equal(p.reverseZone) {
			return p.answer(req, append(p.nsRecords(p.reverseZone), p.soaRecord(p.reverseZone)), nil)
		}
		return p.ptrResponse(req, qname)
	default:
		return provider.NegativeResponse(req, dns.RCodeNotImp, p.soaRecord(p.reverseZone), p.cfg.SOA.Minimum)
	}
}

// aaaaResponse decodes the hyphen-joined address label directly below
// the forward zone and synthesizes the AAAA. Any name that does not
// carry a decodable in-prefix address (the apex itself included) does
// not exist.
func (p *Provider) aaaaResponse(req dns.Packet, qname name.Name) dns.Packet {
	parent, ok := qname.Parent()
	if !ok || !parent.Equal(p.forwardZone) {
		return provider.NegativeResponse(req, dns.RCodeNXDomain, p.soaRecord(p.forwardZone), p.cfg.SOA.Minimum)
	}
	addr, ok := decodeForwardLabel(qname.Labels[0])
	if !ok || !p.cfg.Prefix.Contains(netip.AddrFrom16(addr)) {
		return provider.NegativeResponse(req, dns.RCodeNXDomain, p.soaRecord(p.forwardZone), p.cfg.SOA.Minimum)
	}

	rr := dns.Record{Name: qname.String(), Type: uint16(dns.TypeAAAA), Class: uint16(dns.ClassIN), TTL: p.cfg.TTL, Data: addr[:]}
	return p.answer(req, []dns.Record{rr}, nil)
}

// ptrResponse decodes a full nibble-reversed ip6.arpa name and answers
// with the synthesized PTR target, carrying the zone's NS RRset in
// authority.
func (p *Provider) ptrResponse(req dns.Packet, qname name.Name) dns.Packet {
	addr, ok := name.DecodeIP6Arpa(qname)
	if !ok || !p.cfg.Prefix.Contains(netip.AddrFrom16(addr)) {
		return provider.NegativeResponse(req, dns.RCodeNXDomain, p.soaRecord(p.reverseZone), p.cfg.SOA.Minimum)
	}

	target := encodeForwardLabel(addr) + "." + p.forwardZone.String()
	rr := dns.Record{Name: qname.String(), Type: uint16(dns.TypePTR), Class: uint16(dns.ClassIN), TTL: p.cfg.TTL, Data: target}
	return p.answer(req, []dns.Record{rr}, p.nsRecords(p.reverseZone))
}

func (p *Provider) answer(req dns.Packet, answers, authorities []dns.Record) dns.Packet {
	return dns.Packet{
		Header: dns.Header{
			ID:      req.Header.ID,
			Flags:   authoritativeFlags(req, uint16(dns.RCodeNoError)),
			QDCount: 1,
			ANCount: uint16(len(answers)),
			NSCount: uint16(len(authorities)),
		},
		Questions:   req.Questions,
		Answers:     answers,
		Authorities: authorities,
	}
}

func (p *Provider) nsRecords(zone name.Name) []dns.Record {
	out := make([]dns.Record, 0, len(p.cfg.Nameservers))
	for _, ns := range p.cfg.Nameservers {
		out = append(out, dns.Record{Name: zone.String(), Type: uint16(dns.TypeNS), Class: uint16(dns.ClassIN), TTL: p.cfg.TTL, Data: ns.String()})
	}
	return out
}

func (p *Provider) soaRecord(zone name.Name) dns.Record {
	return dns.Record{Name: zone.String(), Type: uint16(dns.TypeSOA), Class: uint16(dns.ClassIN), TTL: p.cfg.TTL, Data: p.soaRData}
}

func authoritativeFlags(req dns.Packet, rcode uint16) uint16 {
	flags := dns.QRFlag | dns.AAFlag | (req.Header.Flags & dns.RDFlag)
	return (flags &^ dns.RCodeMask) | (rcode & dns.RCodeMask)
}

// bootSerial derives the default SOA serial YYYYMMDD00 from the boot
// time, the date-based convention zone operators expect when no serial
// is configured.
func bootSerial(now time.Time) uint32 {
	now = now.UTC()
	return uint32(now.Year())*1_000_000 + uint32(now.Month())*10_000 + uint32(now.Day())*100
}

// encodeForwardLabel renders addr as eight hyphen-joined 4-hex-digit
// groups, one per 16-bit word, used as the sole label under the
// forward zone.
func encodeForwardLabel(addr [16]byte) string {
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%04x", binary.BigEndian.Uint16(addr[i*2:i*2+2]))
	}
	return strings.Join(groups, "-")
}

// decodeForwardLabel parses a label produced by encodeForwardLabel.
func decodeForwardLabel(label string) ([16]byte, bool) {
	var addr [16]byte
	parts := strings.Split(label, "-")
	if len(parts) != 8 {
		return addr, false
	}
	for i, part := range parts {
		if len(part) != 4 {
			return addr, false
		}
		v, err := strconv.ParseUint(part, 16, 16)
		if err != nil {
			return addr, false
		}
		binary.BigEndian.PutUint16(addr[i*2:i*2+2], uint16(v))
	}
	return addr, true
}
