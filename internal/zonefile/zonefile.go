// Package zonefile parses RFC 1035 §5 master files and serves them as
// a provider.Provider, including wildcard resolution, ANY-qtype
// aggregation, and RFC 2308 negative-caching semantics for NXDOMAIN.
package zonefile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
	"github.com/jroosing/dnsd/internal/provider"
)

// Record is a single parsed resource record from a master file, before
// conversion to the wire-ready dns.Record.
type Record struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	// RData depends on Type:
	// - A/AAAA: string (ip)
	// - CNAME/NS/PTR: string (fqdn)
	// - MX: MX
	// - SOA: []byte (wire format)
	// - TXT: string
	RData any
}

type MX struct {
	Preference uint16
	Exchange   string
}

// Zone holds every record parsed from one master file, indexed by
// owner name for constant-time lookup.
type Zone struct {
	Origin     string
	DefaultTTL uint32
	Records    []Record

	indexBuilt  bool
	nameIndex   map[string][]int // normalized name -> indices into Records
	originLower string           // cached lowercase origin without trailing dot
	originName  name.Name
}

func LoadFile(path string) (*Zone, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseText(string(b))
}

func ParseText(text string) (*Zone, error) {
	origin := ""
	defaultTTL := uint32(3600)
	lastOwner := ""
	recs := make([]Record, 0)

	for _, line := range logicalLines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "$ORIGIN") {
			parts := strings.Fields(line)
			if len(parts) != 2 {
				return nil, errors.New("invalid $ORIGIN directive")
			}
			origin = normalizeFQDN(parts[1], "")
			continue
		}
		if strings.HasPrefix(upper, "$TTL") {
			parts := strings.Fields(line)
			if len(parts) != 2 {
				return nil, errors.New("invalid $TTL directive")
			}
			ttl, err := parseTTL(parts[1])
			if err != nil {
				return nil, err
			}
			defaultTTL = ttl
			continue
		}
		if origin == "" {
			return nil, errors.New("zone file missing $ORIGIN")
		}

		tokens := strings.Fields(line)
		owner, rest, err := parseOwner(tokens, origin, lastOwner)
		if err != nil {
			return nil, err
		}
		lastOwner = owner
		ttl, class, typ, rdata, err := parseRRFields(rest, defaultTTL)
		if err != nil {
			return nil, err
		}
		typeCode, ok := rrTypeToCode(typ)
		if !ok {
			continue // ignore unsupported types
		}
		final, err := transformRData(typeCode, rdata, origin)
		if err != nil {
			return nil, err
		}

		recs = append(recs, Record{Name: owner, Type: typeCode, Class: class, TTL: ttl, RData: final})
	}

	if origin == "" {
		return nil, errors.New("zone file missing $ORIGIN")
	}

	z := &Zone{Origin: origin, DefaultTTL: defaultTTL, Records: recs}
	on, err := name.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid zone origin %q: %w", origin, err)
	}
	z.originName = on
	z.buildIndex()
	return z, nil
}

// buildIndex creates lookup indexes for fast record queries.
func (z *Zone) buildIndex() {
	if z.indexBuilt {
		return
	}
	z.originLower = strings.ToLower(strings.TrimSuffix(z.Origin, "."))
	z.nameIndex = make(map[string][]int, len(z.Records))

	for i, rr := range z.Records {
		key := strings.ToLower(strings.TrimSuffix(rr.Name, "."))
		z.nameIndex[key] = append(z.nameIndex[key], i)
	}
	z.indexBuilt = true
}

// OriginName returns the zone's apex as a parsed name.Name.
func (z *Zone) OriginName() name.Name {
	return z.originName
}

func (z *Zone) ContainsName(qname string) bool {
	q := strings.ToLower(strings.TrimSuffix(qname, "."))
	return q == z.originLower || strings.HasSuffix(q, "."+z.originLower)
}

// NameExists checks if any records exist for the given name.
func (z *Zone) NameExists(qname string, qclass uint16) bool {
	q := strings.ToLower(strings.TrimSuffix(qname, "."))
	indices := z.nameIndex[q]
	for _, idx := range indices {
		if z.Records[idx].Class == qclass {
			return true
		}
	}
	return false
}

// Lookup retrieves records matching the given name, type, and class.
func (z *Zone) Lookup(qname string, qtype uint16, qclass uint16) []Record {
	q := strings.ToLower(strings.TrimSuffix(qname, "."))
	indices := z.nameIndex[q]
	if len(indices) == 0 {
		return nil
	}

	out := make([]Record, 0, len(indices))
	for _, idx := range indices {
		rr := z.Records[idx]
		if rr.Class == qclass && rr.Type == qtype {
			out = append(out, rr)
		}
	}
	return out
}

// LookupAny retrieves every record at qname, regardless of type,
// for an ANY-qtype query.
func (z *Zone) LookupAny(qname string, qclass uint16) []Record {
	q := strings.ToLower(strings.TrimSuffix(qname, "."))
	indices := z.nameIndex[q]
	if len(indices) == 0 {
		return nil
	}
	out := make([]Record, 0, len(indices))
	for _, idx := range indices {
		rr := z.Records[idx]
		if rr.Class == qclass {
			out = append(out, rr)
		}
	}
	return out
}

// WildcardMatch ascends from qname's parent to the zone apex, building
// a "*.parent" candidate at each level, and returns the records at the
// first candidate that exists. The returned records still carry the
// wildcard owner name ("*.parent"); the caller must rewrite Name to
// qname before placing them in a response, since a wildcard match is
// never disclosed on the wire (RFC 1034 §4.3.3).
func (z *Zone) WildcardMatch(qname name.Name, qclass uint16) (recs []Record, hit bool) {
	cur := qname
	for {
		parent, ok := cur.Parent()
		if !ok {
			return nil, false
		}
		if !parent.IsSubdomain(z.originName) {
			return nil, false
		}
		candidate := parent.WithWildcardLabel()
		if found := z.LookupAny(candidate.String(), qclass); len(found) > 0 {
			return found, true
		}
		if parent.Equal(z.originName) {
			return nil, false
		}
		cur = parent
	}
}

// SOA returns the SOA record for this zone, or nil if not found.
func (z *Zone) SOA(qclass uint16) *Record {
	indices := z.nameIndex[z.originLower]
	for _, idx := range indices {
		rr := &z.Records[idx]
		if rr.Class == qclass && rr.Type == uint16(dns.TypeSOA) {
			return rr
		}
	}
	return nil
}

// soaMinimum extracts the MINIMUM field (the last 4 bytes of the
// wire-encoded rdata) from a SOA record, used as the negative-caching
// TTL per RFC 2308 §4.
func soaMinimum(soa Record) uint32 {
	b, ok := soa.RData.([]byte)
	if !ok || len(b) < 4 {
		return soa.TTL
	}
	tail := b[len(b)-4:]
	return uint32(tail[0])<<24 | uint32(tail[1])<<16 | uint32(tail[2])<<8 | uint32(tail[3])
}

// --- parsing helpers (RFC 1035 §5 master-file grammar) ---

func logicalLines(text string) []string {
	var (
		buf     []string
		depth   int
		out     []string
		scanner = bufio.NewScanner(strings.NewReader(text))
	)
	for scanner.Scan() {
		raw := scanner.Text()
		line := stripComment(raw)
		line = strings.TrimRight(line, " \t\r\n")
		if strings.TrimSpace(line) == "" && depth == 0 {
			continue
		}
		depth += strings.Count(line, "(")
		depth -= strings.Count(line, ")")
		buf = append(buf, line)
		if depth <= 0 {
			joined := strings.Join(compactFields(buf), " ")
			buf = buf[:0]
			depth = 0
			joined = strings.ReplaceAll(joined, "(", " ")
			joined = strings.ReplaceAll(joined, ")", " ")
			joined = strings.TrimSpace(joined)
			if joined != "" {
				out = append(out, joined)
			}
		}
	}
	if len(buf) > 0 {
		return append(out, "") // force later error
	}
	return out
}

func compactFields(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, s := range lines {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}
	return line
}

func normalizeFQDN(nm string, origin string) string {
	nm = strings.TrimSpace(nm)
	if nm == "@" {
		return strings.TrimSuffix(origin, ".")
	}
	nm = strings.TrimSuffix(nm, ".")
	if origin == "" {
		return nm
	}
	if strings.HasSuffix(nm, origin) {
		return strings.TrimSuffix(nm, ".")
	}
	if strings.TrimSpace(nm) == "" {
		return ""
	}
	return strings.TrimSuffix(nm+"."+strings.TrimSuffix(origin, "."), ".")
}

var ttlRE = regexp.MustCompile(`^(?:\d+[wdhmsWDHMS]?)+$`)

func looksLikeTTL(tok string) bool { return ttlRE.MatchString(strings.TrimSpace(tok)) }

func parseTTL(tok string) (uint32, error) {
	tok = strings.TrimSpace(tok)
	if !ttlRE.MatchString(tok) {
		return 0, errors.New("TTL must be an integer seconds or use suffixes (w/d/h/m/s)")
	}
	total := uint32(0)
	num := ""
	for i := range len(tok) {
		c := tok[i]
		if c >= '0' && c <= '9' {
			num += string(c)
			continue
		}
		unit := byte('s')
		if c != 0 {
			unit = strings.ToLower(string(c))[0]
		}
		if num == "" {
			continue
		}
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return 0, errors.New("TTL must be an integer seconds or use suffixes (w/d/h/m/s)")
		}
		num = ""
		mul := uint64(1)
		switch unit {
		case 's':
			mul = 1
		case 'm':
			mul = 60
		case 'h':
			mul = 3600
		case 'd':
			mul = 86400
		case 'w':
			mul = 604800
		default:
			return 0, errors.New("TTL must be an integer seconds or use suffixes (w/d/h/m/s)")
		}
		if mul != 0 && n > (uint64(^uint32(0))/mul) {
			return 0, errors.New("TTL too large")
		}
		add := uint32(n * mul)
		if add > (^uint32(0) - total) {
			return 0, errors.New("TTL too large")
		}
		total += add
	}
	if num != "" {
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return 0, errors.New("TTL must be an integer seconds or use suffixes (w/d/h/m/s)")
		}
		if n > uint64(^uint32(0)) {
			return 0, errors.New("TTL too large")
		}
		add := uint32(n)
		if add > (^uint32(0) - total) {
			return 0, errors.New("TTL too large")
		}
		total += add
	}
	return total, nil
}

func looksLikeClass(tok string) bool { return strings.ToUpper(tok) == "IN" }

func looksLikeType(tok string) bool {
	s := strings.ToUpper(tok)
	switch s {
	case "A", "AAAA", "CNAME", "NS", "SOA", "MX", "TXT", "PTR":
		return true
	default:
		return false
	}
}

func parseOwner(tokens []string, origin, lastOwner string) (string, []string, error) {
	if len(tokens) == 0 {
		return "", nil, errors.New("invalid empty RR")
	}
	first := tokens[0]
	if looksLikeTTL(first) || looksLikeClass(first) || looksLikeType(first) {
		if lastOwner == "" {
			return "", nil, errors.New("owner name omitted on first RR")
		}
		return lastOwner, tokens, nil
	}
	return normalizeFQDN(first, origin), tokens[1:], nil
}

func parseRRFields(rest []string, defaultTTL uint32) (uint32, uint16, string, string, error) {
	var (
		haveTTL   bool
		haveClass bool
		idx       int
	)
	ttl := defaultTTL
	class := uint16(dns.ClassIN)
	for idx < len(rest) {
		tok := rest[idx]
		if !haveTTL && looksLikeTTL(tok) {
			n, e := parseTTL(tok)
			if e != nil {
				return 0, 0, "", "", e
			}
			ttl = n
			haveTTL = true
			idx++
			continue
		}
		if !haveClass && looksLikeClass(tok) {
			class = uint16(dns.ClassIN)
			haveClass = true
			idx++
			continue
		}
		break
	}
	if idx >= len(rest) {
		return 0, 0, "", "", errors.New("missing RR type")
	}
	typ := strings.ToUpper(rest[idx])
	idx++
	if idx >= len(rest) {
		return 0, 0, "", "", errors.New("missing RR rdata")
	}
	rdata := strings.Join(rest[idx:], " ")
	return ttl, class, typ, rdata, nil
}

func rrTypeToCode(typ string) (uint16, bool) {
	switch strings.ToUpper(typ) {
	case "A":
		return uint16(dns.TypeA), true
	case "AAAA":
		return uint16(dns.TypeAAAA), true
	case "CNAME":
		return uint16(dns.TypeCNAME), true
	case "NS":
		return uint16(dns.TypeNS), true
	case "MX":
		return uint16(dns.TypeMX), true
	case "TXT":
		return uint16(dns.TypeTXT), true
	case "PTR":
		return uint16(dns.TypePTR), true
	case "SOA":
		return uint16(dns.TypeSOA), true
	default:
		return 0, false
	}
}

func transformRData(typeCode uint16, rdata, origin string) (any, error) {
	switch dns.RecordType(typeCode) {
	case dns.TypeA:
		if _, err := netip.ParseAddr(strings.TrimSpace(rdata)); err != nil {
			return nil, errors.New("invalid IPv4 address")
		}
		return strings.TrimSpace(rdata), nil
	case dns.TypeAAAA:
		if _, err := netip.ParseAddr(strings.TrimSpace(rdata)); err != nil {
			return nil, errors.New("invalid IPv6 address")
		}
		return strings.TrimSpace(rdata), nil
	case dns.TypeMX:
		parts := strings.Fields(rdata)
		if len(parts) != 2 {
			return nil, errors.New("MX rdata must be: <preference> <exchange>")
		}
		pref, err := strconv.Atoi(parts[0])
		if err != nil || pref < 0 || pref > 65535 {
			return nil, errors.New("MX preference must be 0..65535")
		}
		ex := normalizeFQDN(parts[1], origin)
		return MX{Preference: uint16(pref), Exchange: ex}, nil
	case dns.TypeSOA:
		return parseSOARData(rdata, origin)
	case dns.TypeTXT:
		return rdata, nil
	case dns.TypePTR, dns.TypeCNAME, dns.TypeNS:
		return normalizeFQDN(rdata, origin), nil
	default:
		return rdata, nil
	}
}

func parseSOARData(rdata, origin string) ([]byte, error) {
	// MNAME RNAME SERIAL REFRESH RETRY EXPIRE MINIMUM
	parts := strings.Fields(rdata)
	if len(parts) != 7 {
		return nil, errors.New("SOA rdata must be: MNAME RNAME SERIAL REFRESH RETRY EXPIRE MINIMUM")
	}
	mname := normalizeFQDN(parts[0], origin)
	rname := normalizeFQDN(parts[1], origin)
	serial, err := parseUint32(parts[2])
	if err != nil {
		return nil, errors.New("invalid SOA serial")
	}
	refresh, err := parseTTL(parts[3])
	if err != nil {
		return nil, errors.New("invalid SOA refresh")
	}
	retryV, err := parseTTL(parts[4])
	if err != nil {
		return nil, errors.New("invalid SOA retry")
	}
	expire, err := parseTTL(parts[5])
	if err != nil {
		return nil, errors.New("invalid SOA expire")
	}
	minimum, err := parseTTL(parts[6])
	if err != nil {
		return nil, errors.New("invalid SOA minimum")
	}

	mwire, err := dns.EncodeName(mname)
	if err != nil {
		return nil, err
	}
	rwire, err := dns.EncodeName(rname)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(nil)
	buf.Write(mwire)
	buf.Write(rwire)
	w := make([]byte, 20)
	binaryPutU32(w[0:4], serial)
	binaryPutU32(w[4:8], refresh)
	binaryPutU32(w[8:12], retryV)
	binaryPutU32(w[12:16], expire)
	binaryPutU32(w[16:20], minimum)
	buf.Write(w)
	return buf.Bytes(), nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

func binaryPutU32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

// DiscoverZoneFiles returns a sorted list of files in dir.
func DiscoverZoneFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, dir+"/"+e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// --- provider.Provider conformance ---

// ZoneFileProvider answers queries from one or more master files it
// loaded at construction time. It is authoritative for every zone it
// parsed.
type ZoneFileProvider struct {
	zones   []*Zone
	filters []provider.Filter
}

// NewZoneFileProvider loads every path with LoadFile and returns a
// provider serving all of them. filters are applied, in order, to
// every response this provider produces.
func NewZoneFileProvider(paths []string, filters ...provider.Filter) (*ZoneFileProvider, error) {
	zones := make([]*Zone, 0, len(paths))
	for _, p := range paths {
		z, err := LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("zonefile: loading %s: %w", p, err)
		}
		zones = append(zones, z)
	}
	return &ZoneFileProvider{zones: zones, filters: filters}, nil
}

// NewZoneFileProviderFromZones wraps already-parsed zones, used by
// tests and by callers that build a Zone in memory.
func NewZoneFileProviderFromZones(zones []*Zone, filters ...provider.Filter) *ZoneFileProvider {
	return &ZoneFileProvider{zones: zones, filters: filters}
}

// Zones implements provider.Provider. Zone files are served identically
// to every client.
func (p *ZoneFileProvider) Zones(_ netip.Addr) []name.Name {
	out := make([]name.Name, 0, len(p.zones))
	for _, z := range p.zones {
		out = append(out, z.OriginName())
	}
	return out
}

// Filters implements provider.Provider.
func (p *ZoneFileProvider) Filters() []provider.Filter {
	return p.filters
}

// bestZone returns the zone among p.zones whose origin is qname or the
// longest ancestor of qname, mirroring provider.Registry.Select but
// scoped to this provider's own zones (a provider may serve several
// zones of differing specificity, e.g. "example.com" and
// "internal.example.com").
func (p *ZoneFileProvider) bestZone(qname name.Name) *Zone {
	var best *Zone
	bestCommon := -1
	for _, z := range p.zones {
		rel, _, common := qname.FullCompare(z.OriginName())
		if rel == name.EQUAL {
			return z
		}
		if rel != name.SUBDOMAIN {
			continue
		}
		if common > bestCommon {
			best = z
			bestCommon = common
		}
	}
	return best
}

// Response implements provider.Provider.
func (p *ZoneFileProvider) Response(_ context.Context, req dns.Packet, _ netip.Addr) (dns.Packet, bool) {
	q := req.Questions[0]
	qname, err := name.Parse(q.Name)
	if err != nil {
		return provider.ServFail(req), true
	}

	z := p.bestZone(qname)
	if z == nil {
		return provider.ServFail(req), true
	}

	var records []Record
	var owner name.Name = qname

	if q.Type == uint16(dns.TypeANY) {
		records = z.LookupAny(q.Name, q.Class)
	} else {
		records = z.Lookup(q.Name, q.Type, q.Class)
		if len(records) == 0 && q.Type != uint16(dns.TypeCNAME) {
			if cnames := z.Lookup(q.Name, uint16(dns.TypeCNAME), q.Class); len(cnames) > 0 {
				records = cnames
			}
		}
	}

	if len(records) == 0 && !z.NameExists(q.Name, q.Class) {
		if wc, hit := z.WildcardMatch(qname, q.Class); hit {
			records = filterWildcardByType(wc, q.Type)
			owner = qname
		}
	}

	if len(records) > 0 {
		answers := make([]dns.Record, 0, len(records))
		for _, rr := range records {
			dr := toWireRecord(rr)
			dr.Name = owner.String()
			answers = append(answers, dr)
		}
		return dns.Packet{
			Header: dns.Header{
				ID:      req.Header.ID,
				Flags:   authoritativeFlags(req, uint16(dns.RCodeNoError)),
				QDCount: 1,
				ANCount: uint16(len(answers)),
			},
			Questions: req.Questions,
			Answers:   answers,
		}, true
	}

	soa := z.SOA(q.Class)
	if soa == nil {
		return provider.ServFail(req), true
	}
	rcode := dns.RCodeNoError
	if !z.NameExists(q.Name, q.Class) {
		rcode = dns.RCodeNXDomain
	}
	return provider.NegativeResponse(req, rcode, toWireRecord(*soa), soaMinimum(*soa)), true
}

// filterWildcardByType keeps only the wildcard records matching qtype,
// unless qtype is ANY.
func filterWildcardByType(recs []Record, qtype uint16) []Record {
	if qtype == uint16(dns.TypeANY) {
		return recs
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.Type == qtype {
			out = append(out, r)
		}
	}
	return out
}

func authoritativeFlags(req dns.Packet, rcode uint16) uint16 {
	flags := dns.QRFlag | dns.AAFlag | (req.Header.Flags & dns.RDFlag)
	return (flags &^ dns.RCodeMask) | (rcode & dns.RCodeMask)
}

// toWireRecord converts a parsed master-file Record into a wire-ready
// dns.Record, translating presentation-format rdata (IP strings, the
// MX helper struct) into the byte/struct shapes internal/dns expects.
func toWireRecord(rr Record) dns.Record {
	switch dns.RecordType(rr.Type) {
	case dns.TypeA:
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: addrBytes(rr, 4)}
	case dns.TypeAAAA:
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: addrBytes(rr, 16)}
	case dns.TypeMX:
		mx := rr.RData.(MX)
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: dns.MXData{Preference: mx.Preference, Exchange: mx.Exchange}}
	case dns.TypeSOA:
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: rr.RData.([]byte)}
	default:
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: rr.RData}
	}
}

func addrBytes(rr Record, n int) []byte {
	addr, err := netip.ParseAddr(strings.TrimSpace(rr.RData.(string)))
	if err != nil {
		return make([]byte, n)
	}
	if n == 4 {
		a4 := addr.As4()
		return a4[:]
	}
	a16 := addr.As16()
	return a16[:]
}
