package provider

import "github.com/jroosing/dnsd/internal/dns"

// NegativeResponse builds an NXDOMAIN (or, with rcode set to NoError by
// the caller for NODATA, a no-answer) response carrying a single SOA
// record in the authority section, per RFC 2308: the SOA's TTL is
// set to soaMinimum (the zone's SOA minimum field), replacing whatever
// TTL the record carried.
func NegativeResponse(req dns.Packet, rcode dns.RCode, soa dns.Record, soaMinimum uint32) dns.Packet {
	soa.TTL = soaMinimum
	return dns.Packet{
		Header: dns.Header{
			ID:      req.Header.ID,
			Flags:   responseFlags(req, uint16(rcode), true),
			QDCount: uint16(len(req.Questions)),
			NSCount: 1,
		},
		Questions:   req.Questions,
		Authorities: []dns.Record{soa},
	}
}

// ServFail builds a SERVFAIL response with no further sections.
func ServFail(req dns.Packet) dns.Packet {
	return dns.BuildErrorResponse(req, uint16(dns.RCodeServFail))
}

// responseFlags sets QR plus, optionally, AA, preserving RD from the
// request and applying rcode.
func responseFlags(req dns.Packet, rcode uint16, authoritative bool) uint16 {
	flags := dns.QRFlag | (req.Header.Flags & dns.RDFlag)
	if authoritative {
		flags |= dns.AAFlag
	}
	flags = (flags &^ dns.RCodeMask) | (rcode & dns.RCodeMask)
	return flags
}
