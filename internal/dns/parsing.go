package dns

import (
	"errors"

	"github.com/jroosing/dnsd/internal/helpers"
)

// Wire-level sanity bounds on inbound messages. These guard resource
// exhaustion, not protocol policy: a qdcount of 0 or 2 parses fine and
// becomes a dispatcher FORMERR, but a header claiming thousands of
// records in a tiny datagram is rejected here as lying about the
// message's contents.
const (
	MaxIncomingDNSMessageSize = 4096
	MaxQuestions              = 4
	MaxRRPerSection           = 100
	MaxTotalRR                = 200
)

// OpcodeQuery is the only opcode the dispatcher answers; any other
// opcode maps to NOTIMP without invoking a provider.
const OpcodeQuery = 0

// ParseRequestBounded parses an inbound request under the size and
// count bounds above, and rejects messages with the QR bit set (a
// response echoed back at the server). Opcode and question-count
// policy is deliberately left to the dispatcher: RFC 1035 §4.1.1
// distinguishes "the query was malformed" (FORMERR, decided here by a
// parse failure) from "understood but unsupported" (NOTIMP/FORMERR
// decided on a well-formed packet).
func ParseRequestBounded(msg []byte) (Packet, error) {
	if len(msg) > MaxIncomingDNSMessageSize {
		return Packet{}, errors.New("dns message too large")
	}
	p, err := ParsePacket(msg)
	if err != nil {
		return Packet{}, err
	}
	if p.Header.Flags&QRFlag != 0 {
		return Packet{}, errors.New("message is a response, not a query")
	}
	if err := checkSectionCounts(p.Header); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// Opcode extracts the 4-bit opcode from a flags word.
func Opcode(flags uint16) uint16 {
	return (flags & OpcodeMask) >> 11
}

func checkSectionCounts(h Header) error {
	if int(h.QDCount) > MaxQuestions {
		return errors.New("too many questions")
	}
	an, ns, ar := int(h.ANCount), int(h.NSCount), int(h.ARCount)
	if an > MaxRRPerSection || ns > MaxRRPerSection || ar > MaxRRPerSection {
		return errors.New("too many resource records")
	}
	if an+ns+ar > MaxTotalRR {
		return errors.New("too many total resource records")
	}
	return nil
}

// BuildErrorResponse builds an empty-bodied response carrying rcode:
// the request's ID and question section are echoed, QR is set, RD is
// preserved, and every answer-bearing section is empty.
func BuildErrorResponse(req Packet, rcode uint16) Packet {
	flags := QRFlag | (req.Header.Flags & RDFlag)
	flags = (flags &^ RCodeMask) | (rcode & RCodeMask)
	return Packet{
		Header: Header{
			ID:      req.Header.ID,
			Flags:   flags,
			QDCount: helpers.ClampIntToUint16(len(req.Questions)),
		},
		Questions: req.Questions,
	}
}
