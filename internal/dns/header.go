package dns

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 12-byte message header (RFC 1035 §4.1.1): the
// transaction ID, the packed flags word, and the entry counts of the
// four sections that follow.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// HeaderSize is the wire size of a Header in bytes.
const HeaderSize = 12

// Marshal writes the six header fields big-endian in wire order.
func (h Header) Marshal() ([]byte, error) {
	b := make([]byte, HeaderSize)
	for i, v := range [...]uint16{h.ID, h.Flags, h.QDCount, h.ANCount, h.NSCount, h.ARCount} {
		binary.BigEndian.PutUint16(b[2*i:], v)
	}
	return b, nil
}

// ParseHeader reads a header at *off, advancing it past the 12 bytes
// consumed.
func ParseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, fmt.Errorf("%w: message shorter than header", ErrDNSError)
	}
	b := msg[*off:]
	h := Header{
		ID:      binary.BigEndian.Uint16(b[0:]),
		Flags:   binary.BigEndian.Uint16(b[2:]),
		QDCount: binary.BigEndian.Uint16(b[4:]),
		ANCount: binary.BigEndian.Uint16(b[6:]),
		NSCount: binary.BigEndian.Uint16(b[8:]),
		ARCount: binary.BigEndian.Uint16(b[10:]),
	}
	*off += HeaderSize
	return h, nil
}
