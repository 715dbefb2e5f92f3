package dns

import (
	"encoding/binary"
	"fmt"
)

// Question is one entry of the question section (RFC 1035 §4.1.2):
// the name being asked about plus the requested type and class.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Marshal appends the encoded name followed by the type and class
// words.
func (q Question) Marshal() ([]byte, error) {
	b, err := EncodeName(q.Name)
	if err != nil {
		return nil, err
	}
	b = append(b, byte(q.Type>>8), byte(q.Type), byte(q.Class>>8), byte(q.Class))
	return b, nil
}

// ParseQuestion reads one question at *off, advancing it past the
// bytes consumed. The name is lowercased on the way in so later
// comparisons need no per-lookup folding; the original spelling is
// still available to callers that keep the raw message.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	qname, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: truncated question", ErrDNSError)
	}
	q := Question{
		Name:  NormalizeName(qname),
		Type:  binary.BigEndian.Uint16(msg[*off:]),
		Class: binary.BigEndian.Uint16(msg[*off+2:]),
	}
	*off += 4
	return q, nil
}
