package dns

// Packet is a complete DNS message (RFC 1035 §4): a header followed by
// the question, answer, authority, and additional sections.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// Marshal serializes the packet, recomputing the header's section
// counts from the actual slice lengths so they can never disagree with
// the sections emitted.
func (p Packet) Marshal() ([]byte, error) {
	h := p.Header
	h.QDCount = uint16(len(p.Questions))
	h.ANCount = uint16(len(p.Answers))
	h.NSCount = uint16(len(p.Authorities))
	h.ARCount = uint16(len(p.Additionals))

	out, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	for _, q := range p.Questions {
		b, err := q.Marshal()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	for _, section := range [...][]Record{p.Answers, p.Authorities, p.Additionals} {
		for _, rr := range section {
			b, err := rr.Marshal()
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
	}
	return out, nil
}

// ParsePacket decodes a full message. Section slices are sized from
// the header counts, capped so a header lying about its counts cannot
// force a huge allocation before the truncation is noticed.
func ParsePacket(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Header: h}

	p.Questions = make([]Question, 0, capCount(h.QDCount, MaxQuestions))
	for range h.QDCount {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, err
		}
		p.Questions = append(p.Questions, q)
	}

	if p.Answers, err = parseSection(msg, &off, h.ANCount); err != nil {
		return Packet{}, err
	}
	if p.Authorities, err = parseSection(msg, &off, h.NSCount); err != nil {
		return Packet{}, err
	}
	if p.Additionals, err = parseSection(msg, &off, h.ARCount); err != nil {
		return Packet{}, err
	}
	return p, nil
}

func parseSection(msg []byte, off *int, count uint16) ([]Record, error) {
	out := make([]Record, 0, capCount(count, MaxRRPerSection))
	for range count {
		rr, err := ParseRecord(msg, off)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

func capCount(count uint16, limit int) int {
	if int(count) > limit {
		return limit
	}
	return int(count)
}
