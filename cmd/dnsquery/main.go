// Command dnsquery sends one question to a DNS server over UDP or TCP
// and prints the decoded response, speaking the same wire codec the
// server serves with. The -tcp flag exercises the 2-byte length
// framing path.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jroosing/dnsd/internal/dns"
)

func main() {
	var (
		server  = flag.String("server", "127.0.0.1:53", "DNS server HOST:PORT")
		qname   = flag.String("name", "example.com", "Query name")
		qtype   = flag.String("type", "A", "Query type (A, AAAA, NS, SOA, MX, TXT, PTR, CNAME, ANY, or numeric)")
		useTCP  = flag.Bool("tcp", false, "Query over TCP instead of UDP")
		timeout = flag.Duration("timeout", 2*time.Second, "Exchange timeout")
	)
	flag.Parse()

	code, err := typeCode(*qtype)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnsquery: %v\n", err)
		os.Exit(2)
	}

	req := dns.Packet{
		Header:    dns.Header{ID: uint16(os.Getpid()) | 1, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: strings.TrimSuffix(*qname, "."), Type: code, Class: uint16(dns.ClassIN)}},
	}
	reqBytes, err := req.Marshal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnsquery: building query: %v\n", err)
		os.Exit(2)
	}

	var respBytes []byte
	if *useTCP {
		respBytes, err = exchangeTCP(*server, reqBytes, *timeout)
	} else {
		respBytes, err = exchangeUDP(*server, reqBytes, *timeout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnsquery: %v\n", err)
		os.Exit(1)
	}

	resp, err := dns.ParsePacket(respBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnsquery: %d unparseable bytes: %v\n", len(respBytes), err)
		os.Exit(1)
	}

	fmt.Printf(";; id %d  rcode %s  flags %#04x\n", resp.Header.ID, rcodeName(dns.RCodeFromFlags(resp.Header.Flags)), resp.Header.Flags)
	printSection("answer", resp.Answers)
	printSection("authority", resp.Authorities)
	printSection("additional", resp.Additionals)
}

func exchangeUDP(server string, req []byte, timeout time.Duration) ([]byte, error) {
	conn, err := net.Dial("udp", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write(req); err != nil {
		return nil, err
	}
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func exchangeTCP(server string, req []byte, timeout time.Duration) ([]byte, error) {
	conn, err := net.Dial("tcp", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	framed := make([]byte, 2+len(req))
	binary.BigEndian.PutUint16(framed, uint16(len(req)))
	copy(framed[2:], req)
	if _, err := conn.Write(framed); err != nil {
		return nil, err
	}

	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, err
	}
	resp := make([]byte, binary.BigEndian.Uint16(lenBuf))
	if _, err := io.ReadFull(conn, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func printSection(label string, rrs []dns.Record) {
	if len(rrs) == 0 {
		return
	}
	fmt.Printf(";; %s (%d)\n", label, len(rrs))
	for _, rr := range rrs {
		fmt.Printf("%s.\t%d\tIN\t%s\n", strings.TrimSuffix(rr.Name, "."), rr.TTL, rdataString(rr))
	}
}

func rdataString(rr dns.Record) string {
	switch dns.RecordType(rr.Type) {
	case dns.TypeA:
		if ip, ok := rr.IPv4(); ok {
			return "A\t" + ip
		}
	case dns.TypeAAAA:
		if ip, ok := rr.IPv6(); ok {
			return "AAAA\t" + ip
		}
	case dns.TypeCNAME, dns.TypeNS, dns.TypePTR:
		if target, ok := rr.Data.(string); ok {
			kind := map[dns.RecordType]string{dns.TypeCNAME: "CNAME", dns.TypeNS: "NS", dns.TypePTR: "PTR"}[dns.RecordType(rr.Type)]
			return kind + "\t" + target + "."
		}
	case dns.TypeMX:
		if mx, ok := rr.Data.(dns.MXData); ok {
			return fmt.Sprintf("MX\t%d %s.", mx.Preference, mx.Exchange)
		}
	case dns.TypeTXT:
		if raw, ok := rr.Data.([]byte); ok {
			return fmt.Sprintf("TXT\t%q", string(raw))
		}
	}
	if raw, ok := rr.Data.([]byte); ok {
		return fmt.Sprintf("TYPE%d\t\\# %d", rr.Type, len(raw))
	}
	return fmt.Sprintf("TYPE%d\t%v", rr.Type, rr.Data)
}

func typeCode(s string) (uint16, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return uint16(dns.TypeA), nil
	case "NS":
		return uint16(dns.TypeNS), nil
	case "CNAME":
		return uint16(dns.TypeCNAME), nil
	case "SOA":
		return uint16(dns.TypeSOA), nil
	case "PTR":
		return uint16(dns.TypePTR), nil
	case "MX":
		return uint16(dns.TypeMX), nil
	case "TXT":
		return uint16(dns.TypeTXT), nil
	case "AAAA":
		return uint16(dns.TypeAAAA), nil
	case "ANY":
		return uint16(dns.TypeANY), nil
	}
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		return uint16(n), nil
	}
	return 0, fmt.Errorf("unknown query type %q", s)
}

func rcodeName(rc dns.RCode) string {
	switch rc {
	case dns.RCodeNoError:
		return "NOERROR"
	case dns.RCodeFormErr:
		return "FORMERR"
	case dns.RCodeServFail:
		return "SERVFAIL"
	case dns.RCodeNXDomain:
		return "NXDOMAIN"
	case dns.RCodeNotImp:
		return "NOTIMP"
	case dns.RCodeRefused:
		return "REFUSED"
	default:
		return fmt.Sprintf("RCODE%d", rc)
	}
}
