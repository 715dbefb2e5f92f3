// Command print-zone parses a master file with the server's own zone
// parser and dumps every record it would serve, for checking a zone
// before pointing dnsd at it.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/zonefile"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: print-zone <zonefile>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	z, err := zonefile.LoadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "print-zone: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("; origin %s.  default ttl %d  %d records\n", z.Origin, z.DefaultTTL, len(z.Records))

	recs := append([]zonefile.Record(nil), z.Records...)
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Name != recs[j].Name {
			return recs[i].Name < recs[j].Name
		}
		return recs[i].Type < recs[j].Type
	})
	for _, rr := range recs {
		fmt.Printf("%-32s %6d IN %-5s %s\n", rr.Name+".", rr.TTL, typeName(rr.Type), rdataString(rr))
	}
}

func typeName(code uint16) string {
	switch dns.RecordType(code) {
	case dns.TypeA:
		return "A"
	case dns.TypeNS:
		return "NS"
	case dns.TypeCNAME:
		return "CNAME"
	case dns.TypeSOA:
		return "SOA"
	case dns.TypePTR:
		return "PTR"
	case dns.TypeMX:
		return "MX"
	case dns.TypeTXT:
		return "TXT"
	case dns.TypeAAAA:
		return "AAAA"
	default:
		return fmt.Sprintf("TYPE%d", code)
	}
}

func rdataString(rr zonefile.Record) string {
	switch v := rr.RData.(type) {
	case zonefile.MX:
		return fmt.Sprintf("%d %s.", v.Preference, v.Exchange)
	case string:
		switch dns.RecordType(rr.Type) {
		case dns.TypeTXT:
			return fmt.Sprintf("%q", v)
		case dns.TypeCNAME, dns.TypeNS, dns.TypePTR:
			return v + "."
		default:
			return v
		}
	case []byte:
		if dns.RecordType(rr.Type) == dns.TypeSOA {
			return soaString(v)
		}
		return fmt.Sprintf("\\# %d", len(v))
	default:
		return fmt.Sprintf("%v", rr.RData)
	}
}

// soaString decodes the wire-format SOA rdata the parser stores back
// into presentation form.
func soaString(rdata []byte) string {
	off := 0
	mname, err1 := dns.DecodeName(rdata, &off)
	rname, err2 := dns.DecodeName(rdata, &off)
	if err1 != nil || err2 != nil || off+20 > len(rdata) {
		return fmt.Sprintf("\\# %d", len(rdata))
	}
	var fields [5]uint32
	for i := range fields {
		fields[i] = uint32(rdata[off])<<24 | uint32(rdata[off+1])<<16 | uint32(rdata[off+2])<<8 | uint32(rdata[off+3])
		off += 4
	}
	parts := make([]string, 0, 7)
	parts = append(parts, mname+".", rname+".")
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%d", f))
	}
	return strings.Join(parts, " ")
}
