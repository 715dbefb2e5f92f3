// Command bench load-tests a running DNS server over UDP and reports
// throughput and latency percentiles.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jroosing/dnsd/internal/dns"
)

func main() {
	var (
		server  = flag.String("server", "127.0.0.1:1053", "DNS server HOST:PORT")
		qname   = flag.String("name", "example.com", "Query name")
		qtype   = flag.Int("qtype", int(dns.TypeA), "Query type (numeric)")
		workers = flag.Int("workers", 200, "Concurrent workers")
		total   = flag.Int("requests", 20000, "Total requests across all workers")
		timeout = flag.Duration("timeout", 2*time.Second, "Per-request timeout")
	)
	flag.Parse()

	req := dns.Packet{
		Header:    dns.Header{ID: 0xBEEF, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: *qname, Type: uint16(*qtype), Class: uint16(dns.ClassIN)}},
	}
	reqBytes, err := req.Marshal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bench: building query: %v\n", err)
		os.Exit(2)
	}

	nWorkers := max(*workers, 1)
	nTotal := max(*total, 1)

	var (
		failed    atomic.Uint64
		badAnswer atomic.Uint64
		latMu     sync.Mutex
		latencies = make([]float64, 0, nTotal)
	)

	run := func(requests int) {
		conn, err := net.Dial("udp", *server)
		if err != nil {
			failed.Add(uint64(requests))
			return
		}
		defer conn.Close()

		buf := make([]byte, 2048)
		local := make([]float64, 0, requests)
		for range requests {
			start := time.Now()
			_ = conn.SetDeadline(time.Now().Add(*timeout))
			if _, err := conn.Write(reqBytes); err != nil {
				failed.Add(1)
				continue
			}
			n, err := conn.Read(buf)
			if err != nil {
				failed.Add(1)
				continue
			}
			resp, err := dns.ParsePacket(buf[:n])
			if err != nil || resp.Header.ID != req.Header.ID {
				badAnswer.Add(1)
				continue
			}
			local = append(local, float64(time.Since(start).Microseconds())/1000.0)
		}
		latMu.Lock()
		latencies = append(latencies, local...)
		latMu.Unlock()
	}

	started := time.Now()
	var wg sync.WaitGroup
	for i := range nWorkers {
		share := nTotal / nWorkers
		if i < nTotal%nWorkers {
			share++
		}
		if share == 0 {
			continue
		}
		wg.Add(1)
		go func(requests int) {
			defer wg.Done()
			run(requests)
		}(share)
	}
	wg.Wait()
	elapsed := time.Since(started).Seconds()

	fmt.Printf("server=%s name=%q qtype=%d workers=%d\n", *server, *qname, *qtype, nWorkers)
	fmt.Printf("ok=%d failed=%d bad=%d elapsed_s=%.3f qps=%.1f\n",
		len(latencies), failed.Load(), badAnswer.Load(), elapsed, float64(len(latencies))/elapsed)

	if len(latencies) == 0 {
		os.Exit(1)
	}
	sort.Float64s(latencies)
	fmt.Printf("latency_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n",
		percentile(latencies, 0.50),
		percentile(latencies, 0.95),
		percentile(latencies, 0.99),
		latencies[0],
		latencies[len(latencies)-1],
	)
}

// percentile reads the p-quantile from an ascending slice at rank
// p*len(sorted) rounded to the nearest integer, clamped to the slice.
func percentile(sorted []float64, p float64) float64 {
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
