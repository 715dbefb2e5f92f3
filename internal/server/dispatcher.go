// Package server implements DNS protocol servers for UDP and TCP.
//
// Goroutine Model:
//
// The server spawns multiple goroutines for handling incoming queries:
//   - UDPServer: 1 receiver + N workers per CPU core
//   - TCPServer: 1 listener per CPU core + 1 handler per active connection
//
// All goroutines are coordinated through a shared context:
//   - Context is cancelled on shutdown signal (SIGINT/SIGTERM)
//   - All goroutines check context regularly and exit cleanly
//   - No long-lived blocking operations without context awareness
//
// Error Handling:
//
// Errors are wrapped with context using fmt.Errorf("...: %w", err) throughout.
package server

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
	"github.com/jroosing/dnsd/internal/provider"
)

// Dispatcher answers DNS requests against a provider.Registry: it
// validates the request's opcode, question count, and class, picks
// the best-fit provider for the queried name, applies that provider's
// filter chain, and enforces a deadline on the whole operation.
type Dispatcher struct {
	Logger   *slog.Logger
	Registry *provider.Registry
	Deadline time.Duration // default 5s if zero
	// Stats, if non-nil, is updated with counters for the introspection
	// API's /stats endpoint. Dispatcher never reads it back.
	Stats *DNSStats
}

// HandleResult contains the outcome of dispatching one request.
type HandleResult struct {
	ResponseBytes []byte
	Source        string
	Parsed        dns.Packet
	ParsedOK      bool
}

// Handle processes a raw DNS request and returns the wire-encoded
// response. src is the client's IP in text form; it is parsed and
// passed through to the selected provider. Handle never blocks past
// Dispatcher.Deadline (default 5s).
func (d *Dispatcher) Handle(ctx context.Context, transport string, src string, reqBytes []byte) HandleResult {
	start := time.Now()
	parsed, err := dns.ParseRequestBounded(reqBytes)
	if err != nil {
		if d.Stats != nil {
			d.Stats.RecordQuery(transport, "parse-error")
		}
		return d.handleParseError(reqBytes)
	}

	client, _ := netip.ParseAddr(src)
	qname, qtype := extractQuestionInfo(parsed)
	resp, source, ok := d.dispatchWithDeadline(ctx, parsed, client)
	d.logRequest(ctx, transport, src, parsed, qname, qtype, len(reqBytes), source)
	if d.Stats != nil {
		d.Stats.RecordQuery(transport, source)
		d.Stats.RecordLatency(time.Since(start).Nanoseconds())
	}

	var respBytes []byte
	if ok {
		respBytes = mustMarshal(resp)
	}

	return HandleResult{
		ResponseBytes: respBytes,
		Source:        source,
		Parsed:        parsed,
		ParsedOK:      true,
	}
}

// dispatchWithDeadline runs resolve in a goroutine so a stuck provider
// can never hold a worker slot past Deadline; the goroutine itself is
// abandoned (not cancelled) since providers in this module hold no
// resources worth cleaning up mid-call. A worker that exceeds Deadline,
// or a request still in flight at shutdown, is abandoned outright: no
// response is sent, matching a client that simply sees no reply.
func (d *Dispatcher) dispatchWithDeadline(ctx context.Context, req dns.Packet, client netip.Addr) (dns.Packet, string, bool) {
	deadline := d.Deadline
	if deadline <= 0 {
		deadline = 5 * time.Second
	}

	type outcome struct {
		resp   dns.Packet
		source string
	}
	done := make(chan outcome, 1)
	go func() {
		resp, source := d.resolve(ctx, req, client)
		done <- outcome{resp: resp, source: source}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return dns.Packet{}, "shutdown", false
	case <-timer.C:
		if d.Logger != nil {
			d.Logger.Error("dns query exceeded work deadline", "id", req.Header.ID, "qname", questionName(req))
		}
		return dns.Packet{}, "timeout", false
	case o := <-done:
		return o.resp, o.source, true
	}
}

// resolve applies the rcode policy decisions (FORMERR/NOTIMP/REFUSED)
// that ParseRequestBounded intentionally leaves to the dispatcher,
// then selects and invokes the best-fit provider.
func (d *Dispatcher) resolve(ctx context.Context, req dns.Packet, client netip.Addr) (dns.Packet, string) {
	if len(req.Questions) == 0 || len(req.Questions) > 1 {
		return dns.BuildErrorResponse(req, uint16(dns.RCodeFormErr)), "formerr"
	}
	if dns.Opcode(req.Header.Flags) != dns.OpcodeQuery {
		return dns.BuildErrorResponse(req, uint16(dns.RCodeNotImp)), "notimp"
	}
	q := req.Questions[0]
	if q.Class != uint16(dns.ClassIN) {
		return dns.BuildErrorResponse(req, uint16(dns.RCodeRefused)), "refused"
	}

	qname, err := name.Parse(q.Name)
	if err != nil {
		return dns.BuildErrorResponse(req, uint16(dns.RCodeFormErr)), "formerr"
	}

	p, ok := d.Registry.Select(qname, client)
	if !ok {
		return dns.BuildErrorResponse(req, uint16(dns.RCodeNXDomain)), "no-zone"
	}

	resp, ok := p.Response(ctx, req, client)
	if !ok {
		if d.Logger != nil {
			d.Logger.Error("provider failed to answer", "id", req.Header.ID, "client", client.String(), "qname", q.Name, "qtype", q.Type)
		}
		return dns.BuildErrorResponse(req, uint16(dns.RCodeServFail)), "servfail"
	}

	for _, f := range p.Filters() {
		resp = f.Filter(req, resp)
	}
	return resp, "provider"
}

func questionName(req dns.Packet) string {
	if len(req.Questions) == 0 {
		return "<no-question>"
	}
	return req.Questions[0].Name
}

// handleParseError attempts to build an error response from a malformed request.
func (d *Dispatcher) handleParseError(reqBytes []byte) HandleResult {
	resp := tryBuildErrorFromRaw(reqBytes, uint16(dns.RCodeFormErr))
	if resp == nil {
		return HandleResult{ResponseBytes: nil, Source: "parse-error", ParsedOK: false}
	}
	return HandleResult{ResponseBytes: resp, Source: "formerr", ParsedOK: false}
}

// extractQuestionInfo extracts the QNAME and QTYPE from a parsed request.
func extractQuestionInfo(parsed dns.Packet) (string, int) {
	qname := "<no-question>"
	qtype := -1
	if len(parsed.Questions) > 0 {
		qname = parsed.Questions[0].Name
		qtype = int(parsed.Questions[0].Type)
	}
	return qname, qtype
}

// logRequest logs DNS request details at debug level.
func (d *Dispatcher) logRequest(
	ctx context.Context,
	transport, src string,
	parsed dns.Packet,
	qname string,
	qtype int,
	reqLen int,
	source string,
) {
	if d.Logger == nil || !d.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	d.Logger.DebugContext(
		ctx,
		"dns request",
		"transport", transport,
		"src", src,
		"id", int(parsed.Header.ID),
		"qname", qname,
		"qtype", qtype,
		"bytes", reqLen,
		"source", source,
	)
}

// mustMarshal serializes a DNS packet, returning nil on error.
func mustMarshal(p dns.Packet) []byte {
	b, err := p.Marshal()
	if err != nil {
		return nil
	}
	return b
}

// tryBuildErrorFromRaw attempts to construct an error response from raw bytes.
// Used when request parsing fails but the header/question can still be
// extracted to build a valid, ID-matching error response.
func tryBuildErrorFromRaw(reqBytes []byte, rcode uint16) []byte {
	off := 0
	h, err := dns.ParseHeader(reqBytes, &off)
	if err != nil {
		return nil
	}

	var questions []dns.Question
	if h.QDCount > 0 {
		q, err := dns.ParseQuestion(reqBytes, &off)
		if err == nil {
			questions = []dns.Question{q}
		}
	}

	p := dns.Packet{Header: dns.Header{ID: h.ID, Flags: h.Flags}, Questions: questions}
	b, _ := dns.BuildErrorResponse(p, rcode).Marshal()
	return b
}
