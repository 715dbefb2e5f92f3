// Package dns implements the RFC 1035 wire format this server speaks:
// header/question/record parsing with compression-pointer handling,
// packet assembly, and the flag/type/rcode constants, plus the bounded
// request validation the dispatcher runs on every inbound message
// (RFC 1034/1035, RFC 2308 negative answers, RFC 3596 AAAA).
package dns

import "errors"

// ErrDNSError marks any wire-format violation found while parsing or
// serializing a message. Specific failures wrap it with context via
// fmt.Errorf("...: %w", ErrDNSError) so callers can match the class
// with errors.Is without caring about the exact defect.
var ErrDNSError = errors.New("dns wire error")
