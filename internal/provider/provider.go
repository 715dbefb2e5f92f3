// Package provider defines the contract zone data sources and response
// filters implement, and the registry that performs best-fit zone
// matching across every registered provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
)

// ErrDuplicateFilterZone is returned by Register when a filter's zone
// collides with another filter already registered on any provider.
var ErrDuplicateFilterZone = errors.New("provider: duplicate filter zone")

// Filter post-processes a provider's response before it goes on the
// wire. Filters run in registration order and must be safe for
// concurrent use, since a single filter instance is shared across
// every worker goroutine.
type Filter interface {
	// Zone reports the zone this filter applies to, used by the
	// registry to detect zone collisions between filters at
	// registration time.
	Zone() name.Name
	// Filter transforms resp (the provider's answer to req) and
	// returns the rewritten response. Filter must be idempotent:
	// applying it twice must equal applying it once.
	Filter(req dns.Packet, resp dns.Packet) dns.Packet
}

// Provider answers queries for one or more zones it has authority
// over. Implementations are registered once at startup and must be
// safe for concurrent use thereafter; Registry never mutates a
// Provider after Register returns.
type Provider interface {
	// Zones lists every zone this provider claims authority for, for
	// the given client. The registry calls this on every dispatch so a
	// provider may scope its zones by client address (split-horizon);
	// the providers in this module return the same fixed list for every
	// client. Introspection passes the zero netip.Addr.
	Zones(client netip.Addr) []name.Name
	// Response answers req, a question the registry has already
	// determined falls under one of this provider's zones. clientAddr
	// is the requesting peer, exposed for providers that vary answers
	// by client (split-horizon); none of the providers in this module
	// do, but the contract carries it for future use. ok is false only
	// when the provider cannot produce a response at all (an internal
	// failure the dispatcher should map to SERVFAIL); a negative
	// answer such as NXDOMAIN is still ok == true.
	Response(ctx context.Context, req dns.Packet, clientAddr netip.Addr) (resp dns.Packet, ok bool)
	// Filters lists the filters that apply to this provider's
	// responses, in the order they must run.
	Filters() []Filter
}


// Registry holds every provider and filter registered at startup and
// performs the best-fit zone match described for query dispatch: the
// longest-suffix match across all registered providers' zones, with
// an exact match short-circuiting the search and ties broken by
// registration order.
//
// A Registry is write-once: Register must not be called once queries
// are being dispatched against it.
type Registry struct {
	providers   []Provider
	filterZones map[string]struct{}
}

// NewRegistry returns an empty, ready-to-populate Registry.
func NewRegistry() *Registry {
	return &Registry{filterZones: make(map[string]struct{})}
}

// Register adds p to the registry. It returns ErrDuplicateFilterZone,
// wrapped with the offending zone, if any of p's filters claims a zone
// already claimed by a filter on a previously registered provider.
func (r *Registry) Register(p Provider) error {
	for _, f := range p.Filters() {
		key := f.Zone().String()
		if _, dup := r.filterZones[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateFilterZone, key)
		}
	}
	for _, f := range p.Filters() {
		r.filterZones[f.Zone().String()] = struct{}{}
	}
	r.providers = append(r.providers, p)
	return nil
}

// Select returns the provider with the best-fit zone for qname as seen
// by client: the zone that is qname or an ancestor of qname with the
// greatest number of common labels, i.e. the longest matching suffix.
// An exact match (qname equals a registered zone) short-circuits the
// search immediately. Ties on common-label count are broken by
// registration order — the earliest-registered provider wins, which
// falls out naturally from only replacing the current best on a
// strictly greater count.
func (r *Registry) Select(qname name.Name, client netip.Addr) (Provider, bool) {
	var best Provider
	bestCommon := -1
	found := false

	for _, p := range r.providers {
		for _, zone := range p.Zones(client) {
			rel, _, common := qname.FullCompare(zone)
			if rel == name.EQUAL {
				return p, true
			}
			if rel != name.SUBDOMAIN {
				continue
			}
			if common > bestCommon {
				best = p
				bestCommon = common
				found = true
			}
		}
	}
	return best, found
}

// AllZones returns every zone known to the registry, in registration
// order, for introspection (the read-only API's provider listing).
func (r *Registry) AllZones() []name.Name {
	var out []name.Name
	for _, p := range r.providers {
		out = append(out, p.Zones(netip.Addr{})...)
	}
	return out
}

// Providers returns every registered provider in registration order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}
