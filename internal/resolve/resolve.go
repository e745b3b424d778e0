// Package resolve provides asynchronous hostname resolution for the
// connection state machine. A Resolver is any service that turns a
// hostname into a set of addresses. The connection state machine calls
// LookupHost synchronously on the goroutine that runs the request,
// bounded by that request's context.
package resolve

import (
	"context"
	"net/netip"
)

// Flags narrow which address families a lookup should return.
type Flags int

const (
	// FlagsAny returns whatever address families the resolver has.
	FlagsAny Flags = 0
	// FlagsIPv4Only restricts results to IPv4 addresses.
	FlagsIPv4Only Flags = 1 << iota
	// FlagsIPv6Only restricts results to IPv6 addresses.
	FlagsIPv6Only
)

// Resolver turns a hostname into a set of addresses.
type Resolver interface {
	// LookupHost resolves hostname to zero or more addresses. An IP
	// literal hostname must be answered without a network round trip, as
	// a result holding just that address, or nothing when flags exclude
	// its family.
	LookupHost(ctx context.Context, hostname string, flags Flags) ([]netip.Addr, error)
}

func filterFamily(addrs []netip.Addr, flags Flags) []netip.Addr {
	if flags == FlagsAny {
		return addrs
	}
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		switch {
		case flags&FlagsIPv4Only != 0 && a.Is4():
			out = append(out, a)
		case flags&FlagsIPv6Only != 0 && a.Is6() && !a.Is4In6():
			out = append(out, a)
		}
	}
	return out
}

// literalOrNil returns a single-element result if hostname is already an
// IP literal, matching the spec requirement that IP-literal hostnames
// never trigger a network lookup.
func literalOrNil(hostname string) ([]netip.Addr, bool) {
	addr, err := netip.ParseAddr(hostname)
	if err != nil {
		return nil, false
	}
	return []netip.Addr{addr}, true
}
