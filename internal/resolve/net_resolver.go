package resolve

import (
	"context"
	"net"
	"net/netip"
)

// NetResolver delegates to net.Resolver, i.e. the host's own resolution
// machinery (cgo/NSS on platforms where that matters: mDNS, LDAP-backed
// hosts files, /etc/nsswitch.conf-driven name services that a bare DNS
// client cannot reach). It exists as the escape hatch for environments
// where DNSResolver's direct UDP/TCP queries aren't enough.
type NetResolver struct {
	R *net.Resolver // nil means net.DefaultResolver
}

func (n *NetResolver) resolver() *net.Resolver {
	if n.R != nil {
		return n.R
	}
	return net.DefaultResolver
}

// LookupHost implements Resolver.
func (n *NetResolver) LookupHost(ctx context.Context, hostname string, flags Flags) ([]netip.Addr, error) {
	if addrs, ok := literalOrNil(hostname); ok {
		return filterFamily(addrs, flags), nil
	}
	ips, err := n.resolver().LookupIP(ctx, lookupNetwork(flags), hostname)
	if err != nil {
		return nil, err
	}
	addrs := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	return filterFamily(addrs, flags), nil
}

func lookupNetwork(flags Flags) string {
	switch flags {
	case FlagsIPv4Only:
		return "ip4"
	case FlagsIPv6Only:
		return "ip6"
	default:
		return "ip"
	}
}
