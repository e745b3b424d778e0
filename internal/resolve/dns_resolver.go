package resolve

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/miekg/dns"
)

// DNSResolver issues direct A/AAAA queries against a configured set of
// nameservers using github.com/miekg/dns, instead of going through the
// host's resolver library. It is the resolver used when the caller wants
// to control lookup behavior precisely (which servers are asked, under
// the caller's context deadline) rather than delegate to cgo/NSS. Each
// query goes over UDP to one nameserver picked round-robin; a failed
// query is not retried on another server.
type DNSResolver struct {
	client      *dns.Client
	nameservers []string // "host:port" entries, used round-robin
	mu          sync.Mutex
	next        int // round-robin cursor over nameservers
}

// NewDNSResolver returns a DNSResolver that queries the given
// "host:port" nameserver addresses in round-robin order.
func NewDNSResolver(nameservers []string) (*DNSResolver, error) {
	if len(nameservers) == 0 {
		return nil, fmt.Errorf("resolve: at least one nameserver is required")
	}
	return &DNSResolver{
		client:      &dns.Client{},
		nameservers: nameservers,
	}, nil
}

// NewDNSResolverFromSystemConfig builds a DNSResolver from the system's
// /etc/resolv.conf, falling back to the standard default port.
func NewDNSResolverFromSystemConfig() (*DNSResolver, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, fmt.Errorf("resolve: reading resolv.conf: %w", err)
	}
	var servers []string
	for _, s := range cfg.Servers {
		servers = append(servers, fmt.Sprintf("%s:%s", s, cfg.Port))
	}
	return NewDNSResolver(servers)
}

func (r *DNSResolver) pickServer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.nameservers[r.next%len(r.nameservers)]
	r.next++
	return s
}

// LookupHost implements Resolver.
func (r *DNSResolver) LookupHost(ctx context.Context, hostname string, flags Flags) ([]netip.Addr, error) {
	if addrs, ok := literalOrNil(hostname); ok {
		return filterFamily(addrs, flags), nil
	}

	var addrs []netip.Addr
	var errA, errAAAA error
	if flags != FlagsIPv6Only {
		var a []netip.Addr
		a, errA = r.lookupType(ctx, hostname, dns.TypeA)
		addrs = append(addrs, a...)
	}
	if flags != FlagsIPv4Only {
		var a []netip.Addr
		a, errAAAA = r.lookupType(ctx, hostname, dns.TypeAAAA)
		addrs = append(addrs, a...)
	}
	if len(addrs) == 0 {
		if errA != nil {
			return nil, errA
		}
		if errAAAA != nil {
			return nil, errAAAA
		}
		return nil, fmt.Errorf("resolve: no addresses found for %q", hostname)
	}
	return filterFamily(addrs, flags), nil
}

func (r *DNSResolver) lookupType(ctx context.Context, hostname string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), qtype)
	m.RecursionDesired = true

	server := r.pickServer()
	reply, _, err := r.client.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("resolve: query %s via %s: %w", hostname, server, err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("resolve: %s: %s", hostname, dns.RcodeToString[reply.Rcode])
	}

	var addrs []netip.Addr
	for _, rr := range reply.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if a, ok := netip.AddrFromSlice(v.A.To4()); ok {
				addrs = append(addrs, a)
			}
		case *dns.AAAA:
			if a, ok := netip.AddrFromSlice(v.AAAA.To16()); ok {
				addrs = append(addrs, a)
			}
		}
	}
	return addrs, nil
}
