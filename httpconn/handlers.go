package httpconn

import (
	"net/netip"

	"github.com/wuzhengy/httpconn/internal/http1"
)

// Priority is accepted by Get/Start and carried across redirects, but is
// never acted upon by Conn itself -- there is no surrounding connection
// queue here to hint at. It is only observable through logging/metric
// labels attached by the caller's Logger/Meter.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// ResponseHandler is invoked on every body chunk in streaming mode and
// exactly once in bottled mode. parser is nil when err is a synchronous
// pre-I/O error (bad URL, blocked hostname, unsupported scheme).
type ResponseHandler func(err error, parser *http1.Parser, data []byte, c *Conn)

// ConnectHandler fires once the TCP/TLS/SOCKS5 handshake completes,
// before the request is written.
type ConnectHandler func(c *Conn)

// EndpointFilter may remove entries from the resolved endpoint list
// in place before connect attempts begin.
type EndpointFilter func(c *Conn, endpoints *[]netip.AddrPort)

// HostnameFilter returns false to block a hostname outright, which
// surfaces to the caller as KindBlockedByIDNA.
type HostnameFilter func(c *Conn, host string) bool
