package httpconn

// ProxyType selects how a request routes through an intermediary.
type ProxyType int

const (
	// ProxyNone connects directly to the destination.
	ProxyNone ProxyType = iota
	// ProxySOCKS5 tunnels through an unauthenticated SOCKS5 proxy.
	ProxySOCKS5
	// ProxySOCKS5PW tunnels through a username/password-authenticated SOCKS5 proxy.
	ProxySOCKS5PW
	// ProxyHTTP routes plain-HTTP requests through an HTTP proxy as an
	// absolute-URI request, and HTTPS requests through a CONNECT tunnel.
	ProxyHTTP
	// ProxyHTTPPW is ProxyHTTP with Proxy-Authorization credentials.
	ProxyHTTPPW
)

// ProxySettings is a per-request snapshot of how to route through a proxy.
type ProxySettings struct {
	Type           ProxyType
	Host           string
	Port           int
	Username       string
	Password       string
	ProxyHostnames bool // SOCKS5 only: resolve the destination name at the proxy.
}

func (p ProxySettings) isSOCKS5() bool {
	return p.Type == ProxySOCKS5 || p.Type == ProxySOCKS5PW
}

func (p ProxySettings) isHTTP() bool {
	return p.Type == ProxyHTTP || p.Type == ProxyHTTPPW
}

func (p ProxySettings) addr() string {
	return joinHostPort(p.Host, p.Port)
}
