// Package stream provides the byte-stream variants a connection can run
// over: plain TCP, TLS over TCP, SOCKS5-tunneled TCP, TLS over a SOCKS5
// tunnel, and an HTTP-proxy CONNECT tunnel (optionally itself wrapped in
// TLS). Each variant ultimately produces a net.Conn; callers read/write
// it directly rather than going through another abstraction layer.
package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

var timeZero = time.Time{}

// Kind identifies which byte-stream variant a Config describes.
type Kind int

const (
	// KindPlain dials the destination directly over TCP.
	KindPlain Kind = iota
	// KindTLS dials the destination directly and wraps it in TLS.
	KindTLS
	// KindSOCKS5 tunnels the TCP connection through a SOCKS5 proxy.
	KindSOCKS5
	// KindTLSSOCKS5 tunnels through SOCKS5 and wraps the result in TLS.
	KindTLSSOCKS5
	// KindHTTPProxy tunnels through an HTTP proxy's CONNECT method,
	// optionally wrapping the tunnel in TLS for an https destination.
	KindHTTPProxy
)

// Config describes how to establish a byte stream to a single
// destination endpoint.
type Config struct {
	Kind Kind

	// Dialer is used for the underlying TCP dial (to the destination
	// directly, or to the proxy). A nil Dialer uses &net.Dialer{}.
	Dialer *net.Dialer

	// TLSConfig is cloned and completed (ServerName/NextProtos defaulted)
	// for KindTLS and KindTLSSOCKS5. Nil means an empty *tls.Config.
	TLSConfig *tls.Config

	// ProxyAddr is the "host:port" of the SOCKS5 or HTTP proxy. Required
	// for KindSOCKS5, KindTLSSOCKS5, and KindHTTPProxy.
	ProxyAddr string

	// SOCKS5Auth carries SOCKS5 username/password credentials, and
	// ProxyAuthBasic the Proxy-Authorization header value (already
	// "Basic ..."-encoded) for KindHTTPProxy. Nil/empty means no auth.
	SOCKS5Auth     *proxy.Auth
	ProxyAuthBasic string

	// ProxyHostnames, when true, sends the destination hostname to the
	// SOCKS5 proxy for remote resolution instead of resolving it locally
	// first. Only meaningful for KindSOCKS5/KindTLSSOCKS5.
	ProxyHostnames bool
}

// Open establishes the byte stream described by cfg to addr ("host:port",
// host may be a literal IP or -- when cfg.ProxyHostnames is set on a SOCKS5
// variant -- a hostname resolved by the proxy itself). tlsServerName sets
// the TLS ServerName/SNI unless cfg.TLSConfig already names one. When it
// is empty, KindTLS uses addr's host part, KindHTTPProxy returns the
// tunnel without TLS, and KindTLSSOCKS5 handshakes with no ServerName.
func Open(ctx context.Context, cfg Config, addr, tlsServerName string) (net.Conn, error) {
	switch cfg.Kind {
	case KindPlain:
		return dialDirect(ctx, cfg, addr)
	case KindTLS:
		return dialTLS(ctx, cfg, addr, tlsServerName)
	case KindSOCKS5:
		return dialSOCKS5(ctx, cfg, addr)
	case KindTLSSOCKS5:
		conn, err := dialSOCKS5(ctx, cfg, addr)
		if err != nil {
			return nil, err
		}
		return wrapTLS(ctx, cfg, conn, tlsServerName)
	case KindHTTPProxy:
		return dialHTTPProxy(ctx, cfg, addr, tlsServerName)
	default:
		return nil, fmt.Errorf("stream: unknown kind %d", cfg.Kind)
	}
}

func dialer(cfg Config) *net.Dialer {
	if cfg.Dialer != nil {
		return cfg.Dialer
	}
	return &net.Dialer{}
}

func dialDirect(ctx context.Context, cfg Config, addr string) (net.Conn, error) {
	return dialer(cfg).DialContext(ctx, "tcp", addr)
}

func tlsConfigFor(cfg Config, serverName string) *tls.Config {
	base := cfg.TLSConfig
	if base == nil {
		base = &tls.Config{}
	}
	need := base.ServerName == "" || len(base.NextProtos) == 0
	if !need {
		return base
	}
	c := base.Clone()
	if c.ServerName == "" {
		c.ServerName = serverName
	}
	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{"http/1.1"}
	}
	return c
}

func dialTLS(ctx context.Context, cfg Config, addr, serverName string) (net.Conn, error) {
	td := tls.Dialer{NetDialer: dialer(cfg), Config: tlsConfigFor(cfg, serverName)}
	return td.DialContext(ctx, "tcp", addr)
}

func wrapTLS(ctx context.Context, cfg Config, conn net.Conn, serverName string) (net.Conn, error) {
	tc := tls.Client(conn, tlsConfigFor(cfg, serverName))
	if dl, ok := ctx.Deadline(); ok {
		_ = tc.SetDeadline(dl)
	}
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = tc.SetDeadline(timeZero)
	return tc, nil
}

func dialSOCKS5(ctx context.Context, cfg Config, addr string) (net.Conn, error) {
	if cfg.ProxyAddr == "" {
		return nil, fmt.Errorf("stream: SOCKS5 requires ProxyAddr")
	}
	forward := &contextDialerAdapter{dialer(cfg)}
	child, err := proxy.SOCKS5("tcp", cfg.ProxyAddr, cfg.SOCKS5Auth, forward)
	if err != nil {
		// proxy.SOCKS5 only errors on a non-nil, malformed Auth; still
		// handle it rather than relying on the documented never-fails
		// behavior for the zero-value case.
		return nil, fmt.Errorf("stream: configuring SOCKS5 dialer: %w", err)
	}
	cd, ok := child.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("stream: SOCKS5 dialer does not support contexts")
	}
	return cd.DialContext(ctx, "tcp", addr)
}

// contextDialerAdapter lets our *net.Dialer satisfy proxy.Dialer, which
// golang.org/x/net/proxy.SOCKS5 requires for its "forward" argument; it
// prefers DialContext internally when the concrete type supports it.
type contextDialerAdapter struct {
	d *net.Dialer
}

func (a *contextDialerAdapter) Dial(network, address string) (net.Conn, error) {
	return a.d.Dial(network, address)
}

func (a *contextDialerAdapter) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return a.d.DialContext(ctx, network, address)
}

func dialHTTPProxy(ctx context.Context, cfg Config, addr, tlsServerName string) (net.Conn, error) {
	if cfg.ProxyAddr == "" {
		return nil, fmt.Errorf("stream: HTTP proxy requires ProxyAddr")
	}
	conn, err := dialer(cfg).DialContext(ctx, "tcp", cfg.ProxyAddr)
	if err != nil {
		return nil, err
	}
	tunneled, err := connectTunnel(ctx, conn, addr, cfg.ProxyAuthBasic)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if tlsServerName == "" {
		return tunneled, nil
	}
	return wrapTLS(ctx, cfg, tunneled, tlsServerName)
}

// connectTunnel issues a CONNECT request over conn and, on a 200
// response, returns a net.Conn ready for the tunneled protocol -- conn
// itself, or conn wrapped to replay any bytes the status-line reader
// buffered past the response headers (see readConnectStatus).
func connectTunnel(ctx context.Context, conn net.Conn, addr, proxyAuthBasic string) (net.Conn, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	defer conn.SetDeadline(timeZero)

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if proxyAuthBasic != "" {
		req += fmt.Sprintf("Proxy-Authorization: %s\r\n", proxyAuthBasic)
	}
	req += "Connection: keep-alive\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		return nil, err
	}
	code, leftover, err := readConnectStatus(conn)
	if err != nil {
		return nil, err
	}
	if code != 200 {
		return nil, fmt.Errorf("stream: proxy CONNECT failed: status %d", code)
	}
	if len(leftover) == 0 {
		return conn, nil
	}
	return &prefixConn{Conn: conn, prefix: leftover}, nil
}
