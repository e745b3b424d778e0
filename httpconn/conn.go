package httpconn

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"sync"

	"github.com/wuzhengy/httpconn/internal/http1"
	"github.com/wuzhengy/httpconn/internal/obs"
	"github.com/wuzhengy/httpconn/internal/ratelimit"
	"github.com/wuzhengy/httpconn/internal/resolve"
)

// Conn drives one logical HTTP/1.1 GET request (plus whatever redirects
// it chases) from URL to final callback. A Conn is safe to reuse for a
// second Get/Start call once the first has returned, and its underlying
// stream is kept open across calls that target the same (host, port,
// ssl, bind) tuple; it is not safe for concurrent Get/Start calls on the
// same Conn, matching spec.md §3's "only one outstanding read, write, or
// connect at a time" invariant.
type Conn struct {
	resolver   resolve.Resolver
	respond    ResponseHandler
	bottled    bool
	maxBottled int

	connectHandler ConnectHandler
	endpointFilter EndpointFilter
	hostnameFilter HostnameFilter

	tlsConfig *tls.Config
	dialer    *net.Dialer

	logger obs.Logger
	meter  obs.Meter

	mu           sync.Mutex
	netConn      net.Conn
	curHost      string
	curPort      int
	curSSL       bool
	curBind      netip.Addr
	rateLimitBPS int
	limiter      *ratelimit.Bucket
	cancelActive context.CancelFunc
	closed       bool
}

// New returns a Conn ready to issue one Get/Start call at a time.
// respond is mandatory: it is invoked on every body chunk in streaming
// mode (bottled=false) and exactly once in bottled mode. maxBottledBufferSize
// bounds how large the receive buffer may grow in bottled mode before
// KindFileTooLarge is delivered instead of the response.
func New(resolver resolve.Resolver, respond ResponseHandler, bottled bool, maxBottledBufferSize int, opts ...Option) *Conn {
	if respond == nil {
		panic("httpconn: respond handler must not be nil")
	}
	if maxBottledBufferSize <= 0 {
		maxBottledBufferSize = 16 << 20
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	c := &Conn{
		resolver:       resolver,
		respond:        respond,
		bottled:        bottled,
		maxBottled:     maxBottledBufferSize,
		connectHandler: cfg.ConnectHandler,
		endpointFilter: cfg.EndpointFilter,
		hostnameFilter: cfg.HostnameFilter,
		tlsConfig:      cfg.TLSConfig,
		dialer:         cfg.Dialer,
		logger:         cfg.Logger,
		meter:          cfg.Meter,
		rateLimitBPS:   cfg.RateLimitBPS,
	}
	if c.logger == nil {
		c.logger = obs.NopLogger{}
	}
	if c.meter == nil {
		c.meter = obs.NopMeter{}
	}
	return c
}

// Get parses rawURL, builds the request, and drives it to completion,
// chasing redirects per WithMaxRedirects. It returns the terminal error
// delivered to the response handler, which the handler may have also
// been invoked with multiple times beforehand in streaming mode. In
// bottled mode nil means success; in streaming mode the terminal
// delivery always carries KindEOF (even for a clean transfer) unless
// the connection fails some other way first, since callback only
// clears the error when the response was bottled and the parser
// reports it finished.
func (c *Conn) Get(ctx context.Context, rawURL string, opts ...GetOption) error {
	params, err := buildGetParams(opts)
	if err != nil {
		return err
	}
	return c.serve(ctx, rawURL, params)
}

// Start connects directly to host:port without parsing a URL, for
// callers that already resolved scheme and host themselves. The
// request path defaults to "/"; override it with WithPath.
func (c *Conn) Start(ctx context.Context, host string, port int, ssl bool, opts ...GetOption) error {
	params, err := buildGetParams(opts)
	if err != nil {
		return err
	}
	ru := &requestURL{
		Scheme: schemeFor(ssl),
		Host:   host,
		Port:   port,
		Path:   params.Path,
	}
	return c.serve(ctx, ru.absoluteURL(), params)
}

func schemeFor(ssl bool) string {
	if ssl {
		return "https"
	}
	return "http"
}

// Close closes any held stream and marks the Conn closed, so a later
// Get/Start opens no stream and delivers nothing. With force=true any
// in-flight Get is also cancelled through its context. Both modes close
// the held stream the same way, with net.Conn.Close; there is no
// separate graceful TLS/SOCKS5 shutdown for force=false. A read or
// write in flight on that stream then fails and is absorbed without a
// delivery.
func (c *Conn) Close(force bool) {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancelActive
	nc := c.netConn
	c.netConn = nil
	c.mu.Unlock()

	if force && cancel != nil {
		cancel()
	}
	if nc != nil {
		_ = nc.Close()
	}
}

// SetRateLimit changes the byte-per-second cap, taking effect
// immediately on a live read loop. Call it before Get to guarantee it
// applies to that request -- per spec.md §9's Open Question, a Conn
// with no stream yet open simply remembers the value for the next Get.
func (c *Conn) SetRateLimit(bytesPerSecond int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitBPS = bytesPerSecond
	if c.limiter != nil {
		c.limiter.SetLimit(bytesPerSecond)
	}
}

func (c *Conn) logf(level obs.Level, format string, args ...interface{}) {
	c.logger.Logf(level, format, args...)
}

// closeStream tears down the current stream when hard is true. When
// hard is false it is a deliberate no-op: the stream is left open and
// attached to the Conn so a following Get/Start targeting the same
// (host, port, ssl, bind) tuple can attempt the reuse path in
// obtainStream, per spec.md §4.7 start's reuse check.
func (c *Conn) closeStream(hard bool) {
	if !hard {
		return
	}
	c.mu.Lock()
	nc := c.netConn
	c.netConn = nil
	c.mu.Unlock()
	if nc != nil {
		_ = nc.Close()
	}
}

func isRedirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// collapseAndMaybeInflate implements spec.md §4.7 callback's bottled-mode
// post-processing: collapse chunk framing in place, then gzip-inflate if
// Content-Encoding names gzip/x-gzip. On inflate failure the still
// compressed body is returned alongside the error, for diagnostics.
func collapseAndMaybeInflate(p *http1.Parser, buf []byte, maxLen int) (body []byte, err error) {
	collapsed := p.CollapseChunks(buf)
	body = collapsed[p.BodyStart():]
	enc := p.Header("Content-Encoding")
	if enc != "gzip" && enc != "x-gzip" {
		return body, nil
	}
	inflated, ierr := gzipInflate(body, maxLen)
	if ierr != nil {
		return body, newError("callback", KindGzipInflate, ierr)
	}
	return inflated, nil
}
