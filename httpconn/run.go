package httpconn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/wuzhengy/httpconn/internal/deadline"
	"github.com/wuzhengy/httpconn/internal/http1"
	"github.com/wuzhengy/httpconn/internal/obs"
	"github.com/wuzhengy/httpconn/internal/ratelimit"
	"github.com/wuzhengy/httpconn/internal/stream"
)

// serve is the per-Get/Start entry point: it owns the goroutine that
// drives one logical request (plus whatever redirects it chases) so
// that response_handler is never invoked re-entrantly from inside the
// calling goroutine's Get/Start stack frame, per spec.md §9.
func (c *Conn) serve(ctx context.Context, rawURL string, params getParams) error {
	resultCh := make(chan error, 1)
	go c.run(ctx, rawURL, params, resultCh)
	return <-resultCh
}

func (c *Conn) run(ctx context.Context, rawURL string, params getParams, resultCh chan<- error) {
	reqCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelActive = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelActive = nil
		c.mu.Unlock()
		cancel()
	}()

	reqCtx = withConnID(reqCtx, newConnID())

	called := false
	var lastErr error
	deliver := func(err error, parser *http1.Parser, data []byte) {
		lastErr = err
		if c.bottled {
			if called {
				return
			}
			called = true
		}
		c.respond(err, parser, data, c)
	}

	redirectsLeft := params.MaxRedirects
	curURL := rawURL
	for {
		ru, perr := parseRequestURL(curURL)
		if perr != nil {
			deliver(perr, nil, nil)
			break
		}
		if c.hostnameFilter != nil && !c.hostnameFilter(c, ru.Host) {
			deliver(newError("get", KindBlockedByIDNA, nil), nil, nil)
			break
		}
		ssl := ru.Scheme == "https"
		auth := params.Auth
		if auth == "" && ru.User != "" {
			auth = ru.User + ":" + ru.Pass
		}
		reqBuf := buildRequest(ru, params.Proxy, params.UserAgent, auth, c.bottled)

		host, port := ru.Host, ru.effectivePort()
		if params.Proxy.isHTTP() && !ssl {
			host, port = params.Proxy.Host, params.Proxy.Port
		}

		redirectLoc := c.runOne(reqCtx, host, port, ssl, ru, params, reqBuf, redirectsLeft, deliver)
		if redirectLoc == "" {
			break
		}
		redirectsLeft--
		loc, rerr := resolveRedirectLocation(ru, redirectLoc)
		if rerr != nil {
			deliver(rerr, nil, nil)
			break
		}
		c.logf(obs.Debug, "httpconn: redirecting to %s (%d left)", loc, redirectsLeft)
		c.meter.Counter("httpconn_redirects_total", 1)
		curURL = loc
	}

	resultCh <- lastErr
}

// runOne drives a single connect/write/read cycle for one (possibly
// redirected-to) URL. It returns a non-empty redirect Location when the
// response was a redirect with hops remaining; otherwise the request is
// terminal and deliver has already been called exactly as spec.md §4.7
// requires.
func (c *Conn) runOne(ctx context.Context, host string, port int, ssl bool, ru *requestURL, params getParams, reqBuf []byte, redirectsLeft int, deliver func(error, *http1.Parser, []byte)) string {
	nc, err := c.obtainStream(ctx, host, port, ssl, params, ru)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
			return ""
		}
		deliver(err, nil, nil)
		return ""
	}

	if werr := nc.SetWriteDeadline(time.Now().Add(params.Timeout)); werr != nil {
		c.closeStream(true)
		deliver(newError("write", KindNetwork, werr), nil, nil)
		return ""
	}
	if _, werr := nc.Write(reqBuf); werr != nil {
		c.closeStream(true)
		if errors.Is(werr, context.Canceled) || errors.Is(werr, net.ErrClosed) {
			return ""
		}
		deliver(newError("write", KindNetwork, werr), nil, nil)
		return ""
	}
	_ = nc.SetWriteDeadline(time.Time{})
	c.meter.Counter("httpconn_requests_total", 1, obs.Label{Key: "host", Value: host}, obs.Label{Key: "priority", Value: strconv.Itoa(int(params.Priority))})
	c.logf(obs.Debug, "httpconn: sent request to %s:%d (priority %d)", host, port, params.Priority)

	c.mu.Lock()
	if c.limiter == nil && c.rateLimitBPS > 0 {
		lim, _ := ratelimit.NewBucket(c.rateLimitBPS, func() *slog.Logger { return nil })
		c.limiter = lim
	}
	limiter := c.limiter
	c.mu.Unlock()

	parser := http1.NewParser()
	initCap := 4096
	if initCap > c.maxBottled {
		initCap = c.maxBottled
	}
	recvBuf := make([]byte, initCap)
	readPos := 0
	deadlineAt := time.Now().Add(params.Timeout)

	overall := deadline.NewTimer()
	overall.Reset(params.Timeout)
	defer overall.Stop()
	rlWait := deadline.NewTimer()
	defer rlWait.Stop()

	for {
		select {
		case <-overall.C():
			c.closeStream(true)
			deliver(newError("read", KindTimedOut, nil), parser, nil)
			return ""
		case <-ctx.Done():
			c.closeStream(true)
			return ""
		default:
		}

		if len(recvBuf) == readPos {
			if len(recvBuf) >= c.maxBottled {
				c.closeStream(true)
				deliver(newError("read", KindFileTooLarge, nil), parser, nil)
				return ""
			}
			newCap := len(recvBuf) * 2
			if newCap > c.maxBottled {
				newCap = c.maxBottled
			}
			grown := make([]byte, newCap)
			copy(grown, recvBuf[:readPos])
			recvBuf = grown
		}

		readAmount := len(recvBuf) - readPos
		if limiter != nil && c.rateLimitBPS > 0 {
			if quarter := c.rateLimitBPS / 4; quarter > 0 && quarter < readAmount {
				readAmount = quarter
			}
			if delay := limiter.Reserve(readAmount); delay > 0 {
				c.meter.Histogram("httpconn_ratelimit_wait_ms", float64(delay.Milliseconds()))
				rlWait.Reset(delay)
				select {
				case <-rlWait.C():
				case <-overall.C():
					c.closeStream(true)
					deliver(newError("read", KindTimedOut, nil), parser, nil)
					return ""
				case <-ctx.Done():
					c.closeStream(true)
					return ""
				}
			}
		}

		_ = nc.SetReadDeadline(deadlineAt)
		n, rerr := nc.Read(recvBuf[readPos : readPos+readAmount])
		c.meter.Counter("httpconn_bytes_read_total", float64(n))

		if n > 0 {
			if loc, done := c.onBytes(parser, &recvBuf, &readPos, n, redirectsLeft, deliver); done {
				return loc
			}
		}

		if rerr == nil {
			continue
		}
		if isTimeoutErr(rerr) {
			continue
		}
		if errors.Is(rerr, context.Canceled) || errors.Is(rerr, net.ErrClosed) {
			// Close(force) or an already-released stream: absorbed
			// silently, matching spec.md §4.7's response_handler
			// invariant that an aborted operation may deliver nothing.
			c.closeStream(true)
			return ""
		}
		if isEOF(rerr) {
			c.finishOnEOF(parser, recvBuf[:readPos], deliver)
			c.closeStream(true)
			return ""
		}
		c.closeStream(true)
		deliver(newError("read", KindNetwork, rerr), parser, nil)
		return ""
	}
}

// onBytes applies one read's worth of new bytes to the parser and, in
// streaming mode, to the caller directly. It reports loc (non-empty on
// a redirect) and done=true once this read completed the request (via
// redirect, bottled finish, or parse error already delivered).
func (c *Conn) onBytes(parser *http1.Parser, recvBuf *[]byte, readPos *int, n int, redirectsLeft int, deliver func(error, *http1.Parser, []byte)) (loc string, done bool) {
	buf := *recvBuf
	*readPos += n

	feedParser := c.bottled || !parser.HeaderFinished()
	if !feedParser {
		chunk := append([]byte(nil), buf[:*readPos]...)
		deliver(nil, parser, chunk)
		*readPos = 0
		return "", false
	}

	wasHeaderFinished := parser.HeaderFinished()
	if perr := parser.Feed(buf[:*readPos]); perr != nil {
		c.closeStream(true)
		deliver(newError("read", KindHTTPParse, perr), parser, nil)
		return "", true
	}
	justFinished := !wasHeaderFinished && parser.HeaderFinished()

	if justFinished && redirectsLeft > 0 && isRedirectStatus(parser.StatusCode()) {
		location := parser.Header("Location")
		if location == "" {
			c.closeStream(true)
			deliver(newError("read", KindMissingLocation, nil), parser, nil)
			return "", true
		}
		c.closeStream(true)
		return location, true
	}

	if !c.bottled && parser.HeaderFinished() {
		// Raw span, framing included, matching the later (already-raw)
		// chunks delivered above so a streaming consumer never sees the
		// first piece decoded and the rest still chunk-framed.
		chunk := append([]byte(nil), buf[parser.BodyStart():*readPos]...)
		deliver(nil, parser, chunk)
		*readPos = 0
	}

	if c.bottled && parser.Finished() {
		body, ierr := collapseAndMaybeInflate(parser, buf[:*readPos], c.maxBottled)
		if ierr != nil {
			deliver(ierr, parser, body)
		} else {
			deliver(nil, parser, body)
		}
		c.closeStream(false)
		return "", true
	}

	return "", false
}

func (c *Conn) finishOnEOF(parser *http1.Parser, buf []byte, deliver func(error, *http1.Parser, []byte)) {
	if !c.bottled || !parser.HeaderFinished() {
		deliver(newError("read", KindEOF, nil), parser, nil)
		return
	}
	body, ierr := collapseAndMaybeInflate(parser, buf, c.maxBottled)
	if ierr != nil {
		deliver(ierr, parser, body)
		return
	}
	if parser.Finished() {
		// A response the parser reports finished still counts as success
		// on this EOF path -- spec.md §4.7 callback clears err in this
		// case. A close-delimited body (no framing header) is never
		// reported finished, so it falls through to KindEOF below.
		deliver(nil, parser, body)
		return
	}
	deliver(newError("read", KindEOF, nil), parser, body)
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// obtainStream returns an open net.Conn to (host, port), reusing the
// Conn's existing stream when it already targets the same (host, port,
// ssl, bind) tuple (spec.md §4.7 start's reuse path), or resolving and
// fanning out across endpoints otherwise.
func (c *Conn) obtainStream(ctx context.Context, host string, port int, ssl bool, params getParams, ru *requestURL) (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, context.Canceled
	}
	reuse := c.netConn != nil && c.curHost == host && c.curPort == port && c.curSSL == ssl && c.curBind == params.BindAddr
	existing := c.netConn
	c.mu.Unlock()
	if reuse {
		c.logf(obs.Debug, "httpconn: reusing stream to %s:%d", host, port)
		return existing, nil
	}

	c.closeStream(true)

	kind := streamKindFor(params.Proxy, ssl)
	dialer := c.dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if params.BindAddr.IsValid() {
		d := *dialer
		d.LocalAddr = &net.TCPAddr{IP: net.IP(params.BindAddr.AsSlice())}
		dialer = &d
	}

	cfg := stream.Config{
		Kind:           kind,
		Dialer:         dialer,
		TLSConfig:      c.tlsConfig,
		ProxyAddr:      params.Proxy.addr(),
		ProxyHostnames: params.Proxy.ProxyHostnames,
	}
	if params.Proxy.isSOCKS5() && (params.Proxy.Username != "" || params.Proxy.Password != "") {
		cfg.SOCKS5Auth = &proxy.Auth{User: params.Proxy.Username, Password: params.Proxy.Password}
	}
	if params.Proxy.isHTTP() && (params.Proxy.Username != "" || params.Proxy.Password != "") {
		cfg.ProxyAuthBasic = basicAuth(params.Proxy.Username + ":" + params.Proxy.Password)
	}

	tlsServerName := ""
	if ssl {
		tlsServerName = ru.Host
	}

	if params.Proxy.isSOCKS5() && params.Proxy.ProxyHostnames {
		if _, perr := netip.ParseAddr(host); perr != nil {
			// Genuine hostname: hand it to the SOCKS5 peer for remote
			// resolution instead of resolving locally, per spec.md §4.7
			// connect's proxy_hostnames branch.
			dctx, cancel := context.WithTimeout(ctx, params.Timeout)
			nc, derr := stream.Open(dctx, cfg, net.JoinHostPort(host, strconv.Itoa(port)), tlsServerName)
			cancel()
			if derr != nil {
				return nil, classifyConnectErr(derr)
			}
			c.finishConnect(nc, host, port, ssl, params.BindAddr)
			return nc, nil
		}
		// Already an IP literal: fall through to the normal resolved
		// (single-endpoint) path below.
	}

	endpoints, eerr := c.resolveEndpoints(ctx, host, port, params)
	if eerr != nil {
		return nil, eerr
	}

	var lastErr error
	for i, ep := range endpoints {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		dctx, cancel := context.WithTimeout(ctx, params.Timeout)
		nc, derr := stream.Open(dctx, cfg, ep.String(), tlsServerName)
		cancel()
		if derr == nil {
			c.finishConnect(nc, host, port, ssl, params.BindAddr)
			return nc, nil
		}
		lastErr = derr
		c.logf(obs.Debug, "httpconn: connect to %s failed: %v", ep, derr)
		if i == len(endpoints)-1 {
			return nil, classifyConnectErr(lastErr)
		}
	}
	return nil, classifyConnectErr(lastErr)
}

func (c *Conn) resolveEndpoints(ctx context.Context, host string, port int, params getParams) ([]netip.AddrPort, error) {
	var endpoints []netip.AddrPort
	if lit, ok := literalEndpoint(host, port); ok {
		endpoints = []netip.AddrPort{lit}
	} else {
		resolveDeadline := deadline.EffectiveDeadline(time.Now(), params.Timeout, true)
		resolveCtx, cancel := context.WithDeadline(ctx, resolveDeadline)
		addrs, rerr := c.resolver.LookupHost(resolveCtx, host, params.ResolveFlags)
		cancel()
		if rerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, newError("resolve", KindResolve, rerr)
		}
		endpoints = make([]netip.AddrPort, 0, len(addrs))
		for _, a := range addrs {
			endpoints = append(endpoints, netip.AddrPortFrom(a, uint16(port)))
		}
	}

	if c.endpointFilter != nil {
		c.endpointFilter(c, &endpoints)
	}
	rand.Shuffle(len(endpoints), func(i, j int) { endpoints[i], endpoints[j] = endpoints[j], endpoints[i] })

	if params.BindAddr.IsValid() {
		filtered := endpoints[:0]
		for _, e := range endpoints {
			if e.Addr().Is4() == params.BindAddr.Is4() {
				filtered = append(filtered, e)
			}
		}
		endpoints = filtered
		if len(endpoints) == 0 {
			return nil, newError("resolve", KindAddressFamily, nil)
		}
	}
	if len(endpoints) == 0 {
		return nil, newError("resolve", KindResolve, errors.New("httpconn: no addresses"))
	}
	return endpoints, nil
}

func (c *Conn) finishConnect(nc net.Conn, host string, port int, ssl bool, bind netip.Addr) {
	c.mu.Lock()
	c.netConn = nc
	c.curHost, c.curPort, c.curSSL, c.curBind = host, port, ssl, bind
	c.mu.Unlock()
	c.meter.Counter("httpconn_connects_total", 1, obs.Label{Key: "host", Value: host})
	if c.connectHandler != nil {
		c.connectHandler(c)
	}
}

func classifyConnectErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError("connect", KindTimedOut, err)
	}
	return newError("connect", KindConnect, err)
}

func literalEndpoint(host string, port int) (netip.AddrPort, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(port)), true
}

func streamKindFor(ps ProxySettings, ssl bool) stream.Kind {
	switch {
	case ps.isSOCKS5() && ssl:
		return stream.KindTLSSOCKS5
	case ps.isSOCKS5():
		return stream.KindSOCKS5
	case ps.isHTTP() && ssl:
		return stream.KindHTTPProxy
	case ssl:
		return stream.KindTLS
	default:
		return stream.KindPlain
	}
}
