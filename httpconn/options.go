package httpconn

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wuzhengy/httpconn/internal/obs"
	"github.com/wuzhengy/httpconn/internal/resolve"
)

var validate = validator.New()

// config holds the construction-time settings assembled from Option
// values passed to New.
type config struct {
	Logger         obs.Logger
	Meter          obs.Meter
	ConnectHandler ConnectHandler
	EndpointFilter EndpointFilter
	HostnameFilter HostnameFilter
	TLSConfig      *tls.Config
	Dialer         *net.Dialer
	RateLimitBPS   int `validate:"gte=0"`
}

func defaultConfig() config {
	return config{Logger: obs.NopLogger{}, Meter: obs.NopMeter{}}
}

// Option configures a Conn at construction time.
type Option func(*config)

// WithLogger installs a Logger for Debug messages on stream reuse, sent
// requests, failed connect attempts and redirects. The default is a
// no-op logger.
func WithLogger(l obs.Logger) Option { return func(c *config) { c.Logger = l } }

// WithMeter installs a Meter for dial/redirect/rate-limit/byte counters.
// The default is a no-op meter.
func WithMeter(m obs.Meter) Option { return func(c *config) { c.Meter = m } }

// WithConnectHandler installs the hook fired once the TCP/TLS/SOCKS5
// handshake completes, before the request is written.
func WithConnectHandler(h ConnectHandler) Option { return func(c *config) { c.ConnectHandler = h } }

// WithEndpointFilter installs a hook that may prune resolved endpoints
// before connect attempts begin.
func WithEndpointFilter(f EndpointFilter) Option { return func(c *config) { c.EndpointFilter = f } }

// WithHostnameFilter installs a hook that can block a hostname outright
// (surfaced to the caller as KindBlockedByIDNA).
func WithHostnameFilter(f HostnameFilter) Option { return func(c *config) { c.HostnameFilter = f } }

// WithTLSConfig sets the base *tls.Config cloned for TLS/TLS-over-SOCKS5
// dials; ServerName and NextProtos are filled in per request when absent.
func WithTLSConfig(t *tls.Config) Option { return func(c *config) { c.TLSConfig = t } }

// WithDialer overrides the *net.Dialer used for every TCP dial (to the
// destination directly, or to a proxy).
func WithDialer(d *net.Dialer) Option { return func(c *config) { c.Dialer = d } }

// WithInitialRateLimit sets the byte-per-second cap in effect before the
// first Get call; equivalent to calling SetRateLimit immediately after
// New.
func WithInitialRateLimit(bytesPerSecond int) Option {
	return func(c *config) { c.RateLimitBPS = bytesPerSecond }
}

// getParams is the validated parameter set behind Get/Start's variadic
// GetOption values, mapping 1:1 onto spec.md §6's get/start arguments.
type getParams struct {
	Timeout      time.Duration `validate:"gt=0"`
	Priority     Priority      `validate:"gte=0,lte=2"`
	Proxy        ProxySettings `validate:"-"`
	MaxRedirects int           `validate:"gte=0"`
	UserAgent    string
	BindAddr     netip.Addr    `validate:"-"`
	ResolveFlags resolve.Flags `validate:"-"`
	Auth         string
	Path         string // used by Start, which has no URL to parse a path from
}

func defaultGetParams() getParams {
	return getParams{
		Timeout:      30 * time.Second,
		Priority:     PriorityNormal,
		MaxRedirects: 5,
		Path:         "/",
	}
}

// GetOption configures a single Get or Start call.
type GetOption func(*getParams)

// WithTimeout sets the overall completion deadline (§4.7's
// completion_timeout), doubled automatically while resolution is
// outstanding.
func WithTimeout(d time.Duration) GetOption { return func(p *getParams) { p.Timeout = d } }

// WithPriority is carried across redirects and attached to log/metric
// labels, but never changes scheduling -- see DESIGN.md's Open
// Questions section.
func WithPriority(pr Priority) GetOption { return func(p *getParams) { p.Priority = pr } }

// WithProxy routes the request through proxy instead of connecting
// directly.
func WithProxy(proxy ProxySettings) GetOption { return func(p *getParams) { p.Proxy = proxy } }

// WithMaxRedirects bounds how many redirect hops Get will chase before
// delivering the (still-redirect) response as-is.
func WithMaxRedirects(n int) GetOption { return func(p *getParams) { p.MaxRedirects = n } }

// WithUserAgent sets the User-Agent header; omitted entirely when empty.
func WithUserAgent(ua string) GetOption { return func(p *getParams) { p.UserAgent = ua } }

// WithBindAddr restricts connect attempts to endpoints whose address
// family matches addr, and binds the local socket to it.
func WithBindAddr(addr netip.Addr) GetOption { return func(p *getParams) { p.BindAddr = addr } }

// WithResolveFlags narrows which address families the resolver returns.
func WithResolveFlags(flags resolve.Flags) GetOption {
	return func(p *getParams) { p.ResolveFlags = flags }
}

// WithAuth sets "user:pass" Basic auth credentials for the Authorization
// header.
func WithAuth(userpass string) GetOption { return func(p *getParams) { p.Auth = userpass } }

// WithPath overrides the request-line path for Start, which has no URL
// to parse a path from; Get ignores it since the URL's own path wins.
func WithPath(path string) GetOption {
	return func(p *getParams) {
		if path != "" {
			p.Path = path
		}
	}
}

func buildGetParams(opts []GetOption) (getParams, error) {
	p := defaultGetParams()
	for _, o := range opts {
		o(&p)
	}
	if err := validate.Struct(&p); err != nil {
		return p, fmt.Errorf("httpconn: invalid Get/Start options: %w", err)
	}
	return p, nil
}
