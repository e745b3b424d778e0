package httpconn

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// requestURL is the parsed shape of a request target: scheme, optional
// userinfo, host, port (-1 if the URL didn't specify one), and path
// (including any query string).
type requestURL struct {
	Scheme string
	User   string
	Pass   string
	Host   string
	Port   int
	Path   string
}

// parseRequestURL splits raw into scheme/userinfo/host/port/path and
// rejects anything but http/https, per the request builder's contract.
func parseRequestURL(raw string) (*requestURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError("parse_url", KindURLParse, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError("parse_url", KindUnsupportedProtocol, fmt.Errorf("scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, newError("parse_url", KindURLParse, fmt.Errorf("missing host"))
	}

	ru := &requestURL{Scheme: u.Scheme, Port: -1}
	if u.User != nil {
		ru.User = u.User.Username()
		ru.Pass, _ = u.User.Password()
	}
	host := u.Host
	if h, p, err := splitHostPort(host); err == nil {
		ru.Host = h
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, newError("parse_url", KindURLParse, fmt.Errorf("bad port %q", p))
		}
		ru.Port = port
	} else {
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
		ru.Host = host
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	ru.Path = path
	return ru, nil
}

// splitHostPort is net.SplitHostPort without its IPv6-bracket stripping
// differences, used only for plain "host:port" parsing here.
func splitHostPort(hostport string) (host, port string, err error) {
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return "", "", fmt.Errorf("no port")
	}
	if strings.Contains(hostport[i+1:], "]") {
		return "", "", fmt.Errorf("no port")
	}
	host = hostport[:i]
	port = hostport[i+1:]
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return host, port, nil
}

// defaultPort returns the scheme's default port.
func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// effectivePort returns ru.Port, or the scheme's default when unset.
func (ru *requestURL) effectivePort() int {
	if ru.Port >= 0 {
		return ru.Port
	}
	return defaultPort(ru.Scheme)
}

// hostHeader returns "host" or "host:port" -- the port is included only
// when it differs from the scheme's default, matching the request
// builder's Host header rule.
func (ru *requestURL) hostHeader() string {
	port := ru.effectivePort()
	if port == defaultPort(ru.Scheme) {
		return ru.Host
	}
	return joinHostPort(ru.Host, port)
}

func joinHostPort(host string, port int) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(port)
}

// absoluteURL renders ru back into an absolute "scheme://host[:port]/path"
// string, without userinfo, for the HTTP-proxy absolute-URI request shape.
func (ru *requestURL) absoluteURL() string {
	var b strings.Builder
	b.WriteString(ru.Scheme)
	b.WriteString("://")
	b.WriteString(ru.hostHeader())
	b.WriteString(ru.Path)
	return b.String()
}

// resolveRedirectLocation joins a redirect Location header against the
// request that produced it: absolute locations are returned unchanged,
// relative ones are resolved against base's scheme+authority+directory.
func resolveRedirectLocation(base *requestURL, location string) (string, error) {
	baseURL, err := url.Parse(base.absoluteURL())
	if err != nil {
		return "", newError("resolve_redirect", KindURLParse, err)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", newError("resolve_redirect", KindURLParse, err)
	}
	return baseURL.ResolveReference(loc).String(), nil
}

// basicAuth builds a base64-encoded "Basic" credential value for userpass
// in "user:pass" form, with no line breaks, per the standard alphabet.
func basicAuth(userpass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(userpass))
}
