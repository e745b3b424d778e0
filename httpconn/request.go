package httpconn

import "bytes"

// buildRequest serializes a GET request for ru. When proxy is an
// unauthenticated/authenticated HTTP proxy over plain HTTP, the request
// line carries the absolute URI and an optional Proxy-Authorization
// header; every other case (direct, TLS, SOCKS5, or HTTPS-through-an-
// HTTP-proxy CONNECT tunnel) sends a origin-form request line, since the
// CONNECT tunnel itself is established at the stream layer, not here.
func buildRequest(ru *requestURL, proxy ProxySettings, userAgent, auth string, bottled bool) []byte {
	var buf bytes.Buffer

	if proxy.isHTTP() && ru.Scheme == "http" {
		buf.WriteString("GET ")
		buf.WriteString(ru.absoluteURL())
		buf.WriteString(" HTTP/1.1\r\n")
		if proxy.Username != "" || proxy.Password != "" {
			buf.WriteString("Proxy-Authorization: ")
			buf.WriteString(basicAuth(proxy.Username + ":" + proxy.Password))
			buf.WriteString("\r\n")
		}
	} else {
		buf.WriteString("GET ")
		buf.WriteString(ru.Path)
		buf.WriteString(" HTTP/1.1\r\n")
	}

	buf.WriteString("Host: ")
	buf.WriteString(ru.hostHeader())
	buf.WriteString("\r\n")

	if userAgent != "" {
		buf.WriteString("User-Agent: ")
		buf.WriteString(userAgent)
		buf.WriteString("\r\n")
	}
	if bottled {
		buf.WriteString("Accept-Encoding: gzip\r\n")
	}
	if auth != "" {
		buf.WriteString("Authorization: ")
		buf.WriteString(basicAuth(auth))
		buf.WriteString("\r\n")
	}
	buf.WriteString("Connection: close\r\n\r\n")

	return buf.Bytes()
}
