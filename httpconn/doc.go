// Package httpconn drives a single logical HTTP/1.1 GET request end to
// end: URL parsing, hostname resolution, multi-endpoint connect over
// plain TCP, TLS, SOCKS5, or an HTTP proxy, request writing, response
// reading with chunked+gzip decoding, redirect chasing, rate limiting,
// and a single exactly-once delivery of the result to a ResponseHandler.
//
// A Conn is not a connection pool or a general-purpose HTTP client: it
// issues one request (plus whatever redirects that request chases) and
// reuses its underlying stream only across calls to Get that target the
// same (host, port, tls, bind) tuple on the same live Conn.
package httpconn
