package stream

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(c)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestOpen_Plain(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Open(ctx, Config{Kind: KindPlain}, addr, "")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q", buf)
	}
}

// startFakeHTTPProxy accepts one connection, expects a CONNECT request,
// replies 200, then switches to echoing bytes -- enough to exercise the
// HTTP-proxy CONNECT tunnel dial path end to end.
func startFakeHTTPProxy(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		line, err := br.ReadString('\n')
		if err != nil || !strings.HasPrefix(line, "CONNECT ") {
			return
		}
		for {
			l, err := br.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		if _, err := c.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			return
		}
		io.Copy(c, br)
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestOpen_HTTPProxyConnectTunnel(t *testing.T) {
	proxyAddr, stop := startFakeHTTPProxy(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Open(ctx, Config{Kind: KindHTTPProxy, ProxyAddr: proxyAddr}, "example.test:80", "")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}
}

// TestOpen_HTTPProxyConnectTunnel_CombinedSegment covers a proxy that
// writes its CONNECT response and the first bytes of the tunneled reply
// in one flush, so the client's line-scanning read can buffer past the
// header block into tunnel data that must not be dropped.
func TestOpen_HTTPProxyConnectTunnel_CombinedSegment(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		br.ReadString('\n')
		for {
			l, err := br.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		// Response headers and the tunnel's first payload byte together,
		// in a single write, so they can arrive in one Read on the client.
		c.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\ntunnel-data"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Open(ctx, Config{Kind: KindHTTPProxy, ProxyAddr: ln.Addr().String()}, "example.test:80", "")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, len("tunnel-data"))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "tunnel-data" {
		t.Fatalf("got %q, want the tunnel bytes buffered past the CONNECT response headers", buf)
	}
}

func TestOpen_HTTPProxyConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		br.ReadString('\n')
		for {
			l, err := br.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
		}
		c.Write([]byte("HTTP/1.1 403 Forbidden\r\n\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = Open(ctx, Config{Kind: KindHTTPProxy, ProxyAddr: ln.Addr().String()}, "example.test:80", "")
	if err == nil {
		t.Fatal("expected error for non-200 CONNECT response")
	}
}
