package stream

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// readConnectStatus reads an HTTP/1.x response status line and discards
// its headers, returning the status code. It's only ever used to read a
// proxy's response to our own CONNECT request, never a full response.
// Because it buffers reads from conn to find line breaks, it may read
// past the header block into the start of the tunneled stream itself
// (the proxy and the far end can both reply in the same TCP segment);
// any such bytes are returned in leftover so the caller can prepend them
// back onto the connection instead of silently dropping them.
func readConnectStatus(conn net.Conn) (code int, leftover []byte, err error) {
	br := bufio.NewReader(conn)
	line, err := readLine(br, 8<<10)
	if err != nil {
		return 0, nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, nil, fmt.Errorf("stream: malformed CONNECT response status line %q", line)
	}
	if !strings.HasPrefix(parts[0], "HTTP/1.") {
		return 0, nil, fmt.Errorf("stream: unsupported protocol in CONNECT response %q", parts[0])
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("stream: bad CONNECT response status code %q", parts[1])
	}
	for {
		line, err := readLine(br, 8<<10)
		if err != nil {
			return 0, nil, err
		}
		if line == "" {
			break
		}
	}
	if n := br.Buffered(); n > 0 {
		leftover, _ = br.Peek(n)
		leftover = append([]byte(nil), leftover...)
	}
	return code, leftover, nil
}

func readLine(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", fmt.Errorf("stream: CONNECT response line exceeds %d bytes", limit)
		}
	}
	return sb.String(), nil
}

// prefixConn replays a buffered prefix before resuming reads from the
// wrapped net.Conn, used to return bytes readConnectStatus's line
// scanner pulled out of the socket past the CONNECT response headers.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) == 0 {
		return c.Conn.Read(p)
	}
	n := copy(p, c.prefix)
	c.prefix = c.prefix[n:]
	return n, nil
}
