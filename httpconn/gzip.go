package httpconn

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzipInflate decompresses a gzip/x-gzip bottled body, capped at maxLen
// bytes so a malicious or misconfigured peer can't inflate a small
// response into an unbounded allocation. On failure it returns a nil
// slice and the unwrapped error; the caller keeps src and delivers it
// for diagnostics.
func gzipInflate(src []byte, maxLen int) ([]byte, error) {
	zr, err := gzip.NewReader(&byteReader{src})
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := make([]byte, 0, len(src)*4)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := zr.Read(buf)
		if n > 0 {
			if len(out)+n > maxLen {
				return nil, io.ErrShortBuffer
			}
			out = append(out, buf[:n]...)
		}
		if rerr == io.EOF {
			return out, nil
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}

// byteReader adapts a byte slice to io.Reader without pulling in
// bytes.Reader's Seek/ReadAt surface, which gzip.NewReader never needs.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
