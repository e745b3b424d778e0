package http1

import "testing"

func TestParser_ContentLengthBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	p := NewParser()
	if err := p.Feed([]byte(raw)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if !p.Finished() {
		t.Fatal("expected Finished")
	}
	if p.StatusCode() != 200 {
		t.Fatalf("StatusCode=%d", p.StatusCode())
	}
	if got := string(p.Body()); got != "hello" {
		t.Fatalf("body=%q", got)
	}
}

func TestParser_ChunkedBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nhey\r\n2\r\n!!\r\n0\r\n\r\n"
	p := NewParser()
	if err := p.Feed([]byte(raw)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if !p.Finished() {
		t.Fatal("expected Finished")
	}
	if !p.Chunked() {
		t.Fatal("expected Chunked")
	}
	if got := string(p.Body()); got != "hey!!" {
		t.Fatalf("body=%q", got)
	}
}

func TestParser_CloseDelimitedBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\npartial"
	p := NewParser()
	if err := p.Feed([]byte(raw)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if p.Finished() {
		t.Fatal("close-delimited body must never self-report Finished")
	}
	if got := string(p.Body()); got != "partial" {
		t.Fatalf("body=%q", got)
	}
}

// TestParser_IncrementalFeed exercises the core restartability property:
// Feed is called repeatedly with growing prefixes of the same buffer, as a
// real read loop would, and must reach the same result as a single Feed
// over the whole response.
func TestParser_IncrementalFeed(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nhey\r\n2\r\n!!\r\n0\r\n\r\n"
	p := NewParser()
	var err error
	for i := 1; i <= len(raw); i++ {
		err = p.Feed([]byte(raw[:i]))
		if err != nil {
			t.Fatalf("Feed error at prefix len %d: %v", i, err)
		}
	}
	if !p.Finished() {
		t.Fatal("expected Finished after full buffer fed")
	}
	if got := string(p.Body()); got != "hey!!" {
		t.Fatalf("body=%q", got)
	}
}

func TestParser_HeaderFinishedBeforeBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"
	p := NewParser()
	if err := p.Feed([]byte(raw)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if !p.HeaderFinished() {
		t.Fatal("expected HeaderFinished")
	}
	if p.Finished() {
		t.Fatal("did not expect Finished before body bytes arrive")
	}
	if p.BodyStart() != len(raw) {
		t.Fatalf("BodyStart=%d want %d", p.BodyStart(), len(raw))
	}
}

func TestParser_Headers(t *testing.T) {
	raw := "HTTP/1.1 301 Moved Permanently\r\nLocation: https://example.com/x\r\ncontent-type: text/plain\r\n\r\n"
	p := NewParser()
	if err := p.Feed([]byte(raw)); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if p.StatusCode() != 301 {
		t.Fatalf("StatusCode=%d", p.StatusCode())
	}
	if got := p.Header("location"); got != "https://example.com/x" {
		t.Fatalf("Location=%q", got)
	}
	if got := p.Header("Content-Type"); got != "text/plain" {
		t.Fatalf("Content-Type=%q", got)
	}
}

func TestParser_BadStatusLine(t *testing.T) {
	p := NewParser()
	if err := p.Feed([]byte("not a status line\r\n\r\n")); err == nil {
		t.Fatal("expected error for malformed status line")
	}
}

func TestParser_BadChunkSize(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n"
	p := NewParser()
	if err := p.Feed([]byte(raw)); err == nil {
		t.Fatal("expected error for malformed chunk size")
	}
}

func TestParser_StickyError(t *testing.T) {
	p := NewParser()
	err1 := p.Feed([]byte("garbage\r\n\r\n"))
	if err1 == nil {
		t.Fatal("expected error")
	}
	err2 := p.Feed([]byte("garbage\r\n\r\nmore"))
	if err2 != err1 {
		t.Fatalf("expected sticky identical error, got %v then %v", err1, err2)
	}
}

func TestParser_Reset(t *testing.T) {
	p := NewParser()
	if err := p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if !p.Finished() {
		t.Fatal("expected Finished")
	}
	p.Reset()
	if p.Finished() || p.HeaderFinished() || p.StatusCode() != 0 {
		t.Fatal("Reset did not clear parser state")
	}
	if err := p.Feed([]byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")); err != nil {
		t.Fatalf("Feed error after Reset: %v", err)
	}
	if p.StatusCode() != 404 {
		t.Fatalf("StatusCode after Reset=%d", p.StatusCode())
	}
}

func TestParser_CollapseChunks(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nhey\r\n2\r\n!!\r\n0\r\n\r\n")
	p := NewParser()
	if err := p.Feed(raw); err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	collapsed := p.CollapseChunks(raw)
	want := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nhey!!"
	if string(collapsed) != want {
		t.Fatalf("collapsed=%q want %q", string(collapsed), want)
	}
}
