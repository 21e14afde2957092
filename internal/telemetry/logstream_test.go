package telemetry

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func frame(streamType byte, payload string) []byte {
	b := make([]byte, frameHeaderSize+len(payload))
	b[0] = streamType
	n := len(payload)
	b[4] = byte(n >> 24)
	b[5] = byte(n >> 16)
	b[6] = byte(n >> 8)
	b[7] = byte(n)
	copy(b[frameHeaderSize:], payload)
	return b
}

func collect(ch <-chan LogLine) []string {
	var out []string
	for l := range ch {
		out = append(out, l.Text)
	}
	return out
}

func TestFramedLogTwoFramesInOneChunk(t *testing.T) {
	// S5: feed "Hello" and "World" frames, in one shot.
	data := append(frame(1, "Hello"), frame(1, "World")...)
	ctx := context.Background()
	lines := collect(StreamLogs(ctx, bytes.NewReader(data), false))
	if len(lines) != 2 || lines[0] != "Hello" || lines[1] != "World" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

// byteAtATimeReader serves src one byte per Read call, forcing the frame
// parser to buffer across many read boundaries.
type byteAtATimeReader struct {
	data []byte
	pos  int
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func TestFramedLogArbitrarySubSlicesSameOrder(t *testing.T) {
	data := append(frame(1, "Hello"), frame(1, "World")...)
	ctx := context.Background()
	lines := collect(StreamLogs(ctx, &byteAtATimeReader{data: data}, false))
	if len(lines) != 2 || lines[0] != "Hello" || lines[1] != "World" {
		t.Fatalf("unexpected lines from byte-at-a-time read: %v", lines)
	}
}

func TestFormatLogLineCompressesTimestampAndStripsANSI(t *testing.T) {
	in := "\x1b[32m2024-01-02T15:04:05.123456789Z hello\x1b[0m"
	got := formatLogLine(in)
	want := "2024-01-02T15:04:05Z\thello"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatLogLineIdempotent(t *testing.T) {
	in := "2024-01-02T15:04:05.123456789Z hello world"
	once := formatLogLine(in)
	twice := formatLogLine(once)
	if once != twice {
		t.Fatalf("formatLogLine not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestFormatLogLinePassesThroughNonTimestamp(t *testing.T) {
	in := "plain log line with no timestamp"
	if got := formatLogLine(in); got != in {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestStreamLogsRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := append(frame(1, "Hello"), frame(1, "World")...)
	ch := StreamLogs(ctx, bytes.NewReader(data), false)
	// Either zero or a small bounded number of lines arrive; the channel
	// must close promptly rather than hang.
	for range ch {
	}
}
