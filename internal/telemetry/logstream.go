// Package telemetry parses the engine's multiplexed log frames and JSON
// stats stream, multiplexes per-subscriber push streams, and samples
// host-level CPU/RAM/disk.
package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
)

// frameHeaderSize is the Docker-style multiplexed log frame header:
// [1B stream-type][3B pad][4B big-endian payload length].
const frameHeaderSize = 8

// LogLine is one emitted, normalized log record. Err is set only on the
// final record a producer sends before closing because the underlying
// engine stream broke mid-read (the "stream ended" signal); a normal
// completion (context cancellation, clean EOF) closes the channel with no
// such record.
type LogLine struct {
	Text string
	Err  error `json:"-"`
}

// StreamLogs decodes src into a sequence of normalized text lines and sends
// them on the returned channel until ctx is cancelled or src is exhausted.
// The channel is closed on every exit path; the caller must drain it.
//
// When hasTTY is false, src carries Docker's multiplexed frame format and
// frames are only decoded once all of their declared payload bytes have
// arrived (P4: never yields bytes across a frame boundary). When hasTTY is
// true, src is a raw byte stream split directly on '\n'.
func StreamLogs(ctx context.Context, src io.Reader, hasTTY bool) <-chan LogLine {
	out := make(chan LogLine)
	go func() {
		defer close(out)
		if hasTTY {
			streamRawLines(ctx, src, out)
			return
		}
		streamFramedLines(ctx, src, out)
	}()
	return out
}

func streamRawLines(ctx context.Context, src io.Reader, out chan<- LogLine) {
	reader := bufio.NewReader(src)
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := reader.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if !emitCompleteLines(&buf, out, ctx) {
				return
			}
		}
		if err != nil {
			if buf.Len() > 0 {
				emitLine(formatLogLine(buf.String()), out, ctx)
			}
			if err != io.EOF {
				emitErr(err, out, ctx)
			}
			return
		}
	}
}

func streamFramedLines(ctx context.Context, src io.Reader, out chan<- LogLine) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := src.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if !drainFrames(&buf, out, ctx) {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				emitErr(err, out, ctx)
			}
			return
		}
	}
}

// drainFrames peels every complete frame currently available in buf,
// splits each payload on '\n', and emits normalized non-empty lines.
// Returns false if the caller should stop (context cancelled).
func drainFrames(buf *bytes.Buffer, out chan<- LogLine, ctx context.Context) bool {
	for {
		b := buf.Bytes()
		if len(b) < frameHeaderSize {
			return true
		}
		payloadLen := int(b[4])<<24 | int(b[5])<<16 | int(b[6])<<8 | int(b[7])
		total := frameHeaderSize + payloadLen
		if len(b) < total {
			return true
		}
		payload := make([]byte, payloadLen)
		copy(payload, b[frameHeaderSize:total])
		buf.Next(total)

		for _, line := range strings.Split(string(payload), "\n") {
			line = strings.TrimRight(line, " \t\r")
			if line == "" {
				continue
			}
			if !emitLine(formatLogLine(line), out, ctx) {
				return false
			}
		}
	}
}

// emitCompleteLines pulls every fully-buffered line ('\n'-terminated) out
// of buf and emits it, leaving any trailing partial line in buf.
func emitCompleteLines(buf *bytes.Buffer, out chan<- LogLine, ctx context.Context) bool {
	for {
		b := buf.Bytes()
		idx := bytes.IndexByte(b, '\n')
		if idx < 0 {
			return true
		}
		line := strings.TrimRight(string(b[:idx]), " \t\r")
		buf.Next(idx + 1)
		if line == "" {
			continue
		}
		if !emitLine(formatLogLine(line), out, ctx) {
			return false
		}
	}
}

func emitLine(text string, out chan<- LogLine, ctx context.Context) bool {
	select {
	case out <- LogLine{Text: text}:
		return true
	case <-ctx.Done():
		return false
	}
}

func emitErr(err error, out chan<- LogLine, ctx context.Context) {
	select {
	case out <- LogLine{Err: err}:
	case <-ctx.Done():
	}
}

// stripANSI strips ANSI SGR escape sequences (ESC [ ... m).
func stripANSI(s string) string {
	const esc = '\x1b'
	if !strings.ContainsRune(s, esc) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == esc && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			if j < len(s) {
				i = j
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// formatLogLine strips ANSI color codes and compresses a leading RFC3339
// fractional timestamp ("YYYY-MM-DDTHH:MM:SS.fracZ ") into
// "YYYY-MM-DDTHH:MM:SSZ\t<rest>". It is idempotent (P6): a line that has
// already been formatted passes through unchanged on a second application.
func formatLogLine(line string) string {
	line = stripANSI(line)
	if len(line) < 20 || line[4] != '-' || line[7] != '-' || line[10] != 'T' {
		return line
	}
	dot := strings.IndexByte(line, '.')
	if dot < 0 || dot != 19 {
		// Already compressed (no fractional part), or not a timestamp at all.
		return line
	}
	zIdx := strings.IndexByte(line[dot:], 'Z')
	if zIdx < 0 {
		return line
	}
	zIdx += dot
	spaceIdx := zIdx + 1
	if spaceIdx > len(line) || (spaceIdx < len(line) && line[spaceIdx] != ' ') {
		return line
	}
	rest := ""
	if spaceIdx < len(line) {
		rest = line[spaceIdx+1:]
	}
	return line[:19] + "Z\t" + rest
}
