package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

const DEFAULT_ERROR_MESSAGE = "An error occurred."

// LineAssembler reassembles newline terminated lines from arbitrary chunks.
type LineAssembler struct {
	buf []byte
}

// Feed returns the lines completed by chunk, each with its trailing newline.
// The incomplete tail is kept for the next call.
func (a *LineAssembler) Feed(chunk []byte) [][]byte {
	a.buf = append(a.buf, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(a.buf, protocol.LINE_SEP)
		if idx < 0 {
			break
		}
		line := make([]byte, idx+1)
		copy(line, a.buf[:idx+1])
		lines = append(lines, line)
		a.buf = a.buf[idx+1:]
	}
	if len(a.buf) == 0 {
		a.buf = nil
	}
	return lines
}

// Flush returns and clears the buffered partial line.
func (a *LineAssembler) Flush() []byte {
	rest := a.buf
	a.buf = nil
	return rest
}

// Buffered is the size of the partial line held back.
func (a *LineAssembler) Buffered() int {
	return len(a.buf)
}

// RepairLine rewrites a finish frame whose payload is an object with a
// message field into a frame whose payload is the message string. Every other
// line is returned unchanged. The trailing newline, if any, is preserved.
func RepairLine(line []byte) ([]byte, bool) {
	tag, payload, ok := protocol.SplitLine(line)
	if !ok || tag != protocol.TAG_FINISH {
		return line, false
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return line, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		slog.Warn("failed to parse finish frame, pass through", slog.String("line", string(line)), slog.String("error", err.Error()))
		return line, false
	}
	raw, exist := obj["message"]
	if !exist {
		return line, false
	}

	var (
		value   any
		message string
	)
	if err := json.Unmarshal(raw, &value); err == nil {
		switch v := value.(type) {
		case string:
			message = v
		case nil:
		default:
			message = string(raw)
		}
	}
	if message == "" {
		message = DEFAULT_ERROR_MESSAGE
	}

	fixed := protocol.Line(protocol.TAG_FINISH, protocol.QuoteText(message))
	if !bytes.HasSuffix(line, []byte{protocol.LINE_SEP}) {
		fixed = fixed[:len(fixed)-1]
	}
	slog.Debug("repaired finish frame", slog.String("from", string(payload)), slog.String("message", message))
	return fixed, true
}

// RepairReader applies RepairLine to every complete line read from src. The
// partial line left when src ends is passed through as is.
type RepairReader struct {
	src   io.Reader
	asm   LineAssembler
	out   bytes.Buffer
	chunk []byte
	err   error
}

func NewRepairReader(src io.Reader) *RepairReader {
	return &RepairReader{
		src:   src,
		chunk: make([]byte, 4096),
	}
}

func (r *RepairReader) Read(p []byte) (int, error) {
	for r.out.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			for _, line := range r.asm.Feed(r.chunk[:n]) {
				fixed, _ := RepairLine(line)
				r.out.Write(fixed)
			}
		}
		if err != nil {
			if rest := r.asm.Buffered(); rest > 0 {
				slog.Debug("stream ended inside a frame", slog.Int("bytes", rest), slog.String("error", err.Error()))
			}
			r.out.Write(r.asm.Flush())
			r.err = err
		}
	}
	return r.out.Read(p)
}
