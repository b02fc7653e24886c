package protocol

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// Frame tags of the line protocol. Every frame is "<tag>:<json>\n".
const (
	TAG_TEXT_DELTA = "0"
	TAG_DATA       = "8"
	TAG_FINISH     = "3"
	TAG_DONE       = "d"
)

const (
	FINISH_REASON_STOP  = "stop"
	FINISH_REASON_ERROR = "error"
)

const DATA_TYPE_SEARCH_RESULTS = "searchResults"

const LINE_SEP = '\n'

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

type FinishPayload struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	Message      string `json:"message,omitempty"`
}

type DataEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var EmptyObject = json.RawMessage("{}")

// Line wraps an encoded payload into a newline terminated frame.
func Line(tag string, payload []byte) []byte {
	buf := make([]byte, 0, len(tag)+len(payload)+2)
	buf = append(buf, tag...)
	buf = append(buf, ':')
	buf = append(buf, payload...)
	return append(buf, LINE_SEP)
}

// SplitLine separates a frame into tag and payload. A trailing newline is
// ignored. ok is false when the line has no tag.
func SplitLine(line []byte) (tag string, payload []byte, ok bool) {
	line = bytes.TrimSuffix(line, []byte{LINE_SEP})
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return "", line, false
	}
	return string(line[:idx]), line[idx+1:], true
}

const hex = "0123456789abcdef"

// QuoteText encodes s as a JSON string literal. Only the characters JSON
// requires are escaped so text deltas stay readable on the wire.
func QuoteText(s string) []byte {
	buf := make([]byte, 0, len(s)+2)
	buf = append(buf, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf = append(buf, `\ufffd`...)
			} else {
				buf = append(buf, s[i:i+size]...)
			}
			i += size
			continue
		}
		switch c {
		case '\\':
			buf = append(buf, '\\', '\\')
		case '"':
			buf = append(buf, '\\', '"')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
			} else {
				buf = append(buf, c)
			}
		}
		i++
	}
	return append(buf, '"')
}
