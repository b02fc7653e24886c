package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"

	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

type EventType int8

const (
	EVENT_TEXT_DELTA EventType = iota + 1
	EVENT_SEARCH_RESULTS
	EVENT_FINISH
	EVENT_ERROR
	EVENT_DONE
	EVENT_UNKNOWN
)

type Event struct {
	Type          EventType
	Tag           string
	Text          string
	SearchResults types.ShortIDTable
	Finish        *protocol.FinishPayload
	Raw           []byte
	// Err is set on EVENT_UNKNOWN when the line could not be parsed.
	Err error
}

// Decoder reads frames of the line protocol. Malformed lines are reported as
// EVENT_UNKNOWN and never stop decoding.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame, or io.EOF once the source is drained.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.r.ReadBytes(protocol.LINE_SEP)
		if len(bytes.TrimSpace(line)) > 0 {
			return parseEvent(line), nil
		}
		if err != nil {
			return Event{}, err
		}
	}
}

func frameParseError(trace string, line []byte, cause error) *errors.CustomizedError {
	slog.Warn("failed to parse stream frame", slog.String("line", string(line)), slog.String("error", cause.Error()))
	return errors.New(trace, i18n.ERROR_INTERNAL, cause).WithKind(errors.KindFrameParse)
}

func parseEvent(line []byte) Event {
	line = bytes.TrimRight(line, "\r\n")
	tag, payload, ok := protocol.SplitLine(line)
	ev := Event{Type: EVENT_UNKNOWN, Tag: tag, Raw: line}
	if !ok {
		ev.Err = frameParseError("stream.parseEvent", line, stderrors.New("missing frame tag"))
		return ev
	}

	switch tag {
	case protocol.TAG_TEXT_DELTA:
		if err := json.Unmarshal(payload, &ev.Text); err != nil {
			ev.Err = frameParseError("stream.parseEvent.TextDelta", line, err)
			return ev
		}
		ev.Type = EVENT_TEXT_DELTA
	case protocol.TAG_DATA:
		var events []protocol.DataEvent
		if err := json.Unmarshal(payload, &events); err != nil {
			ev.Err = frameParseError("stream.parseEvent.Data", line, err)
			return ev
		}
		for _, item := range events {
			if item.Type != protocol.DATA_TYPE_SEARCH_RESULTS {
				continue
			}
			var table types.ShortIDTable
			if err := json.Unmarshal(item.Data, &table); err != nil {
				ev.Err = frameParseError("stream.parseEvent.SearchResults", line, err)
				return ev
			}
			ev.Type = EVENT_SEARCH_RESULTS
			ev.SearchResults = table
			return ev
		}
	case protocol.TAG_FINISH:
		trimmed := bytes.TrimSpace(payload)
		if len(trimmed) > 0 && trimmed[0] == '"' {
			if err := json.Unmarshal(trimmed, &ev.Text); err != nil {
				ev.Err = frameParseError("stream.parseEvent.Error", line, err)
				return ev
			}
			ev.Type = EVENT_ERROR
			return ev
		}
		var finish protocol.FinishPayload
		if err := json.Unmarshal(trimmed, &finish); err != nil {
			ev.Err = frameParseError("stream.parseEvent.Finish", line, err)
			return ev
		}
		ev.Type = EVENT_FINISH
		ev.Finish = &finish
		ev.Text = finish.Message
	case protocol.TAG_DONE:
		ev.Type = EVENT_DONE
	}
	return ev
}

// Result is the folded outcome of one response.
type Result struct {
	Text          string
	SearchResults types.ShortIDTable
	FinishReason  string
	Usage         protocol.Usage
	ErrorMessage  string
	Done          bool
}

var ErrMissingTerminator = stderrors.New("stream ended before the terminator frame")

// Collect folds events into a Result until the terminator frame. fn, when not
// nil, sees every event as it is decoded.
func (d *Decoder) Collect(fn func(Event)) (Result, error) {
	var (
		res  Result
		text strings.Builder
	)
	for {
		ev, err := d.Next()
		if err != nil {
			res.Text = text.String()
			if err == io.EOF {
				return res, errors.New("Decoder.Collect", i18n.ERROR_INTERNAL, ErrMissingTerminator).WithKind(errors.KindFrameParse)
			}
			return res, err
		}
		if fn != nil {
			fn(ev)
		}

		switch ev.Type {
		case EVENT_TEXT_DELTA:
			text.WriteString(ev.Text)
		case EVENT_SEARCH_RESULTS:
			res.SearchResults = ev.SearchResults
		case EVENT_FINISH:
			res.FinishReason = ev.Finish.FinishReason
			res.Usage = ev.Finish.Usage
			if ev.Finish.FinishReason == protocol.FINISH_REASON_ERROR {
				res.ErrorMessage = ev.Text
			}
		case EVENT_ERROR:
			res.FinishReason = protocol.FINISH_REASON_ERROR
			res.ErrorMessage = ev.Text
		case EVENT_DONE:
			res.Done = true
			res.Text = text.String()
			return res, nil
		}
	}
}
