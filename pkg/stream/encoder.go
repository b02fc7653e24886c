package stream

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

var ErrEncoderClosed = stderrors.New("stream encoder already terminated")

// DeltaSource yields text deltas until it returns io.EOF.
type DeltaSource interface {
	Recv() (string, error)
}

type EncoderOption func(*Encoder)

// WithFailMessage sets the message of the error frame written when Encode or
// EncodeStream stops early, for example on cancellation.
func WithFailMessage(fn func(cause error) string) EncoderOption {
	return func(e *Encoder) {
		e.failMessage = fn
	}
}

// WithTokenDelay paces text delta frames of Encode. Zero disables pacing.
func WithTokenDelay(d time.Duration) EncoderOption {
	return func(e *Encoder) {
		e.delay = d
	}
}

// WithFrameObserver is called with the tag of every frame written.
func WithFrameObserver(fn func(tag string)) EncoderOption {
	return func(e *Encoder) {
		e.observe = fn
	}
}

// Encoder writes one response in the line protocol: at most one searchResults
// frame, text deltas, one finish frame and the terminator. It is not safe for
// concurrent use.
type Encoder struct {
	w           io.Writer
	flusher     http.Flusher
	delay       time.Duration
	observe     func(tag string)
	failMessage func(cause error) string

	wroteData  bool
	wroteText  bool
	terminated bool
}

func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) Terminated() bool {
	return e.terminated
}

func (e *Encoder) writeLine(tag string, payload []byte) error {
	if _, err := e.w.Write(protocol.Line(tag, payload)); err != nil {
		return errors.New("Encoder.writeLine", i18n.ERROR_STREAM_ENCODING, err).WithKind(errors.KindStreamEncoding)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	if e.observe != nil {
		e.observe(tag)
	}
	return nil
}

// WriteSearchResults emits the metadata frame. An empty table writes nothing.
func (e *Encoder) WriteSearchResults(table types.ShortIDTable) error {
	if e.terminated {
		return ErrEncoderClosed
	}
	if len(table) == 0 {
		return nil
	}
	if e.wroteData || e.wroteText {
		return errors.New("Encoder.WriteSearchResults", i18n.ERROR_STREAM_ENCODING,
			stderrors.New("search results must be the first and only metadata frame")).WithKind(errors.KindStreamEncoding)
	}

	data, err := json.Marshal(table)
	if err != nil {
		return errors.New("Encoder.WriteSearchResults.MarshalTable", i18n.ERROR_STREAM_ENCODING, err).WithKind(errors.KindStreamEncoding)
	}
	payload, err := json.Marshal([]protocol.DataEvent{{
		Type: protocol.DATA_TYPE_SEARCH_RESULTS,
		Data: data,
	}})
	if err != nil {
		return errors.New("Encoder.WriteSearchResults.MarshalEvent", i18n.ERROR_STREAM_ENCODING, err).WithKind(errors.KindStreamEncoding)
	}
	if err = e.writeLine(protocol.TAG_DATA, payload); err != nil {
		return err
	}
	e.wroteData = true
	return nil
}

func (e *Encoder) WriteTextDelta(text string) error {
	if e.terminated {
		return ErrEncoderClosed
	}
	if err := e.writeLine(protocol.TAG_TEXT_DELTA, protocol.QuoteText(text)); err != nil {
		return err
	}
	e.wroteText = true
	return nil
}

// Close writes the stop frame and the terminator.
func (e *Encoder) Close(usage protocol.Usage) error {
	return e.terminate(protocol.FinishPayload{
		FinishReason: protocol.FINISH_REASON_STOP,
		Usage:        usage,
	})
}

// Fail writes an error finish frame carrying message, then the terminator.
func (e *Encoder) Fail(message string) error {
	return e.terminate(protocol.FinishPayload{
		FinishReason: protocol.FINISH_REASON_ERROR,
		Message:      message,
	})
}

func (e *Encoder) terminate(finish protocol.FinishPayload) error {
	if e.terminated {
		return ErrEncoderClosed
	}
	e.terminated = true

	payload, err := json.Marshal(finish)
	if err != nil {
		return errors.New("Encoder.terminate.Marshal", i18n.ERROR_STREAM_ENCODING, err).WithKind(errors.KindStreamEncoding)
	}
	finishErr := e.writeLine(protocol.TAG_FINISH, payload)
	// the terminator is attempted even when the finish frame was lost
	doneErr := e.writeLine(protocol.TAG_DONE, protocol.EmptyObject)
	if finishErr != nil {
		return finishErr
	}
	return doneErr
}

// abort terminates the stream with an error frame and returns cause.
func (e *Encoder) abort(cause error) error {
	if e.terminated {
		return cause
	}
	var message string
	if e.failMessage != nil {
		message = e.failMessage(cause)
	}
	if err := e.Fail(message); err != nil {
		return stderrors.Join(cause, err)
	}
	return cause
}

func (e *Encoder) pace(ctx context.Context) error {
	if e.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Encode writes a complete response for an already generated text. The text
// is split on single spaces and every token after the first keeps its leading
// space, so concatenating the deltas yields text exactly. Any failure, context
// cancellation included, still closes the stream with an error frame.
func (e *Encoder) Encode(ctx context.Context, text string, table types.ShortIDTable, usage protocol.Usage) error {
	if err := e.WriteSearchResults(table); err != nil {
		return e.abort(err)
	}

	for i, token := range strings.Split(text, " ") {
		if i > 0 {
			if err := e.pace(ctx); err != nil {
				return e.abort(err)
			}
			token = " " + token
		} else if token == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return e.abort(err)
		}
		if err := e.WriteTextDelta(token); err != nil {
			return e.abort(err)
		}
	}
	return e.Close(usage)
}

// EncodeStream relays deltas from src as they arrive. usage is read after src
// is drained and may be nil.
func (e *Encoder) EncodeStream(ctx context.Context, table types.ShortIDTable, src DeltaSource, usage func() protocol.Usage) error {
	if err := e.WriteSearchResults(table); err != nil {
		return e.abort(err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.abort(err)
		}
		delta, err := src.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			return e.abort(err)
		}
		if delta == "" {
			continue
		}
		if err = e.WriteTextDelta(delta); err != nil {
			return e.abort(err)
		}
	}

	var u protocol.Usage
	if usage != nil {
		u = usage()
	}
	return e.Close(u)
}
