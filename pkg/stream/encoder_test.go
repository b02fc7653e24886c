package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

func TestEncodeFrameOrder(t *testing.T) {
	var (
		buf  bytes.Buffer
		tags []string
	)
	table := types.ShortIDTable{"8ec7796": {ID: "8ec77961234", DocumentID: "doc", Score: 0.9, Text: "passage"}}
	enc := NewEncoder(&buf, WithFrameObserver(func(tag string) {
		tags = append(tags, tag)
	}))

	err := enc.Encode(context.Background(), "See [8ec7796] now", table, protocol.Usage{})
	require.NoError(t, err)

	lines := strings.SplitAfter(buf.String(), "\n")
	lines = lines[:len(lines)-1]
	assert.Equal(t, []string{
		`8:[{"type":"searchResults","data":{"8ec7796":{"id":"8ec77961234","documentId":"doc","score":0.9,"text":"passage"}}}]` + "\n",
		`0:"See"` + "\n",
		`0:" [8ec7796]"` + "\n",
		`0:" now"` + "\n",
		`3:{"finishReason":"stop","usage":{"promptTokens":0,"completionTokens":0}}` + "\n",
		"d:{}\n",
	}, lines)
	assert.Equal(t, []string{"8", "0", "0", "0", "3", "d"}, tags)
	assert.True(t, enc.Terminated())
}

func TestEncodeEmptyTableSkipsMetadata(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(context.Background(), "hi", nil, protocol.Usage{PromptTokens: 3, CompletionTokens: 1}))
	assert.Equal(t, "0:\"hi\"\n"+
		`3:{"finishReason":"stop","usage":{"promptTokens":3,"completionTokens":1}}`+"\n"+
		"d:{}\n", buf.String())
}

func TestEncodeRoundTrip(t *testing.T) {
	cases := []string{
		"Hello world",
		"double  space",
		" leading and trailing ",
		"line\nbreak \"quoted\" back\\slash\ttab",
		"单个token",
	}
	for _, text := range cases {
		t.Run(text, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewEncoder(&buf).Encode(context.Background(), text, nil, protocol.Usage{}))

			res, err := NewDecoder(&buf).Collect(nil)
			require.NoError(t, err)
			assert.Equal(t, text, res.Text)
			assert.Equal(t, protocol.FINISH_REASON_STOP, res.FinishReason)
			assert.True(t, res.Done)
		})
	}
}

func TestEncodeCanceled(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewEncoder(&buf, WithTokenDelay(time.Hour)).Encode(ctx, "one two three", nil, protocol.Usage{})
	assert.ErrorIs(t, err, context.Canceled)

	res, derr := NewDecoder(&buf).Collect(nil)
	require.NoError(t, derr)
	assert.Equal(t, protocol.FINISH_REASON_ERROR, res.FinishReason)
	assert.True(t, res.Done)
	assert.NotContains(t, res.Text, "three")
}

func TestEncodeCanceledFailMessage(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got error
	enc := NewEncoder(&buf, WithFailMessage(func(cause error) string {
		got = cause
		return "Stopped."
	}))
	err := enc.Encode(ctx, "one two", nil, protocol.Usage{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, got, context.Canceled)

	res, derr := NewDecoder(NewRepairReader(&buf)).Collect(nil)
	require.NoError(t, derr)
	assert.Equal(t, protocol.FINISH_REASON_ERROR, res.FinishReason)
	assert.Equal(t, "Stopped.", res.ErrorMessage)
}

type brokenSource struct{ sent bool }

func (s *brokenSource) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return "partial", nil
	}
	return "", errors.New("connection reset")
}

func TestEncodeStreamSourceFailureFailMessage(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, WithFailMessage(func(cause error) string {
		return "generation failed: " + cause.Error()
	}))
	err := enc.EncodeStream(context.Background(), nil, &brokenSource{}, nil)
	require.Error(t, err)
	assert.True(t, enc.Terminated())

	res, derr := NewDecoder(NewRepairReader(&buf)).Collect(nil)
	require.NoError(t, derr)
	assert.Equal(t, "partial", res.Text)
	assert.Equal(t, "generation failed: connection reset", res.ErrorMessage)
}

func TestEncodePacing(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	require.NoError(t, NewEncoder(&buf, WithTokenDelay(5*time.Millisecond)).Encode(context.Background(), "a b c", nil, protocol.Usage{}))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

type failingWriter struct {
	okWrites int
	writes   int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.okWrites {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestEncodeWriterFailure(t *testing.T) {
	w := &failingWriter{okWrites: 1}
	err := NewEncoder(w).Encode(context.Background(), "a b", nil, protocol.Usage{})
	require.Error(t, err)
	assert.True(t, rerrors.IsKind(err, rerrors.KindStreamEncoding))
}

func TestEncoderTerminatesOnce(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Fail("backend timeout"))
	assert.ErrorIs(t, enc.Close(protocol.Usage{}), ErrEncoderClosed)
	assert.ErrorIs(t, enc.WriteTextDelta("late"), ErrEncoderClosed)
	assert.Equal(t, `3:{"finishReason":"error","usage":{"promptTokens":0,"completionTokens":0},"message":"backend timeout"}`+"\n"+"d:{}\n", buf.String())
}

func TestSearchResultsMustComeFirst(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteTextDelta("x"))
	err := enc.WriteSearchResults(types.ShortIDTable{"aaaaaaa": {ID: "aaaaaaa1"}})
	assert.True(t, rerrors.IsKind(err, rerrors.KindStreamEncoding))
}

type sliceSource struct {
	deltas []string
	err    error
}

func (s *sliceSource) Recv() (string, error) {
	if len(s.deltas) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func TestEncodeStream(t *testing.T) {
	var buf bytes.Buffer
	src := &sliceSource{deltas: []string{"Hel", "", "lo ", "world"}}
	err := NewEncoder(&buf).EncodeStream(context.Background(), nil, src, func() protocol.Usage {
		return protocol.Usage{PromptTokens: 10, CompletionTokens: 2}
	})
	require.NoError(t, err)

	res, err := NewDecoder(&buf).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, 10, res.Usage.PromptTokens)
	assert.Equal(t, 2, res.Usage.CompletionTokens)
}

func TestEncodeStreamSourceError(t *testing.T) {
	var buf bytes.Buffer
	src := &sliceSource{deltas: []string{"partial"}, err: errors.New("upstream reset")}
	err := NewEncoder(&buf).EncodeStream(context.Background(), nil, src, nil)
	assert.EqualError(t, err, "upstream reset")

	res, derr := NewDecoder(&buf).Collect(nil)
	require.NoError(t, derr)
	assert.Equal(t, "partial", res.Text)
	assert.Equal(t, protocol.FINISH_REASON_ERROR, res.FinishReason)
}
