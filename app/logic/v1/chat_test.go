package v1

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quka-ai/ragstream/app/core"
	"github.com/quka-ai/ragstream/app/core/srv"
	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/stream"
	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

type fakeRetriever struct {
	result    types.RetrievalResult
	invokeErr error
	passages  []types.PassageRecord
	searchErr error
	// block makes Invoke wait for cancellation
	block bool
}

func (f *fakeRetriever) Invoke(ctx context.Context, mode types.SearchMode, query string) (types.RetrievalResult, error) {
	if f.block {
		<-ctx.Done()
		return types.RetrievalResult{}, ctx.Err()
	}
	return f.result, f.invokeErr
}

func (f *fakeRetriever) Search(ctx context.Context, query string, limit int) ([]types.PassageRecord, error) {
	return f.passages, f.searchErr
}

type fakeDriver struct {
	reply  string
	stream ai.Stream
	err    error
}

func (d *fakeDriver) Model() string { return "gpt-4o-mini" }

func (d *fakeDriver) Generate(ctx context.Context, messages []types.ChatMessage) (ai.GenerateResponse, error) {
	return ai.GenerateResponse{Received: []string{d.reply}}, d.err
}

func (d *fakeDriver) GenerateStream(ctx context.Context, messages []types.ChatMessage) (ai.Stream, error) {
	return d.stream, d.err
}

type fakeStream struct {
	deltas []string
}

func (s *fakeStream) Recv() (string, error) {
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *fakeStream) Usage() *openai.Usage { return nil }
func (s *fakeStream) Close() error         { return nil }

func backendDown() error {
	return errors.New("test", i18n.ERROR_BACKEND_UNAVAILABLE, io.ErrUnexpectedEOF).
		WithKind(errors.KindBackendUnavailable).
		Code(http.StatusBadGateway)
}

func newTestCore(t *testing.T, retriever *fakeRetriever, driver *fakeDriver) *core.Core {
	return newTestCoreWith(t, retriever, driver, nil)
}

func newTestCoreWith(t *testing.T, retriever *fakeRetriever, driver *fakeDriver, modify func(cfg *core.CoreConfig)) *core.Core {
	t.Helper()
	streaming := false
	cfg := core.CoreConfig{}
	cfg.Stream.TokenDelay = &core.Duration{}
	cfg.Stream.Streaming = &streaming
	if modify != nil {
		modify(&cfg)
	}
	return core.MustSetupCore(cfg,
		srv.ApplyCustomRetriever(retriever),
		srv.ApplyCustomAI(srv.NewAI("fake", driver, nil)))
}

func userAsks(content string) types.ChatRequest {
	return types.ChatRequest{Messages: []types.ChatMessage{{Role: types.CHAT_ROLE_USER, Content: content}}}
}

func TestValidate(t *testing.T) {
	logic := NewChatLogic(context.Background(), newTestCore(t, &fakeRetriever{}, &fakeDriver{}))

	cases := []struct {
		name string
		req  types.ChatRequest
	}{
		{"no messages", types.ChatRequest{}},
		{"last message from assistant", types.ChatRequest{Messages: []types.ChatMessage{
			{Role: types.CHAT_ROLE_USER, Content: "hi"},
			{Role: types.CHAT_ROLE_ASSISTANT, Content: "hello"},
		}}},
		{"blank question", userAsks("  ")},
		{"unknown mode", types.ChatRequest{Messages: userAsks("hi").Messages, SearchMode: "graph"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := logic.Validate(c.req, "")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
			assert.Equal(t, http.StatusBadRequest, err.(*errors.CustomizedError).GetCode())
		})
	}

	req, err := logic.Validate(userAsks("请总结一下这份报告的内容"), "")
	require.NoError(t, err)
	assert.Equal(t, types.SEARCH_MODE_RAG, req.Mode)
	assert.Equal(t, "zh-CN", req.Lang)
	assert.NotEmpty(t, req.MessageID)
}

func TestStreamPrimaryTier(t *testing.T) {
	retriever := &fakeRetriever{result: types.RetrievalResult{
		Text:     "See [8ec7796] for detail.",
		Passages: []types.PassageRecord{{ID: "8ec77961234", Text: "the report"}},
	}}
	logic := NewChatLogic(context.Background(), newTestCore(t, retriever, &fakeDriver{}))

	req, err := logic.Validate(userAsks("what is in the report?"), "en")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, logic.Stream(&buf, req))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], `8:[{"type":"searchResults","data":{"8ec7796":`))
	assert.Equal(t, []string{`0:"See"`, `0:" [8ec7796]"`, `0:" for"`, `0:" detail."`}, lines[1:5])
	assert.Equal(t, `3:{"finishReason":"stop","usage":{"promptTokens":0,"completionTokens":0}}`, lines[5])
	assert.Equal(t, `d:{}`, lines[6])
}

func TestStreamTerminalFailureWritesErrorFrame(t *testing.T) {
	retriever := &fakeRetriever{invokeErr: backendDown(), searchErr: backendDown()}
	logic := NewChatLogic(context.Background(), newTestCore(t, retriever, &fakeDriver{}))

	req, err := logic.Validate(userAsks("anything?"), "en")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = logic.Stream(&buf, req)
	assert.True(t, errors.IsKind(err, errors.KindBackendUnavailable))

	res, err := stream.NewDecoder(stream.NewRepairReader(&buf)).Collect(nil)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, protocol.FINISH_REASON_ERROR, res.FinishReason)
	assert.Equal(t, "Sorry, I could not generate an answer right now. Please try again later.", res.ErrorMessage)
	assert.NotContains(t, buf.String(), io.ErrUnexpectedEOF.Error())
}

func TestStreamFallbackWithoutPassages(t *testing.T) {
	retriever := &fakeRetriever{invokeErr: backendDown(), passages: []types.PassageRecord{}}
	logic := NewChatLogic(context.Background(), newTestCore(t, retriever, &fakeDriver{reply: "Generally speaking, yes."}))

	req, err := logic.Validate(userAsks("is it safe?"), "en")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, logic.Stream(&buf, req))

	res, err := stream.NewDecoder(&buf).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, "Generally speaking, yes.", res.Text)
	assert.Equal(t, protocol.FINISH_REASON_STOP, res.FinishReason)
	assert.Empty(t, res.SearchResults)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStopStream(t *testing.T) {
	appCore := newTestCore(t, &fakeRetriever{block: true}, &fakeDriver{})
	logic := NewChatLogic(context.Background(), appCore)

	req, err := logic.Validate(userAsks("long question"), "en")
	require.NoError(t, err)

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- logic.Stream(out, req)
	}()

	require.Eventually(t, func() bool {
		return appCore.Srv().Streams().Count() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, logic.StopStream(req.MessageID))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}

	res, err := stream.NewDecoder(stream.NewRepairReader(strings.NewReader(out.String()))).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.FINISH_REASON_ERROR, res.FinishReason)
	assert.Equal(t, "Stopped.", res.ErrorMessage)
	assert.Equal(t, 0, appCore.Srv().Streams().Count())

	err = logic.StopStream(req.MessageID)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, err.(*errors.CustomizedError).GetCode())
}

func TestStopStreamWhilePacing(t *testing.T) {
	const answer = "one two three four five six seven eight"
	retriever := &fakeRetriever{result: types.RetrievalResult{Text: answer}}
	appCore := newTestCoreWith(t, retriever, &fakeDriver{}, func(cfg *core.CoreConfig) {
		cfg.Stream.TokenDelay = &core.Duration{Duration: 50 * time.Millisecond}
	})
	logic := NewChatLogic(context.Background(), appCore)

	req, err := logic.Validate(userAsks("count to eight"), "en")
	require.NoError(t, err)

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- logic.Stream(out, req)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `0:"`)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, logic.StopStream(req.MessageID))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}

	res, err := stream.NewDecoder(stream.NewRepairReader(strings.NewReader(out.String()))).Collect(nil)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, protocol.FINISH_REASON_ERROR, res.FinishReason)
	assert.Equal(t, "Stopped.", res.ErrorMessage)
	assert.NotEmpty(t, res.Text)
	assert.NotEqual(t, answer, res.Text)
}

func countTokens(cfg *core.CoreConfig) {
	cfg.Stream.CountTokens = true
}

func TestStreamCountsTokens(t *testing.T) {
	retriever := &fakeRetriever{result: types.RetrievalResult{Text: "The report covers the third quarter."}}
	logic := NewChatLogic(context.Background(), newTestCoreWith(t, retriever, &fakeDriver{}, countTokens))

	req, err := logic.Validate(userAsks("what is in the report?"), "en")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, logic.Stream(&buf, req))

	res, err := stream.NewDecoder(&buf).Collect(nil)
	require.NoError(t, err)
	assert.Greater(t, res.Usage.PromptTokens, 0)
	assert.Greater(t, res.Usage.CompletionTokens, 0)
}

func TestStreamCountsTokensWhileRelaying(t *testing.T) {
	retriever := &fakeRetriever{invokeErr: backendDown(), passages: []types.PassageRecord{{ID: "8ec77961234", Text: "revenue grew"}}}
	driver := &fakeDriver{stream: &fakeStream{deltas: []string{"Revenue", " grew", " by ten percent."}}}
	logic := NewChatLogic(context.Background(), newTestCoreWith(t, retriever, driver, func(cfg *core.CoreConfig) {
		streaming := true
		cfg.Stream.Streaming = &streaming
		cfg.Stream.CountTokens = true
	}))

	req, err := logic.Validate(userAsks("how did revenue do?"), "en")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, logic.Stream(&buf, req))

	res, err := stream.NewDecoder(&buf).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew by ten percent.", res.Text)
	assert.Equal(t, protocol.FINISH_REASON_STOP, res.FinishReason)
	assert.Greater(t, res.Usage.PromptTokens, 0)
	assert.Greater(t, res.Usage.CompletionTokens, 0)
}

func TestStreamWithoutTokenCounting(t *testing.T) {
	retriever := &fakeRetriever{result: types.RetrievalResult{Text: "Fine."}}
	logic := NewChatLogic(context.Background(), newTestCore(t, retriever, &fakeDriver{}))

	req, err := logic.Validate(userAsks("how are you?"), "en")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, logic.Stream(&buf, req))

	res, err := stream.NewDecoder(&buf).Collect(nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.Usage{}, res.Usage)
}

func TestAcquireStream(t *testing.T) {
	cfg := core.CoreConfig{}
	cfg.Semaphore.ChatMaxConcurrency = 1
	appCore := core.MustSetupCore(cfg, srv.ApplyCustomAI(nil))
	logic := NewChatLogic(context.Background(), appCore)

	release, err := logic.AcquireStream()
	require.NoError(t, err)

	_, err = logic.AcquireStream()
	require.Error(t, err)
	cerr := err.(*errors.CustomizedError)
	assert.Equal(t, http.StatusTooManyRequests, cerr.GetCode())
	assert.Equal(t, "The number of concurrent conversations exceeds the limit of 1.",
		appCore.Localizer().GetWithData("en", cerr.Message(), cerr.Data()))

	release()
	release2, err := logic.AcquireStream()
	require.NoError(t, err)
	release2()
}
