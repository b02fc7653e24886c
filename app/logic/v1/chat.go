package v1

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/quka-ai/ragstream/app/core"
	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/ai/agents/rag"
	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/r2r"
	"github.com/quka-ai/ragstream/pkg/safe"
	"github.com/quka-ai/ragstream/pkg/stream"
	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
	"github.com/quka-ai/ragstream/pkg/utils"
)

type ChatLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewChatLogic(ctx context.Context, core *core.Core) *ChatLogic {
	return &ChatLogic{
		ctx:  ctx,
		core: core,
	}
}

// ChatStream is a validated chat request ready to be streamed.
type ChatStream struct {
	MessageID string
	Mode      types.SearchMode
	Messages  []types.ChatMessage
	Lang      string
}

func validationError(trace, key string, err error) error {
	return errors.New(trace, key, err).WithKind(errors.KindValidation).Code(http.StatusBadRequest)
}

// Validate checks the request before any byte of the stream is written.
// acceptLanguage selects the language of the error frame, the question's
// own language is used when it is empty.
func (l *ChatLogic) Validate(req types.ChatRequest, acceptLanguage string) (*ChatStream, error) {
	if len(req.Messages) == 0 {
		return nil, validationError("ChatLogic.Validate.Messages", i18n.ERROR_INVALIDARGUMENT, nil)
	}
	last, ok := req.LastUserMessage()
	if !ok || strings.TrimSpace(last.Content) == "" {
		return nil, validationError("ChatLogic.Validate.LastUserMessage", i18n.ERROR_CHAT_NO_USER_MESSAGE, nil)
	}
	mode, ok := types.ParseSearchMode(string(req.SearchMode))
	if !ok {
		return nil, validationError("ChatLogic.Validate.SearchMode", i18n.ERROR_CHAT_UNSUPPORTED_MODE, nil)
	}

	return &ChatStream{
		MessageID: utils.GenMessageID(),
		Mode:      mode,
		Messages:  req.Messages,
		Lang:      utils.ClientLang(acceptLanguage, last.Content),
	}, nil
}

// AcquireStream takes a concurrency permit for one stream. The returned
// release func must be called once the stream ends.
func (l *ChatLogic) AcquireStream() (release func(), err error) {
	sem := l.core.Semaphore().ChatStream()
	if !sem.TryAcquire(l.ctx) {
		return nil, errors.New("ChatLogic.AcquireStream", i18n.ERROR_MORE_THAN_MAX, nil).
			WithData(map[string]interface{}{
				"max": l.core.Cfg().Semaphore.ChatMaxConcurrency,
			}).
			Code(http.StatusTooManyRequests)
	}
	return func() {
		sem.Release(context.Background())
	}, nil
}

func (l *ChatLogic) orchestrator() *rag.Orchestrator {
	cfg := l.core.Cfg()
	return rag.NewOrchestrator(l.core.Srv().Retriever(), l.core.Srv().Generator(),
		rag.WithSearchLimit(cfg.R2R.SearchLimit),
		rag.WithStreaming(cfg.Stream.StreamingEnabled()),
		rag.WithPrompt(cfg.Prompt.Fallback),
		rag.WithObserver(func(tier rag.Tier, err error) {
			l.core.Metrics().FallbackTierInc(string(tier), err)
		}),
	)
}

// Stream answers the conversation and writes every frame to w. Once it is
// called the response is always closed by the terminator frame, failures
// included; the returned error is for logging only.
func (l *ChatLogic) Stream(w io.Writer, req *ChatStream) error {
	ctx, cancel := context.WithCancel(l.ctx)
	defer cancel()

	remove := l.core.Srv().Streams().RegisterStreamSignal(req.MessageID, cancel)
	defer remove()

	l.core.Metrics().ActiveStreamsAdd(1)
	defer l.core.Metrics().ActiveStreamsAdd(-1)

	enc := stream.NewEncoder(w,
		stream.WithTokenDelay(l.core.Cfg().Stream.Delay()),
		stream.WithFrameObserver(l.core.Metrics().StreamFrameInc),
		stream.WithFailMessage(func(cause error) string {
			return l.errorMessage(ctx, req.Lang, cause)
		}))

	err := safe.RunWithError(func() error {
		return l.stream(ctx, enc, req)
	}, "ChatLogic.Stream")
	if err != nil && !enc.Terminated() {
		_ = enc.Fail(l.errorMessage(ctx, req.Lang, err))
	}
	return err
}

func (l *ChatLogic) stream(ctx context.Context, enc *stream.Encoder, req *ChatStream) error {
	slog.Debug("new chat stream", slog.String("message_id", req.MessageID), slog.String("mode", string(req.Mode)))

	answer, err := l.orchestrator().Answer(ctx, req.Mode, req.Messages)
	if err != nil {
		if fe := enc.Fail(l.errorMessage(ctx, req.Lang, err)); fe != nil {
			slog.Error("failed to write error frame", slog.String("message_id", req.MessageID), slog.String("error", fe.Error()))
		}
		return errors.Trace("ChatLogic.Stream.Answer", err)
	}

	if answer.Stream != nil {
		defer answer.Stream.Close()
		src := &recordingSource{src: answer.Stream}
		err = enc.EncodeStream(ctx, answer.Table, src, func() protocol.Usage {
			if u := answer.Stream.Usage(); u != nil {
				return ai.ToProtocolUsage(u)
			}
			return l.estimateUsage(answer.Prompt, src.text.String())
		})
	} else {
		usage := ai.ToProtocolUsage(answer.Usage)
		if answer.Usage == nil {
			usage = l.estimateUsage(lo.Ternary(len(answer.Prompt) > 0, answer.Prompt, req.Messages), answer.Text)
		}
		err = enc.Encode(ctx, answer.Text, answer.Table, usage)
	}
	if err != nil {
		return errors.Trace("ChatLogic.Stream.Encode", err)
	}
	slog.Debug("chat stream finished", slog.String("message_id", req.MessageID), slog.String("tier", string(answer.Tier)))
	return nil
}

// estimateUsage is zero unless local token counting is enabled.
func (l *ChatLogic) estimateUsage(prompt []types.ChatMessage, completion string) protocol.Usage {
	if !l.core.Cfg().Stream.CountTokens {
		return protocol.Usage{}
	}
	model := l.core.Cfg().AI.ChatModel
	if model == "" {
		model = strings.TrimPrefix(r2r.DEFAULT_MODEL, "openai/")
	}
	usage, err := ai.EstimateUsage(prompt, completion, model)
	if err != nil {
		slog.Warn("failed to count tokens", slog.String("error", err.Error()))
		return protocol.Usage{}
	}
	return usage
}

// errorMessage is the user visible text of the error frame. Backend payloads
// never reach the client.
func (l *ChatLogic) errorMessage(ctx context.Context, lang string, err error) string {
	localizer := l.core.Localizer()
	if ctx.Err() != nil {
		return localizer.Get(lang, i18n.MESSAGE_CHAT_STREAM_STOPPED)
	}
	switch errors.KindOf(err) {
	case errors.KindBackendUnavailable, errors.KindMalformedResponse:
		return localizer.Get(lang, i18n.ERROR_STREAM_ALL_TIERS_FAILED)
	case errors.KindValidation:
		if cerr, ok := err.(*errors.CustomizedError); ok {
			return localizer.Get(lang, cerr.Message())
		}
	}
	return localizer.Get(lang, i18n.ERROR_INTERNAL)
}

// StopStream cancels the in-flight stream of msgID.
func (l *ChatLogic) StopStream(msgID string) error {
	if !l.core.Srv().Streams().CloseStream(msgID) {
		return errors.New("ChatLogic.StopStream.CloseStream", i18n.ERROR_CHAT_STREAM_NOT_FOUND, nil).Code(http.StatusNotFound)
	}
	return nil
}

// recordingSource keeps the relayed text for local token counting.
type recordingSource struct {
	src  stream.DeltaSource
	text strings.Builder
}

// Recv reports a broken generation stream as an unavailable backend.
func (r *recordingSource) Recv() (string, error) {
	delta, err := r.src.Recv()
	r.text.WriteString(delta)
	if err != nil && err != io.EOF && errors.KindOf(err) == errors.KindUnknown {
		err = errors.New("ChatLogic.recordingSource.Recv", i18n.ERROR_BACKEND_UNAVAILABLE, err).
			WithKind(errors.KindBackendUnavailable).
			Code(http.StatusBadGateway)
	}
	return delta, err
}
