package rag

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/mark"
	"github.com/quka-ai/ragstream/pkg/r2r"
	"github.com/quka-ai/ragstream/pkg/types"
)

// Retriever is the retrieval backend used by the orchestrator.
type Retriever interface {
	Invoke(ctx context.Context, mode types.SearchMode, query string) (types.RetrievalResult, error)
	Search(ctx context.Context, query string, limit int) ([]types.PassageRecord, error)
}

type Tier string

const (
	TIER_PRIMARY           Tier = "primary"
	TIER_SEARCH_GENERATION Tier = "search_generation"
)

// Answer is the outcome of the first tier that succeeded. Exactly one of
// Text and Stream is set.
type Answer struct {
	Tier       Tier
	Mode       types.SearchMode
	Text       string
	Stream     ai.Stream
	Passages   []types.PassageRecord
	Table      types.ShortIDTable
	Collisions []mark.ShortIDCollision
	// Prompt is the message list sent to the generation backend.
	Prompt []types.ChatMessage
	Usage  *openai.Usage
}

type Observer func(tier Tier, err error)

type Option func(*Orchestrator)

func WithSearchLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.searchLimit = limit
		}
	}
}

// WithStreaming makes the terminal tier relay the generation backend's own
// stream instead of waiting for the full completion.
func WithStreaming(enable bool) Option {
	return func(o *Orchestrator) {
		o.streaming = enable
	}
}

func WithPrompt(tpl string) Option {
	return func(o *Orchestrator) {
		o.prompt = tpl
	}
}

func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		o.observe = fn
	}
}

// Orchestrator tries the caller selected retrieval mode first and degrades to
// retrieval only search plus a separate generation call.
type Orchestrator struct {
	retriever   Retriever
	generator   ai.Generator
	searchLimit int
	streaming   bool
	prompt      string
	observe     Observer
}

func NewOrchestrator(retriever Retriever, generator ai.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever:   retriever,
		generator:   generator,
		searchLimit: r2r.DEFAULT_SEARCH_LIMIT,
		streaming:   true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) report(tier Tier, err error) {
	if o.observe != nil {
		o.observe(tier, err)
	}
}

// Answer runs the fallback chain for the conversation in messages. Failures
// of the primary tier are logged and swallowed; only a terminal tier failure
// is returned.
func (o *Orchestrator) Answer(ctx context.Context, mode types.SearchMode, messages []types.ChatMessage) (*Answer, error) {
	last, ok := types.ChatRequest{Messages: messages}.LastUserMessage()
	if !ok {
		return nil, errors.New("Orchestrator.Answer", i18n.ERROR_CHAT_NO_USER_MESSAGE, nil).
			WithKind(errors.KindValidation).
			Code(http.StatusBadRequest)
	}
	if !mode.Valid() {
		return nil, errors.New("Orchestrator.Answer", i18n.ERROR_CHAT_UNSUPPORTED_MODE, fmt.Errorf("unknown search mode %q", mode)).
			WithKind(errors.KindValidation).
			Code(http.StatusBadRequest)
	}

	res, err := o.retriever.Invoke(ctx, mode, last.Content)
	o.report(TIER_PRIMARY, err)
	if err == nil {
		return o.newAnswer(TIER_PRIMARY, mode, res.Passages, &Answer{Text: res.Text}), nil
	}
	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "Orchestrator.Answer.Primary", i18n.ERROR_STREAM_CANCELED)
	}
	slog.Error("primary retrieval tier failed, falling back to search and generation",
		slog.String("mode", string(mode)),
		slog.String("kind", string(errors.KindOf(err))),
		slog.String("error", err.Error()))

	answer, err := o.searchAndGenerate(ctx, last.Content, messages)
	o.report(TIER_SEARCH_GENERATION, err)
	if err != nil {
		slog.Error("search and generation tier failed",
			slog.String("mode", string(mode)),
			slog.String("kind", string(errors.KindOf(err))),
			slog.String("error", err.Error()))
		return nil, err
	}
	answer.Mode = mode
	return answer, nil
}

func (o *Orchestrator) searchAndGenerate(ctx context.Context, query string, history []types.ChatMessage) (*Answer, error) {
	passages, err := o.retriever.Search(ctx, query, o.searchLimit)
	if err != nil {
		return nil, errors.Trace("Orchestrator.searchAndGenerate.Search", err)
	}

	prompt := ai.BuildFallbackMessages(o.prompt, passages, history)
	answer := &Answer{Prompt: prompt}

	if o.streaming {
		stream, err := o.generator.GenerateStream(ctx, prompt)
		if err != nil {
			return nil, generationError("Orchestrator.searchAndGenerate.GenerateStream", err)
		}
		answer.Stream = stream
	} else {
		resp, err := o.generator.Generate(ctx, prompt)
		if err != nil {
			return nil, generationError("Orchestrator.searchAndGenerate.Generate", err)
		}
		answer.Text = resp.Message()
		answer.Usage = resp.Usage
	}
	return o.newAnswer(TIER_SEARCH_GENERATION, "", passages, answer), nil
}

func generationError(trace string, err error) error {
	if errors.KindOf(err) != errors.KindUnknown {
		return errors.Trace(trace, err)
	}
	return errors.New(trace, i18n.ERROR_BACKEND_UNAVAILABLE, err).
		WithKind(errors.KindBackendUnavailable).
		Code(http.StatusBadGateway)
}

func (o *Orchestrator) newAnswer(tier Tier, mode types.SearchMode, passages []types.PassageRecord, answer *Answer) *Answer {
	table, collisions := mark.BuildShortIDTable(passages)
	for _, c := range collisions {
		slog.Warn("short id collision, later passage wins",
			slog.String("short_id", c.ShortID),
			slog.String("replaced", c.Replaced.ID),
			slog.String("by", c.By.ID))
	}

	answer.Tier = tier
	answer.Mode = mode
	answer.Passages = passages
	answer.Table = table
	answer.Collisions = collisions
	return answer
}
