package ai

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"

	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

type ModelName struct {
	ChatModel string `toml:"chat_model"`
}

// Generator is a chat completion backend.
type Generator interface {
	Generate(ctx context.Context, messages []types.ChatMessage) (GenerateResponse, error)
	GenerateStream(ctx context.Context, messages []types.ChatMessage) (Stream, error)
}

// Stream yields completion deltas until Recv returns io.EOF. Usage is only
// meaningful once the stream is drained and may be nil when the backend does
// not report it.
type Stream interface {
	Recv() (string, error)
	Usage() *openai.Usage
	Close() error
}

type MessageContext = openai.ChatCompletionMessage

func ToMessageContext(messages []types.ChatMessage) []MessageContext {
	return lo.Map(messages, func(item types.ChatMessage, _ int) MessageContext {
		return MessageContext{
			Role:    string(item.Role),
			Content: item.Content,
		}
	})
}

type GenerateResponse struct {
	Received []string      `json:"received"`
	Usage    *openai.Usage `json:"-"`
	Model    string        `json:"model"`
}

func (r GenerateResponse) Message() string {
	b := strings.Builder{}

	for i, item := range r.Received {
		if i != 0 {
			b.WriteString("\n")
		}
		b.WriteString(item)
	}

	return b.String()
}

type Usage struct {
	Model string        `json:"model"`
	Usage *openai.Usage `json:"-"`
}

func ToProtocolUsage(u *openai.Usage) protocol.Usage {
	if u == nil {
		return protocol.Usage{}
	}
	return protocol.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
	}
}
