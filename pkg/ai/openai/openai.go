package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"

	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/types"
)

const (
	NAME = "openai"
)

type Driver struct {
	client      *openai.Client
	model       ai.ModelName
	temperature float32
}

func NewClient(token, proxy string) *openai.Client {
	cfg := openai.DefaultConfig(token)
	if proxy != "" {
		cfg.BaseURL = proxy
	}

	return openai.NewClientWithConfig(cfg)
}

func New(token, proxy string, model ai.ModelName, temperature float32) *Driver {
	if model.ChatModel == "" {
		model.ChatModel = openai.GPT4oMini
	}

	return &Driver{
		client:      NewClient(token, proxy),
		model:       model,
		temperature: temperature,
	}
}

func (s *Driver) Model() string {
	return s.model.ChatModel
}

func (s *Driver) request(messages []types.ChatMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       s.model.ChatModel,
		Messages:    ai.ToMessageContext(messages),
		Temperature: s.temperature,
	}
}

func (s *Driver) Generate(ctx context.Context, messages []types.ChatMessage) (ai.GenerateResponse, error) {
	slog.Debug("Generate", slog.String("driver", NAME), slog.String("model", s.model.ChatModel))

	var result ai.GenerateResponse
	resp, err := s.client.CreateChatCompletion(ctx, s.request(messages))
	if err != nil {
		return result, fmt.Errorf("Failed to create chat completion: %w", err)
	}

	result.Received = lo.FilterMap(resp.Choices, func(item openai.ChatCompletionChoice, _ int) (string, bool) {
		return item.Message.Content, item.Message.Content != ""
	})
	result.Model = resp.Model
	result.Usage = &resp.Usage
	return result, nil
}

func (s *Driver) GenerateStream(ctx context.Context, messages []types.ChatMessage) (ai.Stream, error) {
	slog.Debug("GenerateStream", slog.String("driver", NAME), slog.String("model", s.model.ChatModel))

	req := s.request(messages)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{
		IncludeUsage: true,
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Failed to create chat completion stream: %w", err)
	}
	return &streamReader{stream: stream}, nil
}

type streamReader struct {
	stream *openai.ChatCompletionStream
	usage  *openai.Usage
}

// Recv skips chunks without content, such as the trailing usage chunk.
func (r *streamReader) Recv() (string, error) {
	for {
		resp, err := r.stream.Recv()
		if err != nil {
			return "", err
		}
		if resp.Usage != nil {
			r.usage = resp.Usage
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (r *streamReader) Usage() *openai.Usage {
	return r.usage
}

func (r *streamReader) Close() error {
	return r.stream.Close()
}
