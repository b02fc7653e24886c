package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/types"
)

const (
	NAME = "gemini"

	DEFAULT_CHAT_MODEL = "gemini-1.5-flash"
)

type Driver struct {
	client      *genai.Client
	model       ai.ModelName
	temperature float32
}

func New(token string, model ai.ModelName, temperature float32) *Driver {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(token))
	if err != nil {
		panic(err)
	}
	if model.ChatModel == "" {
		model.ChatModel = DEFAULT_CHAT_MODEL
	}

	return &Driver{
		client:      client,
		model:       model,
		temperature: temperature,
	}
}

func (s *Driver) Model() string {
	return s.model.ChatModel
}

// session maps system messages to the system instruction and the rest of the
// history to chat turns. The last message is returned as the one to send.
func (s *Driver) session(messages []types.ChatMessage) (*genai.ChatSession, genai.Text, error) {
	system, rest := lo.FilterReject(messages, func(item types.ChatMessage, _ int) bool {
		return item.Role == types.CHAT_ROLE_SYSTEM
	})
	if len(rest) == 0 {
		return nil, "", errors.New("no message to send")
	}

	model := s.client.GenerativeModel(s.model.ChatModel)
	model.SetTemperature(s.temperature)
	if len(system) > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(lo.Map(system, func(item types.ChatMessage, _ int) string {
			return item.Content
		}), "\n\n")))
	}

	cs := model.StartChat()
	cs.History = lo.Map(rest[:len(rest)-1], func(item types.ChatMessage, _ int) *genai.Content {
		return &genai.Content{
			Role:  lo.Ternary(item.Role == types.CHAT_ROLE_ASSISTANT, "model", "user"),
			Parts: []genai.Part{genai.Text(item.Content)},
		}
	})
	return cs, genai.Text(rest[len(rest)-1].Content), nil
}

func convertUsage(meta *genai.UsageMetadata) *openai.Usage {
	if meta == nil {
		return nil
	}
	return &openai.Usage{
		PromptTokens:     int(meta.PromptTokenCount),
		CompletionTokens: int(meta.CandidatesTokenCount),
		TotalTokens:      int(meta.TotalTokenCount),
	}
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	b := strings.Builder{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func (s *Driver) Generate(ctx context.Context, messages []types.ChatMessage) (ai.GenerateResponse, error) {
	slog.Debug("Generate", slog.String("driver", NAME), slog.String("model", s.model.ChatModel))

	var result ai.GenerateResponse
	cs, msg, err := s.session(messages)
	if err != nil {
		return result, err
	}

	resp, err := cs.SendMessage(ctx, msg)
	if err != nil {
		return result, err
	}
	if len(resp.Candidates) == 0 {
		return result, errors.New("empty response content")
	}
	if resp.Candidates[0].FinishReason != genai.FinishReasonStop {
		slog.Warn("Generate, ai finished without stop", slog.String("reason", resp.Candidates[0].FinishReason.String()))
	}

	if text := candidateText(resp); text != "" {
		result.Received = append(result.Received, text)
	}
	result.Model = s.model.ChatModel
	result.Usage = convertUsage(resp.UsageMetadata)
	return result, nil
}

func (s *Driver) GenerateStream(ctx context.Context, messages []types.ChatMessage) (ai.Stream, error) {
	slog.Debug("GenerateStream", slog.String("driver", NAME), slog.String("model", s.model.ChatModel))

	cs, msg, err := s.session(messages)
	if err != nil {
		return nil, err
	}
	return &streamReader{iter: cs.SendMessageStream(ctx, msg)}, nil
}

type streamReader struct {
	iter  *genai.GenerateContentResponseIterator
	usage *openai.Usage
}

func (r *streamReader) Recv() (string, error) {
	for {
		resp, err := r.iter.Next()
		if err == iterator.Done {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if u := convertUsage(resp.UsageMetadata); u != nil {
			r.usage = u
		}
		if text := candidateText(resp); text != "" {
			return text, nil
		}
	}
}

func (r *streamReader) Usage() *openai.Usage {
	return r.usage
}

func (r *streamReader) Close() error {
	return nil
}
