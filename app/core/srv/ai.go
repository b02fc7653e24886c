package srv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/ai/gemini"
	"github.com/quka-ai/ragstream/pkg/ai/openai"
	"github.com/quka-ai/ragstream/pkg/types"
)

const (
	DEFAULT_AI_TEMPERATURE = 0.7
)

// openai compatible providers and their default endpoint and chat model
var compatibleProviders = map[string]struct {
	BaseURL   string
	ChatModel string
}{
	"deepseek": {"https://api.deepseek.com/v1", "deepseek-chat"},
	"qwen":     {"https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-plus"},
	"ollama":   {"http://localhost:11434/v1", "qwen2.5:7b"},
}

type AIConfig struct {
	// Provider openai | gemini | deepseek | qwen | ollama
	Provider    string  `toml:"provider"`
	Token       string  `toml:"token"`
	BaseURL     string  `toml:"base_url"`
	Temperature float32 `toml:"temperature"`
	ai.ModelName
}

// ModelDriver is a generator that knows the model it calls.
type ModelDriver interface {
	ai.Generator
	Model() string
}

type RequestObserver func(target string, cost time.Duration, err error)

// AI is the generation backend of the terminal fallback tier.
type AI struct {
	provider string
	driver   ModelDriver
	observe  RequestObserver
}

func SetupAIDriver(cfg AIConfig) (ModelDriver, error) {
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DEFAULT_AI_TEMPERATURE
	}

	provider := strings.ToLower(cfg.Provider)
	if p, ok := compatibleProviders[provider]; ok {
		if cfg.BaseURL == "" {
			cfg.BaseURL = p.BaseURL
		}
		if cfg.ChatModel == "" {
			cfg.ChatModel = p.ChatModel
		}
		provider = openai.NAME
	}

	switch provider {
	case "", openai.NAME:
		return openai.New(cfg.Token, cfg.BaseURL, cfg.ModelName, temperature), nil
	case gemini.NAME:
		if cfg.Token == "" {
			return nil, fmt.Errorf("gemini provider requires a token")
		}
		return gemini.New(cfg.Token, cfg.ModelName, temperature), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

func SetupAI(cfg AIConfig, observe RequestObserver) (*AI, error) {
	d, err := SetupAIDriver(cfg)
	if err != nil {
		return nil, err
	}
	return NewAI(lowerOr(cfg.Provider, openai.NAME), d, observe), nil
}

func NewAI(provider string, driver ModelDriver, observe RequestObserver) *AI {
	return &AI{
		provider: provider,
		driver:   driver,
		observe:  observe,
	}
}

func lowerOr(s, def string) string {
	if s == "" {
		return def
	}
	return strings.ToLower(s)
}

func (s *AI) Provider() string {
	return s.provider
}

func (s *AI) Model() string {
	return s.driver.Model()
}

func (s *AI) report(start time.Time, err error) {
	if s.observe != nil {
		s.observe(s.provider, time.Since(start), err)
	}
}

func (s *AI) Generate(ctx context.Context, messages []types.ChatMessage) (ai.GenerateResponse, error) {
	start := time.Now()
	resp, err := s.driver.Generate(ctx, messages)
	s.report(start, err)
	return resp, err
}

// GenerateStream only times the request until the first response; the
// stream itself is consumed by the encoder.
func (s *AI) GenerateStream(ctx context.Context, messages []types.ChatMessage) (ai.Stream, error) {
	start := time.Now()
	stream, err := s.driver.GenerateStream(ctx, messages)
	s.report(start, err)
	return stream, err
}

func ApplyAI(cfg AIConfig, observe RequestObserver) ApplyFunc {
	return func(s *Srv) {
		a, err := SetupAI(cfg, observe)
		if err != nil {
			panic(err)
		}
		s.ai = a
	}
}
