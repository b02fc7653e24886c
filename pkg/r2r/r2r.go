package r2r

// client for R2R compatible retrieval backends
// - rag: generation over retrieved chunks
// - agent: multi turn agent answer
// - search: retrieval only

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/types"
)

const (
	NAME = "r2r"

	RAG_ENDPOINT    = "/v3/retrieval/rag"
	AGENT_ENDPOINT  = "/v3/retrieval/agent"
	SEARCH_ENDPOINT = "/v3/retrieval/search"

	DEFAULT_MODEL        = "openai/gpt-4o-mini"
	DEFAULT_TEMPERATURE  = 0.7
	DEFAULT_SEARCH_LIMIT = 5
	DEFAULT_TIMEOUT      = 60 * time.Second
)

type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	Model           string
	Temperature     float64
	UseHybridSearch bool
}

type Client struct {
	client  *http.Client
	cfg     Config
	observe func(endpoint string, cost time.Duration, err error)
}

type Option func(*Client)

func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		c.client = cli
	}
}

// WithRequestObserver is called after every backend request.
func WithRequestObserver(fn func(endpoint string, cost time.Duration, err error)) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_TIMEOUT
	}
	if cfg.Model == "" {
		cfg.Model = DEFAULT_MODEL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) applyBaseHeader(req *http.Request) {
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Add("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func unavailable(trace string, err error) *errors.CustomizedError {
	return errors.New(trace, i18n.ERROR_BACKEND_UNAVAILABLE, err).
		WithKind(errors.KindBackendUnavailable).
		Code(http.StatusBadGateway)
}

func malformed(trace string, err error) *errors.CustomizedError {
	return errors.New(trace, i18n.ERROR_BACKEND_MALFORMED, err).
		WithKind(errors.KindMalformedResponse).
		Code(http.StatusBadGateway)
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (_ []byte, err error) {
	start := time.Now()
	defer func() {
		if c.observe != nil {
			c.observe(endpoint, time.Since(start), err)
		}
	}()

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.New("r2r.post.Marshal", i18n.ERROR_INTERNAL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, unavailable("r2r.post.NewRequest", err)
	}
	c.applyBaseHeader(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable("r2r.post.Do", fmt.Errorf("Failed to request %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("r2r.post.ReadBody", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, unavailable("r2r.post.Status", fmt.Errorf("Failed to request %s, %s: %s", endpoint, resp.Status, truncate(respBody, 256)))
	}
	return respBody, nil
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}

func (c *Client) generationConfig() GenerationConfig {
	return GenerationConfig{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Stream:      false,
	}
}

// Invoke runs the retrieval call selected by mode.
func (c *Client) Invoke(ctx context.Context, mode types.SearchMode, query string) (types.RetrievalResult, error) {
	switch mode {
	case types.SEARCH_MODE_AGENT:
		return c.Agent(ctx, query)
	case types.SEARCH_MODE_RAG:
		return c.Rag(ctx, query)
	default:
		return types.RetrievalResult{}, errors.New("r2r.Invoke", i18n.ERROR_CHAT_UNSUPPORTED_MODE, fmt.Errorf("unknown search mode %q", mode)).
			WithKind(errors.KindValidation).
			Code(http.StatusBadRequest)
	}
}

func (c *Client) Rag(ctx context.Context, query string) (types.RetrievalResult, error) {
	slog.Debug("Rag", slog.String("driver", NAME))

	body, err := c.post(ctx, RAG_ENDPOINT, RagRequest{
		Query:               query,
		RagGenerationConfig: c.generationConfig(),
	})
	if err != nil {
		return types.RetrievalResult{}, errors.Trace("r2r.Rag", err)
	}

	var resp RagResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return types.RetrievalResult{}, malformed("r2r.Rag.Unmarshal", err)
	}
	return resp.Result()
}

func (c *Client) Agent(ctx context.Context, query string) (types.RetrievalResult, error) {
	slog.Debug("Agent", slog.String("driver", NAME))

	body, err := c.post(ctx, AGENT_ENDPOINT, AgentRequest{
		Message: Message{
			Role:    string(types.CHAT_ROLE_USER),
			Content: query,
		},
		RagGenerationConfig: c.generationConfig(),
	})
	if err != nil {
		return types.RetrievalResult{}, errors.Trace("r2r.Agent", err)
	}

	var resp AgentResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return types.RetrievalResult{}, malformed("r2r.Agent.Unmarshal", err)
	}
	return resp.Result()
}

// Search runs a retrieval only query and keeps the backend's ranking.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]types.PassageRecord, error) {
	slog.Debug("Search", slog.String("driver", NAME), slog.Int("limit", limit))
	if limit <= 0 {
		limit = DEFAULT_SEARCH_LIMIT
	}

	body, err := c.post(ctx, SEARCH_ENDPOINT, SearchRequest{
		Query: query,
		SearchSettings: SearchSettings{
			Limit:           limit,
			UseHybridSearch: c.cfg.UseHybridSearch,
		},
	})
	if err != nil {
		return nil, errors.Trace("r2r.Search", err)
	}

	var resp SearchResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("r2r.Search.Unmarshal", err)
	}
	return resp.Passages()
}
