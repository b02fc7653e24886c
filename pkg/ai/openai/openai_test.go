package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/ai/openai"
	"github.com/quka-ai/ragstream/pkg/types"
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newServer(t *testing.T, handle func(w http.ResponseWriter, req chatRequest)) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		handle(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

var history = []types.ChatMessage{
	{Role: types.CHAT_ROLE_SYSTEM, Content: "ctx"},
	{Role: types.CHAT_ROLE_USER, Content: "hi"},
}

func TestGenerate(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, req chatRequest) {
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`))
	})

	d := openai.New("token", url, ai.ModelName{}, 0.7)
	resp, err := d.Generate(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Message())
	assert.Equal(t, 7, resp.Usage.PromptTokens)
}

func TestGenerateStream(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, req chatRequest) {
		assert.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"id":"x","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
			`{"id":"x","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"x","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"x","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	d := openai.New("token", url, ai.ModelName{ChatModel: "gpt-4o"}, 0)
	stream, err := d.GenerateStream(context.Background(), history)
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, delta)
	}
	assert.Equal(t, []string{"Hel", "lo"}, got)
	require.NotNil(t, stream.Usage())
	assert.Equal(t, 5, stream.Usage().PromptTokens)
	assert.Equal(t, 2, stream.Usage().CompletionTokens)
}

func TestGenerateBackendError(t *testing.T) {
	url := newServer(t, func(w http.ResponseWriter, req chatRequest) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	_, err := openai.New("token", url, ai.ModelName{}, 0).Generate(context.Background(), history)
	assert.Error(t, err)
}
