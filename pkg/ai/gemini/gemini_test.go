package gemini_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/ai/gemini"
	"github.com/quka-ai/ragstream/pkg/types"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

func new(t *testing.T) *gemini.Driver {
	token := os.Getenv("RAGSTREAM_AI_GEMINI_TOKEN")
	if token == "" {
		t.Skip("RAGSTREAM_AI_GEMINI_TOKEN not set")
	}
	return gemini.New(token, ai.ModelName{}, 0.7)
}

var messages = []types.ChatMessage{
	{Role: types.CHAT_ROLE_SYSTEM, Content: ai.BuildFallbackPrompt("", nil)},
	{Role: types.CHAT_ROLE_USER, Content: "Say hello in one word."},
}

func Test_Generate(t *testing.T) {
	d := new(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()
	res, err := d.Generate(ctx, messages)
	require.NoError(t, err)

	t.Log(res.Message())
	assert.NotEmpty(t, res.Message())
}

func Test_GenerateStream(t *testing.T) {
	d := new(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()
	stream, err := d.GenerateStream(ctx, messages)
	require.NoError(t, err)
	defer stream.Close()

	var text string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		text += delta
	}
	assert.NotEmpty(t, text)
}
