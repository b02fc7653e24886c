package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quka-ai/ragstream/pkg/types"
)

func TestEstimateUsage(t *testing.T) {
	prompt := []types.ChatMessage{
		{Role: types.CHAT_ROLE_SYSTEM, Content: "Answer from the passages."},
		{Role: types.CHAT_ROLE_USER, Content: "what is in the report?"},
	}
	short, err := EstimateUsage(prompt, "Revenue.", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Greater(t, short.PromptTokens, 0)
	assert.Greater(t, short.CompletionTokens, 0)

	long, err := EstimateUsage(prompt, "Revenue grew by ten percent in the third quarter.", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, short.PromptTokens, long.PromptTokens)
	assert.Greater(t, long.CompletionTokens, short.CompletionTokens)
}
