package ai

import (
	"fmt"
	"strings"

	"github.com/quka-ai/ragstream/pkg/types"
)

const PROMPT_VAR_CONTEXT = "${context}"

const PROMPT_FALLBACK_SYSTEM_EN = `You are a helpful assistant with access to a knowledge base. Use the following context to answer questions. If the context doesn't contain relevant information, say so and provide a general response.

Context from knowledge base:
${context}`

const PROMPT_NO_RELEVANT_DOCUMENTS = "No relevant documents found."

// BuildContextBlock numbers passages from 1 in the order given.
func BuildContextBlock(passages []types.PassageRecord) string {
	if len(passages) == 0 {
		return PROMPT_NO_RELEVANT_DOCUMENTS
	}
	b := strings.Builder{}
	for i, p := range passages {
		if i != 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("[%d] %s", i+1, p.Text))
	}
	return b.String()
}

func BuildFallbackPrompt(tpl string, passages []types.PassageRecord) string {
	if tpl == "" {
		tpl = PROMPT_FALLBACK_SYSTEM_EN
	}
	return strings.ReplaceAll(tpl, PROMPT_VAR_CONTEXT, BuildContextBlock(passages))
}

// BuildFallbackMessages prepends the context carrying system prompt to the
// whole conversation history.
func BuildFallbackMessages(tpl string, passages []types.PassageRecord, history []types.ChatMessage) []types.ChatMessage {
	messages := make([]types.ChatMessage, 0, len(history)+1)
	messages = append(messages, types.ChatMessage{
		Role:    types.CHAT_ROLE_SYSTEM,
		Content: BuildFallbackPrompt(tpl, passages),
	})
	return append(messages, history...)
}
