package types

import (
	"strings"

	"github.com/samber/lo"
)

type ChatRole string

const (
	CHAT_ROLE_USER      ChatRole = "user"
	CHAT_ROLE_ASSISTANT ChatRole = "assistant"
	CHAT_ROLE_SYSTEM    ChatRole = "system"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// SearchMode selects the primary retrieval tier.
type SearchMode string

const (
	SEARCH_MODE_RAG   SearchMode = "rag"
	SEARCH_MODE_AGENT SearchMode = "agent"
)

func (m SearchMode) Valid() bool {
	return m == SEARCH_MODE_RAG || m == SEARCH_MODE_AGENT
}

func ParseSearchMode(s string) (SearchMode, bool) {
	switch m := SearchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SEARCH_MODE_RAG, true
	case SEARCH_MODE_RAG, SEARCH_MODE_AGENT:
		return m, true
	default:
		return m, false
	}
}

type ChatRequest struct {
	Messages   []ChatMessage `json:"messages" binding:"required"`
	SearchMode SearchMode    `json:"searchMode"`
}

// LastUserMessage returns the final message when it was written by the user.
func (r ChatRequest) LastUserMessage() (ChatMessage, bool) {
	last, ok := lo.Last(r.Messages)
	if !ok || last.Role != CHAT_ROLE_USER {
		return ChatMessage{}, false
	}
	return last, true
}
