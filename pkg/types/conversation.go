package types

import "github.com/quka-ai/ragstream/pkg/types/protocol"

// ConversationTurn is one entry of a client-held conversation. Passages are
// attached to the assistant turn that received them and never shared.
type ConversationTurn struct {
	ID               string          `json:"id"`
	Role             ChatRole        `json:"role"`
	Content          string          `json:"content"`
	ResolvedPassages ShortIDTable    `json:"resolved_passages,omitempty"`
	FinishReason     string          `json:"finish_reason,omitempty"`
	Usage            *protocol.Usage `json:"usage,omitempty"`
	Error            string          `json:"error,omitempty"`
}

func (t ConversationTurn) ToMessage() ChatMessage {
	return ChatMessage{
		Role:    t.Role,
		Content: t.Content,
	}
}
