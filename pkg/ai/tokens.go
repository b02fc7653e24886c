package ai

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"

	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

func NumTokens(messages []openai.ChatCompletionMessage, model string) (numTokens int, err error) {
	var tokensPerMessage, tokensPerName int
	switch model {
	case "gpt-3.5-turbo-0613",
		"gpt-3.5-turbo-16k-0613",
		"gpt-4-0314",
		"gpt-4-32k-0314",
		"gpt-4-0613",
		"gpt-4-32k-0613":
		tokensPerMessage = 3
		tokensPerName = 1
	case "gpt-3.5-turbo-0301":
		tokensPerMessage = 4 // every message follows <|start|>{role/name}\n{content}<|end|>\n
		tokensPerName = -1   // if there's a name, the role is omitted
	default:
		if strings.Contains(model, "gpt-4") {
			return NumTokens(messages, "gpt-4-0613")
		} else {
			return NumTokens(messages, "gpt-3.5-turbo-0613")
		}
	}

	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		err = fmt.Errorf("encoding for model: %v", err)
		return
	}

	for _, message := range messages {
		numTokens += tokensPerMessage
		numTokens += len(tkm.Encode(message.Content, nil, nil))
		numTokens += len(tkm.Encode(message.Role, nil, nil))
		numTokens += len(tkm.Encode(message.Name, nil, nil))
		if message.Name != "" {
			numTokens += tokensPerName
		}
	}
	numTokens += 3 // every reply is primed with <|start|>assistant<|message|>
	return numTokens, nil
}

// EstimateUsage counts prompt and completion tokens locally, for backends
// that do not report usage.
func EstimateUsage(prompt []types.ChatMessage, completion, model string) (protocol.Usage, error) {
	promptTokens, err := NumTokens(ToMessageContext(prompt), model)
	if err != nil {
		return protocol.Usage{}, err
	}
	completionTokens, err := NumTokens([]openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleAssistant,
		Content: completion,
	}}, model)
	if err != nil {
		return protocol.Usage{}, err
	}
	return protocol.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}
