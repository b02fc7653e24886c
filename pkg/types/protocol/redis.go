package protocol

import (
	"fmt"
)

// REDIS_CACHE_KEY_PREFIX redis cache key generator
const (
	REDIS_CACHE_KEY_PREFIX = "ragstream_"
)

func GenChatSemaphoreKey() string {
	return fmt.Sprintf("%ssemaphore_chat_stream", REDIS_CACHE_KEY_PREFIX)
}

func GenChatStreamHolderID(messageID string) string {
	return fmt.Sprintf("%sstream_%s", REDIS_CACHE_KEY_PREFIX, messageID)
}
