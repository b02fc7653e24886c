package srv

import (
	"github.com/quka-ai/ragstream/pkg/ai"
	"github.com/quka-ai/ragstream/pkg/ai/agents/rag"
)

type Srv struct {
	retriever rag.Retriever
	ai        *AI
	streams   *StreamRegistry
}

type ApplyFunc func(s *Srv)

func SetupSrvs(opts ...ApplyFunc) *Srv {
	a := &Srv{
		streams: NewStreamRegistry(),
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (s *Srv) Retriever() rag.Retriever {
	return s.retriever
}

func (s *Srv) AI() *AI {
	return s.ai
}

func (s *Srv) Generator() ai.Generator {
	if s.ai == nil {
		return nil
	}
	return s.ai
}

func (s *Srv) Streams() *StreamRegistry {
	return s.streams
}

// GetAIStatus reports which backends are wired.
func (s *Srv) GetAIStatus() map[string]interface{} {
	if s.ai == nil {
		return map[string]interface{}{
			"status":              "not_initialized",
			"retrieval_available": s.retriever != nil,
		}
	}

	return map[string]interface{}{
		"status":              "running",
		"provider":            s.ai.Provider(),
		"chat_model":          s.ai.Model(),
		"retrieval_available": s.retriever != nil,
		"active_streams":      s.streams.Count(),
	}
}
