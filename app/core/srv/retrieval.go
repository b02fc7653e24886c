package srv

import (
	"github.com/quka-ai/ragstream/pkg/ai/agents/rag"
	"github.com/quka-ai/ragstream/pkg/r2r"
)

func ApplyRetriever(cfg r2r.Config, opts ...r2r.Option) ApplyFunc {
	return func(s *Srv) {
		s.retriever = r2r.New(cfg, opts...)
	}
}

// ApplyCustomRetriever installs an already constructed retriever, used by
// tests and embedders.
func ApplyCustomRetriever(r rag.Retriever) ApplyFunc {
	return func(s *Srv) {
		s.retriever = r
	}
}

// ApplyCustomAI installs an already constructed generation backend.
func ApplyCustomAI(a *AI) ApplyFunc {
	return func(s *Srv) {
		s.ai = a
	}
}
