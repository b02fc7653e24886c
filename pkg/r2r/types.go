package r2r

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/quka-ai/ragstream/pkg/types"
)

type GenerationConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type RagRequest struct {
	Query               string           `json:"query"`
	RagGenerationConfig GenerationConfig `json:"rag_generation_config"`
}

type AgentRequest struct {
	Message             Message          `json:"message"`
	RagGenerationConfig GenerationConfig `json:"rag_generation_config"`
}

type SearchSettings struct {
	Limit           int  `json:"limit"`
	UseHybridSearch bool `json:"use_hybrid_search"`
}

type SearchRequest struct {
	Query          string         `json:"query"`
	SearchSettings SearchSettings `json:"search_settings"`
}

// ChunkResult accepts both the snake_case wire names and the camelCase names
// produced by the js sdk.
type ChunkResult struct {
	ID                 string         `json:"id"`
	DocumentID         string         `json:"document_id"`
	DocumentIDCamel    string         `json:"documentId"`
	OwnerID            string         `json:"owner_id"`
	OwnerIDCamel       string         `json:"ownerId"`
	CollectionIDs      []string       `json:"collection_ids"`
	CollectionIDsCamel []string       `json:"collectionIds"`
	Score              float64        `json:"score"`
	Text               string         `json:"text"`
	Metadata           map[string]any `json:"metadata"`
}

func (c ChunkResult) Passage() types.PassageRecord {
	return types.PassageRecord{
		ID:            c.ID,
		DocumentID:    coalesce(c.DocumentID, c.DocumentIDCamel),
		OwnerID:       coalesce(c.OwnerID, c.OwnerIDCamel),
		CollectionIDs: lo.Ternary(len(c.CollectionIDs) > 0, c.CollectionIDs, c.CollectionIDsCamel),
		Score:         c.Score,
		Text:          c.Text,
		Metadata:      c.Metadata,
	}
}

type SearchResults struct {
	ChunkSearchResults      []ChunkResult `json:"chunk_search_results"`
	ChunkSearchResultsCamel []ChunkResult `json:"chunkSearchResults"`
}

func (s *SearchResults) Passages() []types.PassageRecord {
	if s == nil {
		return nil
	}
	chunks := lo.Ternary(len(s.ChunkSearchResults) > 0, s.ChunkSearchResults, s.ChunkSearchResultsCamel)
	return lo.Map(chunks, func(item ChunkResult, _ int) types.PassageRecord {
		return item.Passage()
	})
}

func coalesce(values ...string) string {
	v, _ := lo.Coalesce(values...)
	return v
}

// GenerationResults holds the answer fields shared by rag and agent replies.
type GenerationResults struct {
	Completion           json.RawMessage `json:"completion"`
	GeneratedAnswer      string          `json:"generated_answer"`
	GeneratedAnswerCamel string          `json:"generatedAnswer"`
	SearchResults        *SearchResults  `json:"search_results"`
	SearchResultsCamel   *SearchResults  `json:"searchResults"`
}

func (g GenerationResults) text() string {
	return coalesce(
		strings.TrimSpace(completionText(g.Completion)),
		strings.TrimSpace(g.GeneratedAnswer),
		strings.TrimSpace(g.GeneratedAnswerCamel),
	)
}

func (g GenerationResults) passages() []types.PassageRecord {
	if g.SearchResults != nil {
		if p := g.SearchResults.Passages(); len(p) > 0 {
			return p
		}
	}
	return g.SearchResultsCamel.Passages()
}

// completionText reads completion either as a plain string or as a chat
// completion object.
func completionText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '{':
		var obj struct {
			Choices []struct {
				Message struct {
					Content json.RawMessage `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Choices) > 0 {
			return contentText(obj.Choices[0].Message.Content)
		}
	}
	return ""
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// contentText reads a message content that is a string or a list of text parts.
func contentText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	}
	var parts []textPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	return strings.Join(lo.FilterMap(parts, func(p textPart, _ int) (string, bool) {
		return p.Text, p.Text != ""
	}), "")
}

type RagResponse struct {
	Results *GenerationResults `json:"results"`
}

func (r RagResponse) Result() (types.RetrievalResult, error) {
	if r.Results == nil {
		return types.RetrievalResult{}, malformed("r2r.RagResponse.Result", fmt.Errorf("response has no results"))
	}
	text := r.Results.text()
	if text == "" {
		return types.RetrievalResult{}, malformed("r2r.RagResponse.Result", fmt.Errorf("response has no completion"))
	}
	return types.RetrievalResult{
		Text:     text,
		Passages: r.Results.passages(),
	}, nil
}

type AgentMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type AgentResults struct {
	Messages []AgentMessage `json:"messages"`
	GenerationResults
}

type AgentResponse struct {
	Results *AgentResults `json:"results"`
}

// Result prefers the assistant message of the returned history and falls back
// to the generation fields.
func (r AgentResponse) Result() (types.RetrievalResult, error) {
	if r.Results == nil {
		return types.RetrievalResult{}, malformed("r2r.AgentResponse.Result", fmt.Errorf("response has no results"))
	}

	var text string
	if msg, ok := lo.Find(r.Results.Messages, func(item AgentMessage) bool {
		return item.Role == string(types.CHAT_ROLE_ASSISTANT)
	}); ok {
		text = strings.TrimSpace(contentText(msg.Content))
	}
	if text == "" {
		text = r.Results.text()
	}
	if text == "" {
		return types.RetrievalResult{}, malformed("r2r.AgentResponse.Result", fmt.Errorf("response has no assistant message"))
	}
	return types.RetrievalResult{
		Text:     text,
		Passages: r.Results.passages(),
	}, nil
}

type SearchResponse struct {
	Results json.RawMessage `json:"results"`
}

// Passages reads results either as a search results object or as a bare
// list of chunks. Missing results yield an empty list.
func (r SearchResponse) Passages() ([]types.PassageRecord, error) {
	raw := bytes.TrimSpace(r.Results)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var chunks []ChunkResult
		if err := json.Unmarshal(raw, &chunks); err != nil {
			return nil, malformed("r2r.SearchResponse.Passages.List", err)
		}
		return lo.Map(chunks, func(item ChunkResult, _ int) types.PassageRecord {
			return item.Passage()
		}), nil
	case '{':
		var results SearchResults
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, malformed("r2r.SearchResponse.Passages.Object", err)
		}
		return results.Passages(), nil
	default:
		return nil, malformed("r2r.SearchResponse.Passages", fmt.Errorf("unexpected results payload"))
	}
}
