package types

// PassageRecord is one retrieved chunk. It is serialized with the camelCase
// field names the chat front end reads from the searchResults frame.
type PassageRecord struct {
	ID            string         `json:"id"`
	DocumentID    string         `json:"documentId"`
	OwnerID       string         `json:"ownerId,omitempty"`
	CollectionIDs []string       `json:"collectionIds,omitempty"`
	Score         float64        `json:"score"`
	Text          string         `json:"text"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NumberedCitation is referenced in generated text as [n], pointing at index n-1.
type NumberedCitation struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	ChunkID    string         `json:"chunk_id,omitempty"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ShortIDTable maps a 7 character short id to the passage it was cut from.
type ShortIDTable map[string]PassageRecord

func (t ShortIDTable) Lookup(shortID string) (PassageRecord, bool) {
	if t == nil {
		return PassageRecord{}, false
	}
	p, ok := t[shortID]
	return p, ok
}

type RetrievalResult struct {
	Text     string
	Passages []PassageRecord
}
