package domain

// KeyPrefix namespaces all keys written to the store.
const KeyPrefix = "cq:"

// Candidate is an ephemeral (source, text) pair produced during retrieval.
type Candidate struct {
	Source string
	Text   string
}

// ScoredChunk is a candidate after relevance scoring.
type ScoredChunk struct {
	Source string
	Text   string
	Score  float64
}

// Chunk is one row staged for the vector index.
type Chunk struct {
	SourceFile  string
	ContentHash string
	Text        string
	Vector      []float32
}

// RagResponse is the externally visible result of one query: the generated
// answer plus the sorted, deduplicated source filenames used in the context.
type RagResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Turn is one prior conversation turn from the session store.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
