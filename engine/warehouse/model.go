package warehouse

import "time"

// Record is one embedded law chunk bound for the warehouse.
type Record struct {
	LawNo      string
	LawName    string
	ChunkIndex int
	Content    string
	Embedding  []float32
	EmbeddedAt time.Time
}

// Hit is a single similarity search result.
type Hit struct {
	LawNo      string  `json:"law_no"`
	LawName    string  `json:"law_name"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"law_content"`
	Similarity float64 `json:"similarity"`
}
