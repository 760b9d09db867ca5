package ingest

import (
	"fmt"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/google/uuid"
)

// ParsedLaw is a law document reduced to its clean sentence fragments.
type ParsedLaw struct {
	LawNo     string
	Name      string
	Category  domain.Category
	Fragments []string
}

// ChunkedLaw is a parsed law split into embeddable chunks.
type ChunkedLaw struct {
	ParsedLaw
	Chunks []Chunk
}

// Chunk is a text segment ready for embedding.
type Chunk struct {
	ID    string
	Text  string
	Index int
	LawNo string
}

// EmbeddedLaw is a chunked law with embeddings, index-aligned with Chunks.
type EmbeddedLaw struct {
	ChunkedLaw
	Embeddings [][]float32
}

// chunkID derives a deterministic UUID from law number and chunk index, so
// re-ingesting the same law yields the same chunk identities.
func chunkID(lawNo string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", lawNo, index))).String()
}
