package domain

import (
	"fmt"
	"time"
)

// Chunk is an immutable, page-attributed slice of a document's extracted
// text. Chunks are never mutated after creation; a retrain writes a new
// generation and, in replace mode, supersedes the old one atomically.
type Chunk struct {
	ID            string
	DocumentSlug  string
	Generation    string
	Ordinal       int
	Content       string
	Page          *int // nil when the source had no page markers
	Embedding     []float32
	EmbeddingType EmbeddingType
	CreatedAt     time.Time
}

// ValidateChunk validates a Chunk instance. The embedding, when present,
// must match the dimensionality of the chunk's embedding type.
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.DocumentSlug == "" {
		return ErrMissingRequiredField
	}
	if c.Generation == "" {
		return ErrMissingRequiredField
	}
	if c.Ordinal < 0 {
		return fmt.Errorf("chunk ordinal cannot be negative")
	}
	if c.Content == "" {
		return ErrMissingRequiredField
	}
	if !IsValidEmbeddingType(c.EmbeddingType) {
		return ErrInvalidEmbeddingType
	}
	if len(c.Embedding) > 0 && len(c.Embedding) != c.EmbeddingType.Dimensions() {
		return ErrEmbeddingDimensionMismatch
	}
	return nil
}
