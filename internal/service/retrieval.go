package service

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"golang.org/x/sync/errgroup"
)

// QueryEmbedder embeds the user's question into the query vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string, embeddingType domain.EmbeddingType) ([]float32, error)
}

// RetrievalDocumentRepository looks up document metadata for retrieval.
type RetrievalDocumentRepository interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Document, error)
}

// ChunkSearcher runs similarity search against the vector store.
type ChunkSearcher interface {
	SimilaritySearch(ctx context.Context, slug string, queryVector []float32, limit int, minSimilarity float32) ([]domain.RetrievedChunk, error)
}

// RetrieverConfig holds retrieval tuning. Similarity floors are per
// embedding type because scores are not comparable across vector spaces.
type RetrieverConfig struct {
	PerDocumentLimit int
	Floors           map[domain.EmbeddingType]float32
}

// DefaultRetrieverConfig provides sane defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		PerDocumentLimit: 6,
		Floors: map[domain.EmbeddingType]float32{
			domain.EmbeddingTypeSmall: 0.72,
			domain.EmbeddingTypeLarge: 0.35,
		},
	}
}

// Retriever fetches the most similar chunks per document for a query and
// merges them. One bad document degrades gracefully: the rest of a
// multi-document query is still served.
type Retriever struct {
	embedder QueryEmbedder
	docs     RetrievalDocumentRepository
	searcher ChunkSearcher
	cfg      RetrieverConfig
}

// NewRetriever creates a new Retriever instance
func NewRetriever(embedder QueryEmbedder, docs RetrievalDocumentRepository, searcher ChunkSearcher, cfg RetrieverConfig) *Retriever {
	if cfg.PerDocumentLimit <= 0 {
		cfg.PerDocumentLimit = DefaultRetrieverConfig().PerDocumentLimit
	}
	if len(cfg.Floors) == 0 {
		cfg.Floors = DefaultRetrieverConfig().Floors
	}
	return &Retriever{embedder: embedder, docs: docs, searcher: searcher, cfg: cfg}
}

// Retrieve embeds the query once and searches every requested document in
// parallel. perDocumentLimit of 0 uses the configured default.
func (r *Retriever) Retrieve(ctx context.Context, query string, slugs []string, embeddingType domain.EmbeddingType, perDocumentLimit int) (*domain.RetrievalResult, error) {
	if len(slugs) == 0 {
		return nil, domain.ErrMissingRequiredField
	}
	if !domain.IsValidEmbeddingType(embeddingType) {
		return nil, domain.ErrInvalidEmbeddingType
	}
	if perDocumentLimit <= 0 {
		perDocumentLimit = r.cfg.PerDocumentLimit
	}

	// The query's own embedding is the one failure nothing can degrade
	// around: without it there is nothing to search with.
	queryVector, err := r.embedder.EmbedQuery(ctx, query, embeddingType)
	if err != nil {
		return nil, err
	}

	floor := r.cfg.Floors[embeddingType]

	type docResult struct {
		slug   string
		chunks []domain.RetrievedChunk
		err    error
	}

	results := make([]docResult, len(slugs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, slug := range slugs {
		i, slug := i, slug
		g.Go(func() error {
			chunks, err := r.retrieveOne(gctx, slug, queryVector, embeddingType, perDocumentLimit, floor)
			mu.Lock()
			results[i] = docResult{slug: slug, chunks: chunks, err: err}
			mu.Unlock()
			// Per-document failures are recorded, never propagated: a
			// single bad document must not sink the query.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &domain.RetrievalResult{PerDocument: make(map[string]int)}
	for _, res := range results {
		if res.err != nil {
			log.Printf("retrieval failed for document %s: %v", res.slug, res.err)
			out.FailedDocs = append(out.FailedDocs, res.slug)
			continue
		}
		out.PerDocument[res.slug] = len(res.chunks)
		out.Chunks = append(out.Chunks, res.chunks...)
	}

	if len(out.PerDocument) == 0 {
		return nil, domain.ErrNoDocumentsSearchable
	}

	sortRetrieved(out.Chunks)
	return out, nil
}

func (r *Retriever) retrieveOne(ctx context.Context, slug string, queryVector []float32, embeddingType domain.EmbeddingType, limit int, floor float32) ([]domain.RetrievedChunk, error) {
	doc, err := r.docs.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !doc.Active {
		return nil, domain.ErrDocumentInactive
	}
	if doc.EmbeddingType != embeddingType {
		return nil, domain.ErrEmbeddingDimensionMismatch
	}

	chunks, err := r.searcher.SimilaritySearch(ctx, slug, queryVector, limit, floor)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].DocumentSlug = slug
		chunks[i].DocumentTitle = doc.Title
	}
	return chunks, nil
}

// sortRetrieved orders by similarity descending; ties break by document
// slug then chunk ordinal so results are reproducible.
func sortRetrieved(chunks []domain.RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].DocumentSlug != chunks[j].DocumentSlug {
			return chunks[i].DocumentSlug < chunks[j].DocumentSlug
		}
		return chunks[i].Chunk.Ordinal < chunks[j].Chunk.Ordinal
	})
}
