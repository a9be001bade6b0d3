package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockQueryEmbedder is a mock implementation of QueryEmbedder
type MockQueryEmbedder struct {
	mock.Mock
}

func (m *MockQueryEmbedder) EmbedQuery(ctx context.Context, text string, embeddingType domain.EmbeddingType) ([]float32, error) {
	args := m.Called(ctx, text, embeddingType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockRetrievalDocumentRepository is a mock implementation of RetrievalDocumentRepository
type MockRetrievalDocumentRepository struct {
	mock.Mock
}

func (m *MockRetrievalDocumentRepository) GetBySlug(ctx context.Context, slug string) (*domain.Document, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

// MockChunkSearcher is a mock implementation of ChunkSearcher
type MockChunkSearcher struct {
	mock.Mock
}

func (m *MockChunkSearcher) SimilaritySearch(ctx context.Context, slug string, queryVector []float32, limit int, minSimilarity float32) ([]domain.RetrievedChunk, error) {
	args := m.Called(ctx, slug, queryVector, limit, minSimilarity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievedChunk), args.Error(1)
}

func activeDoc(slug, title string) *domain.Document {
	return &domain.Document{
		Slug:          slug,
		Title:         title,
		Active:        true,
		EmbeddingType: domain.EmbeddingTypeSmall,
	}
}

func hit(ordinal int, score float32) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		Chunk: domain.Chunk{Ordinal: ordinal, Content: "chunk"},
		Score: score,
	}
}

func TestRetriever_SingleDocument(t *testing.T) {
	embedder := new(MockQueryEmbedder)
	docs := new(MockRetrievalDocumentRepository)
	searcher := new(MockChunkSearcher)

	vector := []float32{0.1, 0.2}
	embedder.On("EmbedQuery", mock.Anything, "what is photosynthesis?", domain.EmbeddingTypeSmall).Return(vector, nil)
	docs.On("GetBySlug", mock.Anything, "biology-101").Return(activeDoc("biology-101", "Biology 101"), nil)
	searcher.On("SimilaritySearch", mock.Anything, "biology-101", vector, 6, float32(0.72)).
		Return([]domain.RetrievedChunk{hit(3, 0.91), hit(7, 0.84)}, nil)

	r := NewRetriever(embedder, docs, searcher, DefaultRetrieverConfig())
	result, err := r.Retrieve(context.Background(), "what is photosynthesis?", []string{"biology-101"}, domain.EmbeddingTypeSmall, 0)

	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "Biology 101", result.Chunks[0].DocumentTitle)
	assert.Equal(t, 2, result.PerDocument["biology-101"])
	assert.Empty(t, result.FailedDocs)
	embedder.AssertNumberOfCalls(t, "EmbedQuery", 1)
}

func TestRetriever_MergesAndOrdersDeterministically(t *testing.T) {
	embedder := new(MockQueryEmbedder)
	docs := new(MockRetrievalDocumentRepository)
	searcher := new(MockChunkSearcher)

	vector := []float32{0.5}
	embedder.On("EmbedQuery", mock.Anything, mock.Anything, domain.EmbeddingTypeSmall).Return(vector, nil)
	docs.On("GetBySlug", mock.Anything, "alpha").Return(activeDoc("alpha", "Alpha"), nil)
	docs.On("GetBySlug", mock.Anything, "beta").Return(activeDoc("beta", "Beta"), nil)

	// Equal scores must break ties by slug then ordinal.
	searcher.On("SimilaritySearch", mock.Anything, "alpha", vector, 6, float32(0.72)).
		Return([]domain.RetrievedChunk{hit(5, 0.80), hit(2, 0.80)}, nil)
	searcher.On("SimilaritySearch", mock.Anything, "beta", vector, 6, float32(0.72)).
		Return([]domain.RetrievedChunk{hit(1, 0.95), hit(9, 0.80)}, nil)

	r := NewRetriever(embedder, docs, searcher, DefaultRetrieverConfig())
	result, err := r.Retrieve(context.Background(), "q", []string{"alpha", "beta"}, domain.EmbeddingTypeSmall, 0)

	require.NoError(t, err)
	require.Len(t, result.Chunks, 4)
	assert.Equal(t, float32(0.95), result.Chunks[0].Score)
	assert.Equal(t, "beta", result.Chunks[0].DocumentSlug)
	// The three 0.80 hits: alpha/2, alpha/5, beta/9.
	assert.Equal(t, "alpha", result.Chunks[1].DocumentSlug)
	assert.Equal(t, 2, result.Chunks[1].Chunk.Ordinal)
	assert.Equal(t, "alpha", result.Chunks[2].DocumentSlug)
	assert.Equal(t, 5, result.Chunks[2].Chunk.Ordinal)
	assert.Equal(t, "beta", result.Chunks[3].DocumentSlug)
	assert.Equal(t, 2, result.DocumentCount())
}

func TestRetriever_PartialDocumentFailureDegradesGracefully(t *testing.T) {
	embedder := new(MockQueryEmbedder)
	docs := new(MockRetrievalDocumentRepository)
	searcher := new(MockChunkSearcher)

	vector := []float32{0.5}
	embedder.On("EmbedQuery", mock.Anything, mock.Anything, domain.EmbeddingTypeSmall).Return(vector, nil)
	docs.On("GetBySlug", mock.Anything, "good").Return(activeDoc("good", "Good"), nil)
	docs.On("GetBySlug", mock.Anything, "broken").Return(activeDoc("broken", "Broken"), nil)

	searcher.On("SimilaritySearch", mock.Anything, "good", vector, 6, float32(0.72)).
		Return([]domain.RetrievedChunk{hit(0, 0.9)}, nil)
	searcher.On("SimilaritySearch", mock.Anything, "broken", vector, 6, float32(0.72)).
		Return(nil, errors.New("relation does not exist"))

	r := NewRetriever(embedder, docs, searcher, DefaultRetrieverConfig())
	result, err := r.Retrieve(context.Background(), "q", []string{"good", "broken"}, domain.EmbeddingTypeSmall, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, result.FailedDocs)
	assert.Len(t, result.Chunks, 1)
	assert.Equal(t, 1, result.PerDocument["good"])
}

func TestRetriever_AllDocumentsFailed(t *testing.T) {
	embedder := new(MockQueryEmbedder)
	docs := new(MockRetrievalDocumentRepository)
	searcher := new(MockChunkSearcher)

	embedder.On("EmbedQuery", mock.Anything, mock.Anything, domain.EmbeddingTypeSmall).Return([]float32{0.5}, nil)
	docs.On("GetBySlug", mock.Anything, "gone").Return(nil, domain.ErrDocumentNotFound)

	r := NewRetriever(embedder, docs, searcher, DefaultRetrieverConfig())
	_, err := r.Retrieve(context.Background(), "q", []string{"gone"}, domain.EmbeddingTypeSmall, 0)

	assert.ErrorIs(t, err, domain.ErrNoDocumentsSearchable)
}

func TestRetriever_QueryEmbeddingFailureAborts(t *testing.T) {
	embedder := new(MockQueryEmbedder)
	docs := new(MockRetrievalDocumentRepository)
	searcher := new(MockChunkSearcher)

	boom := errors.New("provider down")
	embedder.On("EmbedQuery", mock.Anything, mock.Anything, domain.EmbeddingTypeSmall).Return(nil, boom)

	r := NewRetriever(embedder, docs, searcher, DefaultRetrieverConfig())
	_, err := r.Retrieve(context.Background(), "q", []string{"a", "b"}, domain.EmbeddingTypeSmall, 0)

	assert.ErrorIs(t, err, boom)
	searcher.AssertNotCalled(t, "SimilaritySearch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRetriever_MismatchedEmbeddingTypeFailsThatDocument(t *testing.T) {
	embedder := new(MockQueryEmbedder)
	docs := new(MockRetrievalDocumentRepository)
	searcher := new(MockChunkSearcher)

	embedder.On("EmbedQuery", mock.Anything, mock.Anything, domain.EmbeddingTypeLarge).Return([]float32{0.5}, nil)
	large := activeDoc("big", "Big")
	large.EmbeddingType = domain.EmbeddingTypeLarge
	docs.On("GetBySlug", mock.Anything, "big").Return(large, nil)
	docs.On("GetBySlug", mock.Anything, "small").Return(activeDoc("small", "Small"), nil)

	searcher.On("SimilaritySearch", mock.Anything, "big", mock.Anything, 6, float32(0.35)).
		Return([]domain.RetrievedChunk{hit(0, 0.6)}, nil)

	r := NewRetriever(embedder, docs, searcher, DefaultRetrieverConfig())
	result, err := r.Retrieve(context.Background(), "q", []string{"big", "small"}, domain.EmbeddingTypeLarge, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, result.FailedDocs)
	assert.Len(t, result.Chunks, 1)
}

func TestRetriever_EmptySlugList(t *testing.T) {
	r := NewRetriever(new(MockQueryEmbedder), new(MockRetrievalDocumentRepository), new(MockChunkSearcher), DefaultRetrieverConfig())
	_, err := r.Retrieve(context.Background(), "q", nil, domain.EmbeddingTypeSmall, 0)
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}
