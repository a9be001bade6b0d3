package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloo-solutions/docuchat/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestChunkText_Empty(t *testing.T) {
	assert.Nil(t, chunkText("", DefaultChunkConfig()))
	assert.Nil(t, chunkText("   \n\t  ", DefaultChunkConfig()))
}

func TestChunkText_SingleShortChunk(t *testing.T) {
	chunks := chunkText("a handful of words", ChunkConfig{TargetTokens: 100, OverlapTokens: 20})
	require.Len(t, chunks, 1)
	assert.Equal(t, "a handful of words", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Nil(t, chunks[0].Page)
}

func TestChunkText_OverlapBetweenConsecutiveChunks(t *testing.T) {
	cfg := ChunkConfig{TargetTokens: 10, OverlapTokens: 3}
	chunks := chunkText(words("w", 25), cfg)
	require.Len(t, chunks, 4)

	first := strings.Fields(chunks[0].Content)
	second := strings.Fields(chunks[1].Content)
	// The last OverlapTokens words of a chunk open the next one.
	assert.Equal(t, first[len(first)-3:], second[:3])
}

func TestChunkText_TrailingShortChunkEmitted(t *testing.T) {
	cfg := ChunkConfig{TargetTokens: 10, OverlapTokens: 2}
	// 19 tokens: second window is 8..18, third window starts at 16 with 3 tokens left.
	chunks := chunkText(words("w", 19), cfg)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(last.Content, "w18"), "trailing content must not be dropped")
}

func TestChunkText_NoMarkersMeansNilPages(t *testing.T) {
	cfg := ChunkConfig{TargetTokens: 10, OverlapTokens: 2}
	chunks := chunkText(words("w", 50), cfg)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Nil(t, c.Page, "chunk %d must not get an estimated page", c.Ordinal)
	}
}

func TestChunkText_PageAttribution(t *testing.T) {
	text := extract.PageMarker(1) + words("a", 30) + " " +
		extract.PageMarker(2) + words("b", 30) + " " +
		extract.PageMarker(3) + words("c", 30)

	cfg := ChunkConfig{TargetTokens: 10, OverlapTokens: 2}
	chunks := chunkText(text, cfg)
	require.NotEmpty(t, chunks)

	prev := 0
	for _, c := range chunks {
		require.NotNil(t, c.Page, "chunk %d must have a page", c.Ordinal)
		assert.GreaterOrEqual(t, *c.Page, prev, "pages must be monotonically non-decreasing")
		assert.LessOrEqual(t, *c.Page, 3)
		prev = *c.Page
	}
	assert.Equal(t, 1, *chunks[0].Page)
	assert.Equal(t, 3, *chunks[len(chunks)-1].Page)
}

func TestChunkText_MarkersStrippedFromContent(t *testing.T) {
	text := extract.PageMarker(1) + "alpha beta " + extract.PageMarker(2) + "gamma delta"
	chunks := chunkText(text, ChunkConfig{TargetTokens: 100, OverlapTokens: 10})
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Content, "[page:")
	assert.Contains(t, chunks[0].Content, "alpha")
	assert.Contains(t, chunks[0].Content, "delta")
}

func TestChunkText_MaxChunksCap(t *testing.T) {
	cfg := ChunkConfig{TargetTokens: 5, OverlapTokens: 1, MaxChunks: 4}
	chunks := chunkText(words("w", 200), cfg)
	assert.Len(t, chunks, 4)
}
