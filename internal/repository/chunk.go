package repository

import (
	"context"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles persistence and similarity search of embedded
// document chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// InsertGeneration inserts one complete chunk generation.
func (r *ChunkRepository) InsertGeneration(ctx context.Context, chunks []domain.Chunk) error {
	for _, c := range chunks {
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks (id, document_slug, generation, ordinal, content, page, embedding, embedding_type, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.DocumentSlug, c.Generation, c.Ordinal, c.Content, c.Page, pgvector.NewVector(c.Embedding), c.EmbeddingType, c.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteOtherGenerations removes every chunk of the document except the
// named generation. Run inside the swap transaction in replace mode.
func (r *ChunkRepository) DeleteOtherGenerations(ctx context.Context, slug, keepGeneration string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE document_slug = $1 AND generation <> $2`,
		slug, keepGeneration,
	)
	return err
}

// DeleteGeneration removes one chunk generation.
func (r *ChunkRepository) DeleteGeneration(ctx context.Context, slug, generation string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE document_slug = $1 AND generation = $2`,
		slug, generation,
	)
	return err
}

func (r *ChunkRepository) CountBySlug(ctx context.Context, slug string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_slug = $1`,
		slug,
	).Scan(&count)
	return count, err
}

// ListBySlug returns the document's chunks in ordinal order, without their
// embeddings. limit of 0 means no limit.
func (r *ChunkRepository) ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Chunk, error) {
	query := `SELECT id, document_slug, generation, ordinal, content, page, embedding_type, created_at
		 FROM chunks WHERE document_slug = $1 ORDER BY generation, ordinal`
	args := []any{slug}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentSlug, &c.Generation, &c.Ordinal, &c.Content, &c.Page, &c.EmbeddingType, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SimilaritySearch returns the document's chunks most similar to the query
// vector, best first, at or above minSimilarity. Ties break by ordinal so
// results are reproducible.
func (r *ChunkRepository) SimilaritySearch(ctx context.Context, slug string, queryVector []float32, limit int, minSimilarity float32) ([]domain.RetrievedChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_slug, generation, ordinal, content, page, embedding_type, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM chunks
		 WHERE document_slug = $2 AND 1 - (embedding <=> $1) >= $3
		 ORDER BY score DESC, ordinal ASC
		 LIMIT $4`,
		pgvector.NewVector(queryVector), slug, minSimilarity, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.RetrievedChunk
	for rows.Next() {
		var rc domain.RetrievedChunk
		if err := rows.Scan(&rc.Chunk.ID, &rc.Chunk.DocumentSlug, &rc.Chunk.Generation, &rc.Chunk.Ordinal, &rc.Chunk.Content, &rc.Chunk.Page, &rc.Chunk.EmbeddingType, &rc.Chunk.CreatedAt, &rc.Score); err != nil {
			return nil, err
		}
		rc.DocumentSlug = rc.Chunk.DocumentSlug
		results = append(results, rc)
	}
	return results, rows.Err()
}
