package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (slug, title, owner_id, abstract, active, embedding_type, active_generation, chunk_limit, upload_type, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.Slug, d.Title, nullableString(d.OwnerID), d.Abstract, d.Active, d.EmbeddingType, nullableString(d.ActiveGeneration), d.ChunkLimit, d.UploadType, d.CreatedAt, d.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
		return domain.ErrDocumentAlreadyExists
	}
	return err
}

func (r *DocumentRepository) GetBySlug(ctx context.Context, slug string) (*domain.Document, error) {
	var d domain.Document
	var ownerID, activeGeneration *string
	err := r.db.QueryRow(ctx,
		`SELECT slug, title, owner_id, abstract, active, embedding_type, active_generation, chunk_limit, upload_type, created_at, updated_at
		 FROM documents WHERE slug = $1`,
		slug,
	).Scan(&d.Slug, &d.Title, &ownerID, &d.Abstract, &d.Active, &d.EmbeddingType, &activeGeneration, &d.ChunkLimit, &d.UploadType, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if ownerID != nil {
		d.OwnerID = *ownerID
	}
	if activeGeneration != nil {
		d.ActiveGeneration = *activeGeneration
	}
	return &d, nil
}

func (r *DocumentRepository) List(ctx context.Context) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT slug, title, owner_id, abstract, active, embedding_type, active_generation, chunk_limit, upload_type, created_at, updated_at
		 FROM documents ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Document
	for rows.Next() {
		var d domain.Document
		var ownerID, activeGeneration *string
		if err := rows.Scan(&d.Slug, &d.Title, &ownerID, &d.Abstract, &d.Active, &d.EmbeddingType, &activeGeneration, &d.ChunkLimit, &d.UploadType, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if ownerID != nil {
			d.OwnerID = *ownerID
		}
		if activeGeneration != nil {
			d.ActiveGeneration = *activeGeneration
		}
		results = append(results, &d)
	}
	return results, rows.Err()
}

func (r *DocumentRepository) Update(ctx context.Context, d *domain.Document) error {
	d.UpdatedAt = time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET title = $1, abstract = $2, active = $3, active_generation = $4, chunk_limit = $5, upload_type = $6, updated_at = $7
		 WHERE slug = $8`,
		d.Title, d.Abstract, d.Active, nullableString(d.ActiveGeneration), d.ChunkLimit, d.UploadType, d.UpdatedAt, d.Slug,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) SetAbstract(ctx context.Context, slug, abstract string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET abstract = $1, updated_at = $2 WHERE slug = $3`,
		abstract, time.Now().UTC(), slug,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, slug string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM documents WHERE slug = $1`,
		slug,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
