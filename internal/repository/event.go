package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/pagination"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrainingEventPageResult is one cursor page of training history.
type TrainingEventPageResult struct {
	Items      []*domain.TrainingEvent
	NextCursor string
	HasMore    bool
}

type TrainingEventRepository struct {
	db dbtx
}

func NewTrainingEventRepository(pool *pgxpool.Pool) *TrainingEventRepository {
	return &TrainingEventRepository{db: pool}
}

func NewTrainingEventRepositoryWithTx(tx pgx.Tx) *TrainingEventRepository {
	return &TrainingEventRepository{db: tx}
}

func (r *TrainingEventRepository) Append(ctx context.Context, e *domain.TrainingEvent) error {
	if err := domain.ValidateTrainingEvent(e); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO training_events (id, document_slug, action, status, upload_type, byte_size, chunk_count, prior_chunks, duration_millis, error, created_at, finalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.DocumentSlug, e.Action, e.Status, e.UploadType, e.ByteSize, e.ChunkCount, e.PriorChunks, e.DurationMillis, e.Error, e.CreatedAt, e.FinalizedAt,
	)
	return err
}

// Finalize moves a started event to a terminal status. The status guard in
// the WHERE clause makes finalization exactly-once: a second call finds no
// started row and reports the conflict instead of overwriting.
func (r *TrainingEventRepository) Finalize(ctx context.Context, id string, status domain.TrainingStatus, details service.FinalizeDetails) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE training_events
		 SET status = $1, chunk_count = $2, prior_chunks = $3, duration_millis = $4, error = $5, finalized_at = $6
		 WHERE id = $7 AND status = $8`,
		status, details.ChunkCount, details.PriorChunks, details.DurationMillis, details.Error, time.Now().UTC(), id, domain.TrainingStatusStarted,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrEventAlreadyFinalized
	}
	return nil
}

func (r *TrainingEventRepository) GetByID(ctx context.Context, id string) (*domain.TrainingEvent, error) {
	var e domain.TrainingEvent
	err := r.db.QueryRow(ctx,
		`SELECT id, document_slug, action, status, upload_type, byte_size, chunk_count, prior_chunks, duration_millis, error, created_at, finalized_at
		 FROM training_events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.DocumentSlug, &e.Action, &e.Status, &e.UploadType, &e.ByteSize, &e.ChunkCount, &e.PriorChunks, &e.DurationMillis, &e.Error, &e.CreatedAt, &e.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListBySlugWithCursor pages through a document's training history, newest
// first.
func (r *TrainingEventRepository) ListBySlugWithCursor(ctx context.Context, slug string, cursor *pagination.Cursor, limit int) (*TrainingEventPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, document_slug, action, status, upload_type, byte_size, chunk_count, prior_chunks, duration_millis, error, created_at, finalized_at
			 FROM training_events
			 WHERE document_slug = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			slug, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, document_slug, action, status, upload_type, byte_size, chunk_count, prior_chunks, duration_millis, error, created_at, finalized_at
			 FROM training_events
			 WHERE document_slug = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			slug, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.TrainingEvent
	for rows.Next() {
		var e domain.TrainingEvent
		if err := rows.Scan(&e.ID, &e.DocumentSlug, &e.Action, &e.Status, &e.UploadType, &e.ByteSize, &e.ChunkCount, &e.PriorChunks, &e.DurationMillis, &e.Error, &e.CreatedAt, &e.FinalizedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &TrainingEventPageResult{
		Items:      events,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
