package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type QuizRepository struct {
	pool *pgxpool.Pool
}

func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// ReplaceQuiz atomically replaces the document's quiz set: prior sets are
// deleted and the new one inserted in a single transaction, so readers see
// either the old quiz or the complete new one.
func (r *QuizRepository) ReplaceQuiz(ctx context.Context, q *domain.QuizSet) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM quiz_sets WHERE document_slug = $1`, q.DocumentSlug); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO quiz_sets (id, document_slug, requested, produced, failed_batches, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		q.ID, q.DocumentSlug, q.Requested, q.Produced, q.FailedBatches, q.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, question := range q.Questions {
		_, err := tx.Exec(ctx,
			`INSERT INTO quiz_questions (id, quiz_id, question_index, prompt, choices, answer_index, explanation)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			question.ID, q.ID, question.Index, question.Prompt, question.Choices, question.AnswerIndex, question.Explanation,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetLatest returns the document's current quiz set with its questions in
// index order.
func (r *QuizRepository) GetLatest(ctx context.Context, slug string) (*domain.QuizSet, error) {
	var q domain.QuizSet
	err := r.pool.QueryRow(ctx,
		`SELECT id, document_slug, requested, produced, failed_batches, created_at
		 FROM quiz_sets WHERE document_slug = $1
		 ORDER BY created_at DESC LIMIT 1`,
		slug,
	).Scan(&q.ID, &q.DocumentSlug, &q.Requested, &q.Produced, &q.FailedBatches, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQuizNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, quiz_id, question_index, prompt, choices, answer_index, explanation
		 FROM quiz_questions WHERE quiz_id = $1 ORDER BY question_index`,
		q.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var question domain.QuizQuestion
		if err := rows.Scan(&question.ID, &question.QuizID, &question.Index, &question.Prompt, &question.Choices, &question.AnswerIndex, &question.Explanation); err != nil {
			return nil, err
		}
		q.Questions = append(q.Questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &q, nil
}

// LastGeneratedAt returns when the document's quiz was last generated, or
// nil when it never was.
func (r *QuizRepository) LastGeneratedAt(ctx context.Context, slug string) (*time.Time, error) {
	var createdAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT created_at FROM quiz_sets WHERE document_slug = $1
		 ORDER BY created_at DESC LIMIT 1`,
		slug,
	).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &createdAt, nil
}
