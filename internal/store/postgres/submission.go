package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/taskbridge/internal/domain"
)

type SubmissionRepo struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepo(pool *pgxpool.Pool) *SubmissionRepo {
	return &SubmissionRepo{pool: pool}
}

func (r *SubmissionRepo) Create(ctx context.Context, s *domain.Submission) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO submissions (id, session_id, task_id, subtask, grade, value, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.ID, s.SessionID, s.TaskID, s.Subtask, s.Grade, s.Value, s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO best_grades (session_id, task_id, grade, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (session_id, task_id) DO UPDATE
			 SET grade = EXCLUDED.grade, updated_at = EXCLUDED.updated_at
			 WHERE best_grades.grade < EXCLUDED.grade`,
			s.SessionID, s.TaskID, s.Grade, s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert best grade: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("submissionRepo.Create: %w", err)
	}

	return nil
}

func (r *SubmissionRepo) Latest(ctx context.Context, sessionID uuid.UUID, taskID, subtask string) (*domain.Submission, error) {
	var s domain.Submission

	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, task_id, subtask, grade, value, created_at
		 FROM submissions
		 WHERE session_id = $1 AND task_id = $2 AND ($3 = '' OR subtask = $3)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		sessionID, taskID, subtask,
	).Scan(&s.ID, &s.SessionID, &s.TaskID, &s.Subtask, &s.Grade, &s.Value, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submissionRepo.Latest: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("submissionRepo.Latest: %w", err)
	}

	return &s, nil
}

func (r *SubmissionRepo) BestGrade(ctx context.Context, sessionID uuid.UUID, taskID string) (*domain.BestGrade, error) {
	var g domain.BestGrade

	err := r.pool.QueryRow(ctx,
		`SELECT session_id, task_id, grade, updated_at
		 FROM best_grades WHERE session_id = $1 AND task_id = $2`,
		sessionID, taskID,
	).Scan(&g.SessionID, &g.TaskID, &g.Grade, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submissionRepo.BestGrade: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("submissionRepo.BestGrade: %w", err)
	}

	return &g, nil
}
