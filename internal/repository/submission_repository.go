package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-grader/internal/model"
)

const submissionColumns = `id, user_id, exam_id, started_at, submitted_at, time_spent_seconds, answers, status`

// SubmissionRepository stores frozen submissions. One row per (user_id, exam_id).
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	if err := row.Scan(&s.ID, &s.UserID, &s.ExamID, &s.StartedAt, &s.SubmittedAt,
		&s.TimeSpentSeconds, &s.Answers, &s.Status); err != nil {
		return nil, err
	}
	if s.Answers == nil {
		s.Answers = map[string]string{}
	}
	return s, nil
}

// Freeze inserts the submission. When the user already submitted this exam the
// stored row wins and is returned unchanged.
func (r *SubmissionRepository) Freeze(ctx context.Context, sub *model.Submission) (*model.Submission, error) {
	answers := sub.Answers
	if answers == nil {
		answers = map[string]string{}
	}

	stored, err := scanSubmission(r.pool.QueryRow(ctx,
		`INSERT INTO submissions (id, user_id, exam_id, started_at, submitted_at, time_spent_seconds, answers, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, exam_id) DO NOTHING
		 RETURNING `+submissionColumns,
		sub.ID, sub.UserID, sub.ExamID, sub.StartedAt, sub.SubmittedAt, sub.TimeSpentSeconds, answers, sub.Status,
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	// IDEMPOTENCY: a resubmit after a failed grading pass reuses the frozen row.
	existing, err := r.GetByUserAndExam(ctx, sub.UserID, sub.ExamID)
	if err != nil {
		return nil, fmt.Errorf("fetch existing submission: %w", err)
	}
	return existing, nil
}

// GetByUserAndExam retrieves the user's submission for an exam.
func (r *SubmissionRepository) GetByUserAndExam(ctx context.Context, userID string, examID uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE user_id = $1 AND exam_id = $2`, userID, examID,
	))
}
