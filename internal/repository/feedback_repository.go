package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-grader/internal/model"
)

// ErrUnsupportedFeedbackVersion is returned for bundles written in an unknown layout.
var ErrUnsupportedFeedbackVersion = errors.New("unsupported feedback bundle version")

// FeedbackRepository stores one feedback bundle per (user_id, exam_id).
// Questions and breakdowns are JSONB columns encoded from the versioned model.
type FeedbackRepository struct {
	pool *pgxpool.Pool
}

// NewFeedbackRepository creates a new FeedbackRepository.
func NewFeedbackRepository(pool *pgxpool.Pool) *FeedbackRepository {
	return &FeedbackRepository{pool: pool}
}

// Upsert writes the bundle, overwriting any earlier grading of the same
// submission. created_at keeps the first write's time.
func (r *FeedbackRepository) Upsert(ctx context.Context, b *model.FeedbackBundle) (*model.FeedbackBundle, error) {
	stored := *b
	err := r.pool.QueryRow(ctx,
		`INSERT INTO feedback_bundles (user_id, exam_id, submission_id, version, total_score, max_score,
		                               feedback, topic_breakdown, metrics_breakdown, totals_mismatch)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, exam_id) DO UPDATE SET
		     submission_id     = EXCLUDED.submission_id,
		     version           = EXCLUDED.version,
		     total_score       = EXCLUDED.total_score,
		     max_score         = EXCLUDED.max_score,
		     feedback          = EXCLUDED.feedback,
		     topic_breakdown   = EXCLUDED.topic_breakdown,
		     metrics_breakdown = EXCLUDED.metrics_breakdown,
		     totals_mismatch   = EXCLUDED.totals_mismatch,
		     updated_at        = NOW()
		 RETURNING created_at`,
		b.UserID, b.ExamID, b.SubmissionID, b.Version, b.TotalScore, b.MaxScore,
		b.Questions, b.TopicBreakdown, b.MetricsBreakdown, b.TotalsMismatch,
	).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Get retrieves the bundle for a user and exam. pgx.ErrNoRows when not graded yet.
func (r *FeedbackRepository) Get(ctx context.Context, userID string, examID uuid.UUID) (*model.FeedbackBundle, error) {
	b := &model.FeedbackBundle{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, exam_id, submission_id, version, total_score, max_score,
		        feedback, topic_breakdown, metrics_breakdown, totals_mismatch, created_at
		 FROM feedback_bundles
		 WHERE user_id = $1 AND exam_id = $2`, userID, examID,
	).Scan(&b.UserID, &b.ExamID, &b.SubmissionID, &b.Version, &b.TotalScore, &b.MaxScore,
		&b.Questions, &b.TopicBreakdown, &b.MetricsBreakdown, &b.TotalsMismatch, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if b.Version != model.FeedbackVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFeedbackVersion, b.Version)
	}
	return b, nil
}
