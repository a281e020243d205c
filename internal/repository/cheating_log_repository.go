package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-grader/internal/model"
)

// CheatingLogRepository stores write-once cheating logs.
type CheatingLogRepository struct {
	pool *pgxpool.Pool
}

// NewCheatingLogRepository creates a new CheatingLogRepository.
func NewCheatingLogRepository(pool *pgxpool.Pool) *CheatingLogRepository {
	return &CheatingLogRepository{pool: pool}
}

// Insert writes the log unless one already exists for the submission.
// It reports whether a row was written.
func (r *CheatingLogRepository) Insert(ctx context.Context, entry *model.CheatingLog) (bool, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cheating_logs (submission_id, user_id, exam_id, copy_percentage, time_away_seconds, risk_level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (submission_id) DO NOTHING
		 RETURNING id`,
		entry.SubmissionID, entry.UserID, entry.ExamID, entry.CopyPercentage,
		entry.TimeAwaySeconds, entry.RiskLevel, entry.Timestamp,
	).Scan(&entry.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByExam retrieves the logs of an exam, highest risk first.
func (r *CheatingLogRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.CheatingLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, submission_id, user_id, exam_id, copy_percentage, time_away_seconds, risk_level, created_at
		 FROM cheating_logs
		 WHERE exam_id = $1
		 ORDER BY CASE risk_level WHEN 'High' THEN 0 WHEN 'Medium' THEN 1 ELSE 2 END, created_at`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []model.CheatingLog{}
	for rows.Next() {
		var l model.CheatingLog
		if err := rows.Scan(&l.ID, &l.SubmissionID, &l.UserID, &l.ExamID, &l.CopyPercentage,
			&l.TimeAwaySeconds, &l.RiskLevel, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
