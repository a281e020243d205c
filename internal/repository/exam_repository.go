package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-grader/internal/model"
)

// ExamRepository reads exams, topics and questions.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, time_limit_minutes, total_points,
		        subject, deadline, status, created_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.TimeLimitMinutes, &e.TotalPoints,
		&e.Subject, &e.Deadline, &e.Status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListTopics retrieves the topics of an exam.
func (r *ExamRepository) ListTopics(ctx context.Context, examID uuid.UUID) ([]model.Topic, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, title FROM topics WHERE exam_id = $1 ORDER BY title`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := []model.Topic{}
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.ExamID, &t.Title); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// ListQuestions retrieves the questions of an exam in display order.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, topic_id, text, points, kind, correct_answer,
		        choices, metrics, starter_code, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num, id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.TopicID, &q.Text, &q.Points, &q.Kind, &q.CorrectAnswer,
			&q.Choices, &q.Metrics, &q.StarterCode, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
