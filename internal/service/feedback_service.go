package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/model"
)

var (
	ErrFeedbackNotFound   = errors.New("feedback not found")
	ErrSubmissionNotFound = errors.New("submission not found")
)

type FeedbackReader interface {
	Get(ctx context.Context, userID string, examID uuid.UUID) (*model.FeedbackBundle, error)
}

type SubmissionReader interface {
	GetByUserAndExam(ctx context.Context, userID string, examID uuid.UUID) (*model.Submission, error)
}

type CheatingLogReader interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.CheatingLog, error)
}

// Regrader re-runs grading over a frozen submission.
type Regrader interface {
	Regrade(ctx context.Context, paper *model.ExamPaper, sub *model.Submission) (*model.FeedbackBundle, error)
}

// RegradeQueue hands regrade jobs to the background worker.
type RegradeQueue interface {
	Enqueue(ctx context.Context, userID string, examID uuid.UUID) error
}

// FeedbackService serves stored feedback and drives regrading.
type FeedbackService struct {
	feedback    FeedbackReader
	submissions SubmissionReader
	cheatLogs   CheatingLogReader
	exams       *ExamService
	regrader    Regrader
	queue       RegradeQueue
	log         zerolog.Logger
}

func NewFeedbackService(
	feedback FeedbackReader,
	submissions SubmissionReader,
	cheatLogs CheatingLogReader,
	exams *ExamService,
	regrader Regrader,
	queue RegradeQueue,
	log zerolog.Logger,
) *FeedbackService {
	return &FeedbackService{
		feedback:    feedback,
		submissions: submissions,
		cheatLogs:   cheatLogs,
		exams:       exams,
		regrader:    regrader,
		queue:       queue,
		log:         log.With().Str("component", "feedback_service").Logger(),
	}
}

// Get returns the stored bundle for a user and exam.
func (s *FeedbackService) Get(ctx context.Context, userID string, examID uuid.UUID) (*model.FeedbackBundle, error) {
	b, err := s.feedback.Get(ctx, userID, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeedbackNotFound
		}
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return b, nil
}

// Submission returns the frozen submission, or ErrSubmissionNotFound.
func (s *FeedbackService) Submission(ctx context.Context, userID string, examID uuid.UUID) (*model.Submission, error) {
	sub, err := s.submissions.GetByUserAndExam(ctx, userID, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// RequestRegrade queues a regrade after checking there is something to grade.
func (s *FeedbackService) RequestRegrade(ctx context.Context, userID string, examID uuid.UUID) error {
	if _, err := s.Submission(ctx, userID, examID); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, userID, examID); err != nil {
		return fmt.Errorf("enqueue regrade: %w", err)
	}
	s.log.Info().Str("user_id", userID).Str("exam_id", examID.String()).Msg("Regrade queued")
	return nil
}

// Regrade grades the stored submission again and overwrites its bundle.
func (s *FeedbackService) Regrade(ctx context.Context, userID string, examID uuid.UUID) (*model.FeedbackBundle, error) {
	sub, err := s.Submission(ctx, userID, examID)
	if err != nil {
		return nil, err
	}
	paper, err := s.exams.Paper(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load paper: %w", err)
	}
	return s.regrader.Regrade(ctx, paper, sub)
}

// CheatingLogs lists an exam's cheating logs.
func (s *FeedbackService) CheatingLogs(ctx context.Context, examID uuid.UUID) ([]model.CheatingLog, error) {
	logs, err := s.cheatLogs.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list cheating logs: %w", err)
	}
	return logs, nil
}
