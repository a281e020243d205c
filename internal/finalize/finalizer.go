// Package finalize gates, freezes and grades a submitted exam session.
package finalize

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/cheat"
	"github.com/stemsi/exstem-grader/internal/codecheck"
	"github.com/stemsi/exstem-grader/internal/metrics"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/scoring"
)

// SubmissionStore freezes submissions. Freeze returns the stored row, which is
// the earlier one when the user already submitted this exam.
type SubmissionStore interface {
	Freeze(ctx context.Context, sub *model.Submission) (*model.Submission, error)
}

// CheatingLogStore writes at most one log per submission.
type CheatingLogStore interface {
	Insert(ctx context.Context, entry *model.CheatingLog) (bool, error)
}

// FeedbackStore upserts bundles keyed by (user_id, exam_id).
type FeedbackStore interface {
	Upsert(ctx context.Context, bundle *model.FeedbackBundle) (*model.FeedbackBundle, error)
}

// Grader produces one record per question, in question order.
type Grader interface {
	Grade(ctx context.Context, questions []model.Question, answers map[string]string) []model.QuestionFeedback
}

// Input is everything the session knows at submit time.
type Input struct {
	Paper           *model.ExamPaper
	UserID          string
	StartedAt       time.Time
	Answers         map[string]string
	CopiedQuestions int
	TimeAwayMinutes int
}

// Result is the outcome of a successful finalization.
type Result struct {
	Submission  *model.Submission
	Risk        model.RiskLevel
	CheatingLog *model.CheatingLog
	Bundle      *model.FeedbackBundle
}

// Finalizer turns a completed session into a frozen submission, an optional
// cheating log and a graded feedback bundle.
type Finalizer struct {
	submissions SubmissionStore
	cheatLogs   CheatingLogStore
	feedback    FeedbackStore
	grader      Grader
	now         func() time.Time
	log         zerolog.Logger
}

// NewFinalizer wires the stores and the grader. Submission times come from time.Now.
func NewFinalizer(
	submissions SubmissionStore,
	cheatLogs CheatingLogStore,
	feedback FeedbackStore,
	grader Grader,
	log zerolog.Logger,
) *Finalizer {
	return &Finalizer{
		submissions: submissions,
		cheatLogs:   cheatLogs,
		feedback:    feedback,
		grader:      grader,
		now:         time.Now,
		log:         log.With().Str("component", "finalizer").Logger(),
	}
}

// ValidateAnswers checks every code answer that will be sent for grading.
// Starter-code questions and empty answers are not checked.
func ValidateAnswers(paper *model.ExamPaper, answers map[string]string) error {
	var issues []QuestionIssue
	for i, q := range paper.Questions {
		if q.Kind != model.QuestionKindCode || q.HasStarterCode() {
			continue
		}
		answer := answers[q.ID.String()]
		if strings.TrimSpace(answer) == "" {
			continue
		}
		if found := codecheck.Check(answer); len(found) > 0 {
			issues = append(issues, QuestionIssue{QuestionID: q.ID, Index: i, Issues: found})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Questions: issues}
	}
	return nil
}

// Finalize validates, freezes, logs risk and grades. A ValidationError means
// nothing was persisted and no collaborator was called.
func (f *Finalizer) Finalize(ctx context.Context, in Input) (*Result, error) {
	if err := ValidateAnswers(in.Paper, in.Answers); err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	submittedAt := f.now().UTC()
	spent := int(submittedAt.Sub(in.StartedAt).Seconds())
	if spent < 0 {
		spent = 0
	}

	stored, err := f.submissions.Freeze(ctx, &model.Submission{
		ID:               uuid.New(),
		UserID:           in.UserID,
		ExamID:           in.Paper.Exam.ID,
		StartedAt:        in.StartedAt.UTC(),
		SubmittedAt:      &submittedAt,
		TimeSpentSeconds: spent,
		Answers:          in.Answers,
		Status:           model.SubmissionStatusSubmitted,
	})
	if err != nil {
		f.log.Error().Err(err).Str("user_id", in.UserID).Str("exam_id", in.Paper.Exam.ID.String()).Msg("failed to freeze submission")
		metrics.Submissions.WithLabelValues("persistence_error").Inc()
		return nil, &PersistenceError{Op: "save submission", Err: err}
	}

	res := &Result{Submission: stored}

	copyPct := cheat.CopyPercentage(in.CopiedQuestions, len(in.Paper.Questions))
	res.Risk = cheat.DetermineCheatRisk(copyPct, in.TimeAwayMinutes)
	metrics.CheatingRisk.WithLabelValues(string(res.Risk)).Inc()
	if cheat.Warrants(res.Risk) {
		entry := &model.CheatingLog{
			SubmissionID:    stored.ID,
			UserID:          stored.UserID,
			ExamID:          stored.ExamID,
			CopyPercentage:  copyPct,
			TimeAwaySeconds: in.TimeAwayMinutes * 60,
			RiskLevel:       res.Risk,
			Timestamp:       submittedAt,
		}
		if _, err := f.cheatLogs.Insert(ctx, entry); err != nil {
			f.log.Error().Err(err).Str("submission_id", stored.ID.String()).Msg("failed to write cheating log")
			metrics.Submissions.WithLabelValues("persistence_error").Inc()
			return nil, &PersistenceError{Op: "save cheating log", Err: err}
		}
		res.CheatingLog = entry
	}

	bundle, err := f.Regrade(ctx, in.Paper, stored)
	if err != nil {
		metrics.Submissions.WithLabelValues("persistence_error").Inc()
		return nil, err
	}
	metrics.Submissions.WithLabelValues("graded").Inc()
	res.Bundle = bundle
	return res, nil
}

// Regrade grades a frozen submission's stored answers and upserts the bundle.
// Grading is not cancelled when ctx is.
func (f *Finalizer) Regrade(ctx context.Context, paper *model.ExamPaper, sub *model.Submission) (*model.FeedbackBundle, error) {
	ctx = context.WithoutCancel(ctx)

	records := f.grader.Grade(ctx, paper.Questions, sub.Answers)
	bundle := scoring.BuildBundle(sub, paper, records)
	if bundle.TotalsMismatch != nil {
		f.log.Warn().
			Str("exam_id", paper.Exam.ID.String()).
			Int("declared", bundle.TotalsMismatch.Declared).
			Int("computed", bundle.TotalsMismatch.Computed).
			Msg("exam total_points does not match question points")
	}

	stored, err := f.feedback.Upsert(ctx, bundle)
	if err != nil {
		f.log.Error().Err(err).Str("submission_id", sub.ID.String()).Msg("failed to save feedback bundle")
		return nil, &PersistenceError{Op: "save feedback", Err: err}
	}

	f.log.Info().
		Str("user_id", sub.UserID).
		Str("exam_id", sub.ExamID.String()).
		Int("score", stored.TotalScore).
		Int("max_score", stored.MaxScore).
		Msg("submission graded")
	return stored, nil
}
