package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates submission states.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "in_progress"
	SubmissionStatusSubmitted  SubmissionStatus = "submitted"
)

// Submission is a candidate's attempt. Answers map question id to raw value.
// Immutable once Status is submitted.
type Submission struct {
	ID               uuid.UUID         `json:"id"`
	UserID           string            `json:"user_id"`
	ExamID           uuid.UUID         `json:"exam_id"`
	StartedAt        time.Time         `json:"started_at"`
	SubmittedAt      *time.Time        `json:"submitted_at,omitempty"`
	TimeSpentSeconds int               `json:"time_spent_seconds"`
	Answers          map[string]string `json:"answers"`
	Status           SubmissionStatus  `json:"status"`
}

// Answer returns the raw answer for a question ("" when unanswered).
func (s *Submission) Answer(questionID uuid.UUID) string {
	return s.Answers[questionID.String()]
}
