package model

import (
	"strings"

	"github.com/google/uuid"
)

type QuestionKind string

const (
	QuestionKindChoice QuestionKind = "choice"
	QuestionKindCode   QuestionKind = "code"
)

// Question represents a single exam question. TopicID is nil for flat exams.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	TopicID       *uuid.UUID   `json:"topic_id,omitempty"`
	Text          string       `json:"text"`
	Points        int          `json:"points"`
	Kind          QuestionKind `json:"kind"`
	CorrectAnswer string       `json:"correct_answer"`
	Choices       []string     `json:"choices,omitempty"`
	Metrics       []string     `json:"metrics,omitempty"`
	StarterCode   string       `json:"starter_code,omitempty"`
	OrderNum      int          `json:"order_num"`
}

// HasStarterCode reports whether the question is pre-seeded with code.
// Such questions are exempt from structural checks and are not sent to the executor.
func (q *Question) HasStarterCode() bool {
	return strings.TrimSpace(q.StarterCode) != ""
}

// QuestionForStudent is a question without the correct answer, sent to candidates.
type QuestionForStudent struct {
	ID          uuid.UUID    `json:"id"`
	TopicID     *uuid.UUID   `json:"topic_id,omitempty"`
	Text        string       `json:"text"`
	Points      int          `json:"points"`
	Kind        QuestionKind `json:"kind"`
	Choices     []string     `json:"choices,omitempty"`
	StarterCode string       `json:"starter_code,omitempty"`
	OrderNum    int          `json:"order_num"`
}
