package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusOpen   ExamStatus = "open"
	ExamStatusClosed ExamStatus = "closed"
)

// Exam represents an exam entity.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	TotalPoints      int        `json:"total_points"`
	Subject          string     `json:"subject"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	Status           ExamStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AcceptsSessions reports whether a new session may start at now.
func (e *Exam) AcceptsSessions(now time.Time) bool {
	if e.Status != ExamStatusOpen {
		return false
	}
	return e.Deadline == nil || now.Before(*e.Deadline)
}

// Topic groups questions for topic-level scoring.
type Topic struct {
	ID     uuid.UUID `json:"id"`
	ExamID uuid.UUID `json:"exam_id"`
	Title  string    `json:"title"`
}

// ExamPaper is everything needed to run and grade a session for one exam.
// It is the unit cached in Redis.
type ExamPaper struct {
	Exam      Exam       `json:"exam"`
	Topics    []Topic    `json:"topics"`
	Questions []Question `json:"questions"`
}

// Question returns the question with the given id.
func (p *ExamPaper) Question(id uuid.UUID) (*Question, bool) {
	for i := range p.Questions {
		if p.Questions[i].ID == id {
			return &p.Questions[i], true
		}
	}
	return nil, false
}

// TopicTitles maps topic id to title.
func (p *ExamPaper) TopicTitles() map[uuid.UUID]string {
	titles := make(map[uuid.UUID]string, len(p.Topics))
	for _, t := range p.Topics {
		titles[t.ID] = t.Title
	}
	return titles
}

// StudentPaper is the payload sent to candidates (no correct answers).
type StudentPaper struct {
	ExamID           uuid.UUID            `json:"exam_id"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	TimeLimitMinutes int                  `json:"time_limit_minutes"`
	TotalPoints      int                  `json:"total_points"`
	Topics           []Topic              `json:"topics"`
	Questions        []QuestionForStudent `json:"questions"`
}

// ForStudent strips answer keys from the paper.
func (p *ExamPaper) ForStudent() *StudentPaper {
	questions := make([]QuestionForStudent, len(p.Questions))
	for i, q := range p.Questions {
		questions[i] = QuestionForStudent{
			ID:          q.ID,
			TopicID:     q.TopicID,
			Text:        q.Text,
			Points:      q.Points,
			Kind:        q.Kind,
			Choices:     q.Choices,
			StarterCode: q.StarterCode,
			OrderNum:    q.OrderNum,
		}
	}
	topics := p.Topics
	if topics == nil {
		topics = []Topic{}
	}
	return &StudentPaper{
		ExamID:           p.Exam.ID,
		Title:            p.Exam.Title,
		Description:      p.Exam.Description,
		TimeLimitMinutes: p.Exam.TimeLimitMinutes,
		TotalPoints:      p.Exam.TotalPoints,
		Topics:           topics,
		Questions:        questions,
	}
}
