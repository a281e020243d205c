package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FeedbackVersion is the current layout of the serialized feedback blobs.
const FeedbackVersion = 1

// GradeOutcome says how a question's record was produced.
type GradeOutcome string

const (
	OutcomeChoice       GradeOutcome = "choice"
	OutcomeEvaluated    GradeOutcome = "evaluated"
	OutcomeNoSubmission GradeOutcome = "no_submission"
	OutcomeDegraded     GradeOutcome = "degraded"
)

// Evaluation is the structured feedback returned by the evaluation collaborator.
type Evaluation struct {
	LLMFeedback       string            `json:"llmFeedback"`
	SyntaxAnalysis    string            `json:"syntaxAnalysis"`
	RuleBasedFeedback string            `json:"ruleBasedFeedback"`
	CriterionFeedback map[string]string `json:"criterionFeedback"`
	OverallFeedback   string            `json:"overallFeedback"`
}

// ExecutionResult is the code-execution collaborator's run report.
type ExecutionResult struct {
	Output     string `json:"output"`
	StatusCode int    `json:"statusCode"`
	Memory     string `json:"memory"`
	CPUTime    string `json:"cpuTime"`
}

// Clean reports a clean run.
func (r *ExecutionResult) Clean() bool {
	return r.StatusCode == 200
}

// QuestionFeedback is one graded question inside a bundle.
type QuestionFeedback struct {
	QuestionID      uuid.UUID        `json:"questionId"`
	QuestionText    string           `json:"questionText"`
	Kind            QuestionKind     `json:"kind"`
	TopicID         *uuid.UUID       `json:"topicId,omitempty"`
	Metrics         []string         `json:"metrics,omitempty"`
	Awarded         int              `json:"awarded"`
	MaxPoints       int              `json:"maxPoints"`
	CandidateAnswer string           `json:"candidateAnswer"`
	ExpectedAnswer  string           `json:"expectedAnswer"`
	Outcome         GradeOutcome     `json:"outcome"`
	Evaluation      Evaluation       `json:"evaluation"`
	Execution       *ExecutionResult `json:"execution,omitempty"`
}

// ScoreTotal is a score/maxScore pair.
type ScoreTotal struct {
	Score    int `json:"score"`
	MaxScore int `json:"maxScore"`
}

// Percentage is score/maxScore*100, or 0 when maxScore is 0.
func (s ScoreTotal) Percentage() float64 {
	if s.MaxScore == 0 {
		return 0
	}
	return float64(s.Score) / float64(s.MaxScore) * 100
}

// MarshalJSON adds the derived percentage to every serialized entry.
func (s ScoreTotal) MarshalJSON() ([]byte, error) {
	type plain ScoreTotal
	return json.Marshal(struct {
		plain
		Percentage float64 `json:"percentage"`
	}{plain(s), s.Percentage()})
}

// TopicScore is a topic's aggregate.
type TopicScore struct {
	Title    string `json:"title"`
	Score    int    `json:"score"`
	MaxScore int    `json:"maxScore"`
}

func (t TopicScore) Percentage() float64 {
	return ScoreTotal{Score: t.Score, MaxScore: t.MaxScore}.Percentage()
}

func (t TopicScore) MarshalJSON() ([]byte, error) {
	type plain TopicScore
	return json.Marshal(struct {
		plain
		Percentage float64 `json:"percentage"`
	}{plain(t), t.Percentage()})
}

// TotalsMismatch records that the graded max score differs from the exam's declared total.
type TotalsMismatch struct {
	Declared int `json:"declared"`
	Computed int `json:"computed"`
}

func (m *TotalsMismatch) Error() string {
	return fmt.Sprintf("graded max score %d does not match declared total %d", m.Computed, m.Declared)
}

// FeedbackBundle is the persisted result of grading one submission.
// Keyed by (UserID, ExamID); regrading overwrites it.
type FeedbackBundle struct {
	Version          int                   `json:"version"`
	UserID           string                `json:"user_id"`
	ExamID           uuid.UUID             `json:"exam_id"`
	SubmissionID     uuid.UUID             `json:"submission_id"`
	TotalScore       int                   `json:"total_score"`
	MaxScore         int                   `json:"max_score"`
	Questions        []QuestionFeedback    `json:"questions"`
	TopicBreakdown   map[string]TopicScore `json:"topic_breakdown"`
	MetricsBreakdown map[string]ScoreTotal `json:"metrics_breakdown"`
	TotalsMismatch   *TotalsMismatch       `json:"totals_mismatch,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

// Percentage of the overall score.
func (b *FeedbackBundle) Percentage() float64 {
	return ScoreTotal{Score: b.TotalScore, MaxScore: b.MaxScore}.Percentage()
}
