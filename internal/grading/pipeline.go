// Package grading turns a frozen submission's answers into per-question feedback records.
package grading

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-grader/internal/collaborator/evaluator"
	"github.com/stemsi/exstem-grader/internal/metrics"
	"github.com/stemsi/exstem-grader/internal/model"
)

// Executor runs candidate code. Its result is shown to the candidate only.
type Executor interface {
	Run(ctx context.Context, script string) (*model.ExecutionResult, error)
}

// Evaluator returns structured feedback for a code answer.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluator.Request) (*model.Evaluation, error)
}

// Pipeline grades questions independently. One question's failure never aborts the batch.
type Pipeline struct {
	exec        Executor
	eval        Evaluator
	concurrency int
	log         zerolog.Logger
}

// NewPipeline creates a pipeline. concurrency < 1 grades sequentially.
func NewPipeline(exec Executor, eval Evaluator, concurrency int, log zerolog.Logger) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		exec:        exec,
		eval:        eval,
		concurrency: concurrency,
		log:         log.With().Str("component", "grading_pipeline").Logger(),
	}
}

// Grade returns one record per question, in the order of questions.
func (p *Pipeline) Grade(ctx context.Context, questions []model.Question, answers map[string]string) []model.QuestionFeedback {
	records := make([]model.QuestionFeedback, len(questions))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range questions {
		q := questions[i]
		answer := answers[q.ID.String()]
		g.Go(func() error {
			records[i] = p.gradeQuestion(ctx, &q, answer)
			return nil
		})
	}
	_ = g.Wait()

	return records
}

func (p *Pipeline) gradeQuestion(ctx context.Context, q *model.Question, answer string) model.QuestionFeedback {
	rec := model.QuestionFeedback{
		QuestionID:      q.ID,
		QuestionText:    q.Text,
		Kind:            q.Kind,
		TopicID:         q.TopicID,
		Metrics:         q.Metrics,
		MaxPoints:       q.Points,
		CandidateAnswer: answer,
		ExpectedAnswer:  q.CorrectAnswer,
	}

	if q.Kind == model.QuestionKindCode {
		p.gradeCode(ctx, q, answer, &rec)
	} else {
		gradeChoice(q, answer, &rec)
	}
	metrics.QuestionsGraded.WithLabelValues(string(q.Kind), string(rec.Outcome)).Inc()
	return rec
}

func gradeChoice(q *model.Question, answer string, rec *model.QuestionFeedback) {
	rec.Outcome = model.OutcomeChoice
	if strings.TrimSpace(answer) == strings.TrimSpace(q.CorrectAnswer) && strings.TrimSpace(answer) != "" {
		rec.Awarded = q.Points
		rec.Evaluation = choiceEvaluation(true)
		return
	}
	rec.Evaluation = choiceEvaluation(false)
}

func (p *Pipeline) gradeCode(ctx context.Context, q *model.Question, answer string, rec *model.QuestionFeedback) {
	if strings.TrimSpace(answer) == "" {
		rec.Outcome = model.OutcomeNoSubmission
		rec.Evaluation = NoSubmissionEvaluation()
		return
	}

	log := p.log.With().Str("question_id", q.ID.String()).Logger()

	// Starter-code questions are not runnable as a standalone program.
	if !q.HasStarterCode() {
		start := time.Now()
		run, err := p.exec.Run(ctx, answer)
		metrics.CollaboratorDuration.WithLabelValues("executor", metrics.Status(err)).Observe(time.Since(start).Seconds())
		if err != nil {
			log.Warn().Err(err).Msg("execution collaborator failed, using degraded feedback")
			rec.Outcome = model.OutcomeDegraded
			rec.Evaluation = DegradedEvaluation()
			return
		}
		rec.Execution = run
	}

	start := time.Now()
	eval, err := p.eval.Evaluate(ctx, evaluator.Request{
		CandidateCode:  answer,
		QuestionText:   q.Text,
		ExpectedAnswer: q.CorrectAnswer,
	})
	metrics.CollaboratorDuration.WithLabelValues("evaluator", metrics.Status(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn().Err(err).Msg("evaluation collaborator failed, using degraded feedback")
		rec.Outcome = model.OutcomeDegraded
		rec.Evaluation = DegradedEvaluation()
		rec.Execution = nil
		return
	}

	rec.Outcome = model.OutcomeEvaluated
	rec.Evaluation = *eval
	rec.Awarded = AwardCodePoints(q.Points, eval.LLMFeedback, answer)
}

// IsCorrectVerdict is the literal verdict rule: the text contains "correct"
// and does not contain "incorrect", ignoring case.
// TODO: switch to an explicit verdict field once the evaluation service returns one.
func IsCorrectVerdict(verdict string) bool {
	v := strings.ToLower(verdict)
	return strings.Contains(v, "correct") && !strings.Contains(v, "incorrect")
}

// AwardCodePoints gives full points for a correct verdict, half (rounded up)
// for any other non-empty attempt, and zero otherwise.
func AwardCodePoints(points int, verdict, code string) int {
	if IsCorrectVerdict(verdict) {
		return points
	}
	if strings.TrimSpace(code) == "" {
		return 0
	}
	return int(math.Ceil(float64(points) * 0.5))
}
