// Package scoring reduces graded question records into a feedback bundle.
package scoring

import (
	"github.com/google/uuid"

	"github.com/stemsi/exstem-grader/internal/model"
)

// Result holds the order-independent reductions over a set of records.
type Result struct {
	Total   model.ScoreTotal
	Topics  map[string]model.TopicScore
	Metrics map[string]model.ScoreTotal
}

// Aggregate sums awarded and max points overall, per topic and per metric.
// Every reduction is a sum, so the result does not depend on record order.
// Records without a topic are left out of the topic breakdown.
func Aggregate(records []model.QuestionFeedback, topicTitles map[uuid.UUID]string) Result {
	res := Result{
		Topics:  make(map[string]model.TopicScore),
		Metrics: make(map[string]model.ScoreTotal),
	}

	for _, rec := range records {
		res.Total.Score += rec.Awarded
		res.Total.MaxScore += rec.MaxPoints

		if rec.TopicID != nil {
			key := rec.TopicID.String()
			ts := res.Topics[key]
			ts.Title = topicTitles[*rec.TopicID]
			ts.Score += rec.Awarded
			ts.MaxScore += rec.MaxPoints
			res.Topics[key] = ts
		}

		for _, metric := range distinct(rec.Metrics) {
			ms := res.Metrics[metric]
			ms.Score += rec.Awarded
			ms.MaxScore += rec.MaxPoints
			res.Metrics[metric] = ms
		}
	}
	return res
}

// distinct drops repeated tags so a question counts once per metric.
func distinct(tags []string) []string {
	if len(tags) < 2 {
		return tags
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// CheckTotals reports a mismatch between the graded max score and the exam's declared total.
func CheckTotals(maxScore int, exam *model.Exam) *model.TotalsMismatch {
	if maxScore == exam.TotalPoints {
		return nil
	}
	return &model.TotalsMismatch{Declared: exam.TotalPoints, Computed: maxScore}
}

// BuildBundle assembles the feedback bundle for a graded submission.
// CreatedAt is left for the store to assign.
func BuildBundle(sub *model.Submission, paper *model.ExamPaper, records []model.QuestionFeedback) *model.FeedbackBundle {
	res := Aggregate(records, paper.TopicTitles())
	return &model.FeedbackBundle{
		Version:          model.FeedbackVersion,
		UserID:           sub.UserID,
		ExamID:           sub.ExamID,
		SubmissionID:     sub.ID,
		TotalScore:       res.Total.Score,
		MaxScore:         res.Total.MaxScore,
		Questions:        records,
		TopicBreakdown:   res.Topics,
		MetricsBreakdown: res.Metrics,
		TotalsMismatch:   CheckTotals(res.Total.MaxScore, &paper.Exam),
	}
}
