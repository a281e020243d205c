package grading

import "github.com/stemsi/exstem-grader/internal/model"

const (
	noSubmissionText = "No code was submitted for this question."
	degradedText     = "Automatic evaluation is unavailable for this answer. It was recorded with zero points and can be regraded later."
)

// NoSubmissionEvaluation is the fixed feedback for an empty code answer.
func NoSubmissionEvaluation() model.Evaluation {
	return model.Evaluation{
		LLMFeedback:       noSubmissionText,
		SyntaxAnalysis:    noSubmissionText,
		RuleBasedFeedback: noSubmissionText,
		CriterionFeedback: map[string]string{},
		OverallFeedback:   noSubmissionText,
	}
}

// DegradedEvaluation is the fixed feedback used when a collaborator fails.
func DegradedEvaluation() model.Evaluation {
	return model.Evaluation{
		LLMFeedback:       degradedText,
		SyntaxAnalysis:    degradedText,
		RuleBasedFeedback: degradedText,
		CriterionFeedback: map[string]string{},
		OverallFeedback:   degradedText,
	}
}

func choiceEvaluation(correct bool) model.Evaluation {
	text := "Selected answer is incorrect."
	if correct {
		text = "Selected answer is correct."
	}
	return model.Evaluation{
		CriterionFeedback: map[string]string{},
		OverallFeedback:   text,
	}
}
