package evaluator

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an automated grader for programming exam answers written in Java.
Assess the candidate's code against the question and, when given, the expected answer.

Respond ONLY with a JSON object with these fields:
{
  "llmFeedback": "one paragraph verdict. Use the word \"correct\" if the solution fully solves the task, otherwise use the word \"incorrect\"",
  "syntaxAnalysis": "notes on syntax and compilation problems, or \"No syntax issues\"",
  "ruleBasedFeedback": "notes on naming, structure and conventions",
  "criterionFeedback": {"<criterion>": "<note>"},
  "overallFeedback": "short summary addressed to the candidate"
}`

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Question\n%s\n\n", strings.TrimSpace(req.QuestionText))
	if strings.TrimSpace(req.ExpectedAnswer) != "" {
		fmt.Fprintf(&b, "## Expected answer\n%s\n\n", strings.TrimSpace(req.ExpectedAnswer))
	}
	fmt.Fprintf(&b, "## Candidate code\n```java\n%s\n```\n", req.CandidateCode)
	return b.String()
}
