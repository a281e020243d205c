// Package evaluator holds the clients for the answer-evaluation service.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stemsi/exstem-grader/internal/collaborator"
	"github.com/stemsi/exstem-grader/internal/model"
)

const serviceName = "evaluator"

// Request is the evaluation payload for one code answer.
type Request struct {
	CandidateCode  string `json:"candidateCode"`
	QuestionText   string `json:"questionText"`
	ExpectedAnswer string `json:"expectedAnswer,omitempty"`
}

// wireEvaluation keeps llmFeedback nullable so a missing verdict can be told
// apart from an empty one.
type wireEvaluation struct {
	LLMFeedback       *string           `json:"llmFeedback"`
	SyntaxAnalysis    string            `json:"syntaxAnalysis"`
	RuleBasedFeedback string            `json:"ruleBasedFeedback"`
	CriterionFeedback map[string]string `json:"criterionFeedback"`
	OverallFeedback   string            `json:"overallFeedback"`
}

var errMissingVerdict = errors.New("llmFeedback missing")

func (w *wireEvaluation) toModel() (*model.Evaluation, error) {
	if w.LLMFeedback == nil {
		return nil, errMissingVerdict
	}
	criteria := w.CriterionFeedback
	if criteria == nil {
		criteria = map[string]string{}
	}
	return &model.Evaluation{
		LLMFeedback:       *w.LLMFeedback,
		SyntaxAnalysis:    w.SyntaxAnalysis,
		RuleBasedFeedback: w.RuleBasedFeedback,
		CriterionFeedback: criteria,
		OverallFeedback:   w.OverallFeedback,
	}, nil
}

// HTTPEvaluator calls the evaluation service over JSON/HTTP.
type HTTPEvaluator struct {
	http  *http.Client
	url   string
	retry collaborator.RetryConfig
}

func NewHTTPEvaluator(url string, httpClient *http.Client, retry collaborator.RetryConfig) *HTTPEvaluator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPEvaluator{http: httpClient, url: url, retry: retry}
}

// Evaluate returns the structured feedback for req.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, req Request) (*model.Evaluation, error) {
	return collaborator.Do(ctx, e.retry, func(ctx context.Context) (*model.Evaluation, error) {
		var raw json.RawMessage
		if err := collaborator.PostJSON(ctx, e.http, serviceName, e.url, req, &raw); err != nil {
			return nil, err
		}
		wire, err := decodeEvaluation(raw)
		if err != nil {
			return nil, &collaborator.ErrMalformedResponse{Service: serviceName, Err: err}
		}
		eval, err := wire.toModel()
		if err != nil {
			return nil, &collaborator.ErrMalformedResponse{Service: serviceName, Err: err}
		}
		return eval, nil
	})
}
