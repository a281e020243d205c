package evaluator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stemsi/exstem-grader/internal/collaborator"
	"github.com/stemsi/exstem-grader/internal/model"
)

const openAIServiceName = "evaluator(openai)"

// OpenAIEvaluator asks an OpenAI-compatible model for the same structured
// feedback the evaluation service returns.
type OpenAIEvaluator struct {
	api   *openai.Client
	model string
	retry collaborator.RetryConfig
}

// NewOpenAIEvaluator creates an evaluator. An empty baseURL uses the OpenAI default.
func NewOpenAIEvaluator(baseURL, apiKey, modelName string, httpClient *http.Client, retry collaborator.RetryConfig) *OpenAIEvaluator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIEvaluator{
		api:   openai.NewClientWithConfig(cfg),
		model: modelName,
		retry: retry,
	}
}

func (e *OpenAIEvaluator) Evaluate(ctx context.Context, req Request) (*model.Evaluation, error) {
	return collaborator.Do(ctx, e.retry, func(ctx context.Context) (*model.Evaluation, error) {
		return e.evaluateOnce(ctx, req)
	})
}

func (e *OpenAIEvaluator) evaluateOnce(ctx context.Context, req Request) (*model.Evaluation, error) {
	resp, err := e.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &collaborator.ErrMalformedResponse{Service: openAIServiceName, Err: errors.New("no choices")}
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	wire, err := decodeEvaluation([]byte(content))
	if err != nil {
		return nil, &collaborator.ErrMalformedResponse{Service: openAIServiceName, Err: fmt.Errorf("parse content: %w", err)}
	}
	eval, err := wire.toModel()
	if err != nil {
		return nil, &collaborator.ErrMalformedResponse{Service: openAIServiceName, Err: err}
	}
	return eval, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &collaborator.ErrBadStatus{
			Service:    openAIServiceName,
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &collaborator.ErrBadStatus{Service: openAIServiceName, StatusCode: reqErr.HTTPStatusCode}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &collaborator.ErrUnavailable{Service: openAIServiceName, Err: err}
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
