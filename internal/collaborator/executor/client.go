// Package executor is the client for the code-execution service.
package executor

import (
	"context"
	"net/http"

	"github.com/stemsi/exstem-grader/internal/collaborator"
	"github.com/stemsi/exstem-grader/internal/model"
)

const serviceName = "executor"

type runRequest struct {
	Script string `json:"script"`
}

// Client runs candidate code on the execution service.
type Client struct {
	http  *http.Client
	url   string
	retry collaborator.RetryConfig
}

// New creates an execution client. httpClient carries the per-call timeout.
func New(url string, httpClient *http.Client, retry collaborator.RetryConfig) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, url: url, retry: retry}
}

// Run executes script. A non-200 statusCode in the result is a compile or
// runtime failure of the candidate's code, not an error of the service.
func (c *Client) Run(ctx context.Context, script string) (*model.ExecutionResult, error) {
	return collaborator.Do(ctx, c.retry, func(ctx context.Context) (*model.ExecutionResult, error) {
		var result model.ExecutionResult
		if err := collaborator.PostJSON(ctx, c.http, serviceName, c.url, runRequest{Script: script}, &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
}
