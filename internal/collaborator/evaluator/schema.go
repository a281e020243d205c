package evaluator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const evaluationSchemaURL = "schema://evaluation.json"

// evaluationSchema is the shape both evaluator backends must return.
// Only llmFeedback is mandatory; the rest is display text.
const evaluationSchema = `{
  "type": "object",
  "required": ["llmFeedback"],
  "properties": {
    "llmFeedback":       {"type": "string"},
    "syntaxAnalysis":    {"type": ["string", "null"]},
    "ruleBasedFeedback": {"type": ["string", "null"]},
    "overallFeedback":   {"type": ["string", "null"]},
    "criterionFeedback": {
      "type": ["object", "null"],
      "additionalProperties": {"type": "string"}
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func evaluationValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(evaluationSchema), &doc); err != nil {
			compileErr = fmt.Errorf("parse evaluation schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(evaluationSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(evaluationSchemaURL)
	})
	return compiled, compileErr
}

// decodeEvaluation checks raw against the evaluation schema before decoding it.
func decodeEvaluation(raw []byte) (*wireEvaluation, error) {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	sch, err := evaluationValidator()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(parsed); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var wire wireEvaluation
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	return &wire, nil
}
