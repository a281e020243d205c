package finalize

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-grader/internal/codecheck"
)

// QuestionIssue names a code answer that failed the structural checks.
type QuestionIssue struct {
	QuestionID uuid.UUID         `json:"question_id"`
	Index      int               `json:"index"`
	Issues     []codecheck.Issue `json:"issues"`
}

// ValidationError blocks a submission before anything is persisted or graded.
type ValidationError struct {
	Questions []QuestionIssue
}

func (e *ValidationError) Error() string {
	ids := make([]string, len(e.Questions))
	for i, q := range e.Questions {
		ids[i] = q.QuestionID.String()
	}
	return fmt.Sprintf("answer validation failed for %d question(s): %s", len(e.Questions), strings.Join(ids, ", "))
}

// PersistenceError wraps a failed write. The submission can be retried safely.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
