// Package session drives a single candidate's live exam session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-grader/internal/codecheck"
	"github.com/stemsi/exstem-grader/internal/finalize"
	"github.com/stemsi/exstem-grader/internal/model"
)

// State is a step of the session lifecycle.
type State string

const (
	StateInstructions State = "instructions"
	StateInProgress   State = "in_progress"
	StateSubmitting   State = "submitting"
	StateFeedback     State = "feedback"
)

var (
	ErrAlreadyStarted  = errors.New("session already started")
	ErrNotInProgress   = errors.New("session is not in progress")
	ErrUnknownQuestion = errors.New("question does not belong to this exam")
	ErrIndexOutOfRange = errors.New("question index out of range")
	ErrAbandoned       = errors.New("session was abandoned")
)

// IncompleteError lists the questions that still block submission. Invalid
// carries the failed structural checks of the code answers among them.
type IncompleteError struct {
	Questions []uuid.UUID
	Invalid   []finalize.QuestionIssue
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%d question(s) are unanswered or invalid", len(e.Questions))
}

// Finalizer is the hand-off point at submit time.
type Finalizer interface {
	Finalize(ctx context.Context, in finalize.Input) (*finalize.Result, error)
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State            State   `json:"state"`
	RemainingSeconds int     `json:"remaining_seconds"`
	Expired          bool    `json:"expired"`
	Current          int     `json:"current"`
	Answered         int     `json:"answered"`
	Total            int     `json:"total"`
	Progress         float64 `json:"progress"`
	CanSubmit        bool    `json:"can_submit"`
	CopiedQuestions  int     `json:"copied_questions"`
	TimeAwayMinutes  int     `json:"time_away_minutes"`
}

// Controller owns the timer, answer map and telemetry of one session.
// All methods are safe for concurrent use. Callbacks run outside the lock.
type Controller struct {
	mu sync.Mutex

	paper     *model.ExamPaper
	userID    string
	finalizer Finalizer

	state     State
	abandoned bool
	startedAt time.Time
	remaining int
	expired   bool
	timerStop chan struct{}

	current     int
	answers     map[string]string
	copied      map[uuid.UUID]struct{}
	hiddenAt    *time.Time
	awayMinutes int

	result *finalize.Result

	now          func() time.Time
	tickInterval time.Duration
	onTick       func(remaining int)
	onExpire     func()
	onAnswer     func(questionID uuid.UUID, value string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTickInterval sets the countdown period. Zero disables the background timer.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) { c.tickInterval = d }
}

// OnTick is called with the remaining seconds after every countdown step.
func OnTick(fn func(remaining int)) Option {
	return func(c *Controller) { c.onTick = fn }
}

// OnExpire is called once when the countdown reaches zero. It does not submit.
func OnExpire(fn func()) Option {
	return func(c *Controller) { c.onExpire = fn }
}

// OnAnswer is called after each accepted answer.
func OnAnswer(fn func(questionID uuid.UUID, value string)) Option {
	return func(c *Controller) { c.onAnswer = fn }
}

// NewController creates a session in the Instructions state for userID.
// The countdown starts only when Start is called.
func NewController(paper *model.ExamPaper, userID string, finalizer Finalizer, opts ...Option) *Controller {
	c := &Controller{
		paper:        paper,
		userID:       userID,
		finalizer:    finalizer,
		state:        StateInstructions,
		answers:      make(map[string]string),
		copied:       make(map[uuid.UUID]struct{}),
		now:          time.Now,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ─── Lifecycle ─────────────────────────────────────────────────────

// Start moves Instructions → InProgress. startedAt seeds the countdown so a
// reconnecting client resumes with the time it has left; restored answers
// come from the autosave mirror.
func (c *Controller) Start(startedAt time.Time, restored map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.abandoned {
		return ErrAbandoned
	}
	if c.state != StateInstructions {
		return ErrAlreadyStarted
	}

	c.startedAt = startedAt
	limit := c.paper.Exam.TimeLimitMinutes * 60
	elapsed := int(c.now().Sub(startedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	c.remaining = max(limit-elapsed, 0)
	c.expired = c.remaining == 0

	for qid, value := range restored {
		if id, err := uuid.Parse(qid); err == nil {
			if _, ok := c.paper.Question(id); ok {
				c.answers[qid] = value
			}
		}
	}

	c.state = StateInProgress
	c.startTimerLocked()
	return nil
}

// Abandon tears the session down without persisting anything.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned = true
	c.stopTimerLocked()
}

// Submit validates completeness, hands off to the finalizer and moves to
// Feedback on success. On failure the session goes back to InProgress.
func (c *Controller) Submit(ctx context.Context) (*finalize.Result, error) {
	c.mu.Lock()
	if c.abandoned {
		c.mu.Unlock()
		return nil, ErrAbandoned
	}
	if c.state != StateInProgress {
		c.mu.Unlock()
		return nil, ErrNotInProgress
	}
	if missing := c.missingLocked(); len(missing) > 0 {
		c.mu.Unlock()
		return nil, &IncompleteError{Questions: missing, Invalid: c.codeIssuesLocked()}
	}

	c.foldAwayTimeLocked()
	c.state = StateSubmitting
	c.stopTimerLocked()

	answers := make(map[string]string, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}
	in := finalize.Input{
		Paper:           c.paper,
		UserID:          c.userID,
		StartedAt:       c.startedAt,
		Answers:         answers,
		CopiedQuestions: len(c.copied),
		TimeAwayMinutes: c.awayMinutes,
	}
	c.mu.Unlock()

	res, err := c.finalizer.Finalize(ctx, in)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateInProgress
		if !c.abandoned {
			c.startTimerLocked()
		}
		return nil, err
	}
	c.state = StateFeedback
	c.result = res
	return res, nil
}

// ─── Answers & navigation ──────────────────────────────────────────

// Answer upserts a raw answer. Beyond the question existing, nothing is validated.
func (c *Controller) Answer(questionID uuid.UUID, value string) error {
	c.mu.Lock()
	if c.state != StateInProgress {
		c.mu.Unlock()
		return ErrNotInProgress
	}
	if _, ok := c.paper.Question(questionID); !ok {
		c.mu.Unlock()
		return ErrUnknownQuestion
	}
	c.answers[questionID.String()] = value
	onAnswer := c.onAnswer
	c.mu.Unlock()

	if onAnswer != nil {
		onAnswer(questionID, value)
	}
	return nil
}

// Navigate moves the current-question pointer.
func (c *Controller) Navigate(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInProgress {
		return ErrNotInProgress
	}
	if index < 0 || index >= len(c.paper.Questions) {
		return ErrIndexOutOfRange
	}
	c.current = index
	return nil
}

// Progress is answered / total questions, 0 for an empty exam.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	answered, total := c.answeredLocked(), len(c.paper.Questions)
	if total == 0 {
		return 0
	}
	return float64(answered) / float64(total)
}

// MissingAnswers lists questions that still block submission.
func (c *Controller) MissingAnswers() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missingLocked()
}

// CanSubmit reports whether every question is answered and every code answer
// passes the structural checks.
func (c *Controller) CanSubmit() bool {
	return len(c.MissingAnswers()) == 0
}

// ─── Telemetry ─────────────────────────────────────────────────────

// RecordCopy flags a copy of a question's text. Repeats count once.
func (c *Controller) RecordCopy(questionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInProgress {
		return ErrNotInProgress
	}
	if _, ok := c.paper.Question(questionID); !ok {
		return ErrUnknownQuestion
	}
	c.copied[questionID] = struct{}{}
	return nil
}

// VisibilityHidden marks the page as hidden. Repeated calls keep the first timestamp.
func (c *Controller) VisibilityHidden() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInProgress || c.hiddenAt != nil {
		return
	}
	t := c.now()
	c.hiddenAt = &t
}

// VisibilityVisible adds the whole minutes spent hidden to the away total
// and returns them.
func (c *Controller) VisibilityVisible() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foldAwayTimeLocked()
}

// ─── Read side ─────────────────────────────────────────────────────

// Snapshot returns the current state, countdown, progress and telemetry.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(c.paper.Questions)
	answered := c.answeredLocked()
	var progress float64
	if total > 0 {
		progress = float64(answered) / float64(total)
	}
	return Snapshot{
		State:            c.state,
		RemainingSeconds: c.remaining,
		Expired:          c.expired,
		Current:          c.current,
		Answered:         answered,
		Total:            total,
		Progress:         progress,
		CanSubmit:        c.state == StateInProgress && len(c.missingLocked()) == 0,
		CopiedQuestions:  len(c.copied),
		TimeAwayMinutes:  c.awayMinutes,
	}
}

// State returns the current lifecycle step.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Answers returns a copy of the answer map.
func (c *Controller) Answers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.answers))
	for k, v := range c.answers {
		out[k] = v
	}
	return out
}

// Result is the finalization outcome once the session reached Feedback.
func (c *Controller) Result() *finalize.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// ─── Internals (callers hold c.mu) ─────────────────────────────────

func (c *Controller) answeredLocked() int {
	n := 0
	for _, q := range c.paper.Questions {
		if strings.TrimSpace(c.answers[q.ID.String()]) != "" {
			n++
		}
	}
	return n
}

func (c *Controller) missingLocked() []uuid.UUID {
	var missing []uuid.UUID
	for _, q := range c.paper.Questions {
		if !answerComplete(&q, c.answers[q.ID.String()]) {
			missing = append(missing, q.ID)
		}
	}
	return missing
}

// codeIssuesLocked reports the structural problems of code answers that block submission.
func (c *Controller) codeIssuesLocked() []finalize.QuestionIssue {
	var issues []finalize.QuestionIssue
	for i, q := range c.paper.Questions {
		if q.Kind != model.QuestionKindCode || q.HasStarterCode() {
			continue
		}
		if found := codecheck.Check(c.answers[q.ID.String()]); len(found) > 0 {
			issues = append(issues, finalize.QuestionIssue{QuestionID: q.ID, Index: i, Issues: found})
		}
	}
	return issues
}

// answerComplete: choice needs non-empty text; code is exempt when it has
// starter code and must otherwise pass the structural checks.
func answerComplete(q *model.Question, answer string) bool {
	if q.Kind == model.QuestionKindCode {
		if q.HasStarterCode() {
			return true
		}
		return codecheck.Valid(answer)
	}
	return strings.TrimSpace(answer) != ""
}

func (c *Controller) foldAwayTimeLocked() int {
	if c.hiddenAt == nil {
		return 0
	}
	minutes := int(c.now().Sub(*c.hiddenAt).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	c.awayMinutes += minutes
	c.hiddenAt = nil
	return minutes
}
