package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-grader/internal/codecheck"
	"github.com/stemsi/exstem-grader/internal/finalize"
	"github.com/stemsi/exstem-grader/internal/model"
)

const validCode = `public class Main { public static void main(String[] args) {} }`

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type fakeFinalizer struct {
	mu    sync.Mutex
	calls []finalize.Input
	err   error
}

func (f *fakeFinalizer) Finalize(_ context.Context, in finalize.Input) (*finalize.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return &finalize.Result{Bundle: &model.FeedbackBundle{UserID: in.UserID, ExamID: in.Paper.Exam.ID}}, nil
}

func testPaper() *model.ExamPaper {
	return &model.ExamPaper{
		Exam: model.Exam{ID: uuid.New(), TimeLimitMinutes: 1, TotalPoints: 30},
		Questions: []model.Question{
			{ID: uuid.New(), Kind: model.QuestionKindChoice, Points: 10, CorrectAnswer: "A"},
			{ID: uuid.New(), Kind: model.QuestionKindCode, Points: 10},
			{ID: uuid.New(), Kind: model.QuestionKindCode, Points: 10, StarterCode: "void f() {}"},
		},
	}
}

func newTestController(t *testing.T, fin Finalizer, opts ...Option) (*Controller, *fakeClock, *model.ExamPaper) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	paper := testPaper()
	opts = append([]Option{WithClock(clock.Now), WithTickInterval(0)}, opts...)
	c := NewController(paper, "student-1", fin, opts...)
	t.Cleanup(c.Abandon)
	return c, clock, paper
}

func TestStartSeedsCountdown(t *testing.T) {
	c, clock, _ := newTestController(t, &fakeFinalizer{})
	assert.Equal(t, StateInstructions, c.State())

	require.NoError(t, c.Start(clock.Now(), nil))

	s := c.Snapshot()
	assert.Equal(t, StateInProgress, s.State)
	assert.Equal(t, 60, s.RemainingSeconds)
	assert.False(t, s.Expired)
	assert.ErrorIs(t, c.Start(clock.Now(), nil), ErrAlreadyStarted)
}

func TestStartResumesRemainingTime(t *testing.T) {
	c, clock, paper := newTestController(t, &fakeFinalizer{})
	startedAt := clock.Now().Add(-45 * time.Second)
	restored := map[string]string{
		paper.Questions[0].ID.String(): "A",
		uuid.NewString():               "ignored",
		"not-a-uuid":                   "ignored",
	}

	require.NoError(t, c.Start(startedAt, restored))

	assert.Equal(t, 15, c.Snapshot().RemainingSeconds)
	assert.Equal(t, map[string]string{paper.Questions[0].ID.String(): "A"}, c.Answers())
}

func TestTickCountsDownAndExpiresWithoutSubmitting(t *testing.T) {
	var ticks []int
	expired := 0
	fin := &fakeFinalizer{}
	c, clock, _ := newTestController(t, fin,
		OnTick(func(r int) { ticks = append(ticks, r) }),
		OnExpire(func() { expired++ }),
	)
	require.NoError(t, c.Start(clock.Now().Add(-57*time.Second), nil))

	assert.True(t, c.tick(nil))
	assert.True(t, c.tick(nil))
	assert.False(t, c.tick(nil))
	assert.False(t, c.tick(nil))

	assert.Equal(t, []int{2, 1, 0}, ticks)
	assert.Equal(t, 1, expired)
	s := c.Snapshot()
	assert.True(t, s.Expired)
	assert.Equal(t, StateInProgress, s.State)
	assert.Empty(t, fin.calls)
}

func TestBackgroundTimerTicks(t *testing.T) {
	done := make(chan int, 100)
	clock := &fakeClock{t: time.Now()}
	paper := testPaper()
	c := NewController(paper, "u", &fakeFinalizer{},
		WithClock(clock.Now),
		WithTickInterval(time.Millisecond),
		OnTick(func(r int) { done <- r }),
	)
	defer c.Abandon()

	require.NoError(t, c.Start(clock.Now(), nil))

	select {
	case r := <-done:
		assert.Equal(t, 59, r)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not tick")
	}
}

func TestAnswerAndProgress(t *testing.T) {
	var saved []string
	c, clock, paper := newTestController(t, &fakeFinalizer{},
		OnAnswer(func(id uuid.UUID, v string) { saved = append(saved, id.String()+"="+v) }),
	)
	assert.ErrorIs(t, c.Answer(paper.Questions[0].ID, "A"), ErrNotInProgress)
	require.NoError(t, c.Start(clock.Now(), nil))

	require.NoError(t, c.Answer(paper.Questions[0].ID, "A"))
	require.NoError(t, c.Answer(paper.Questions[0].ID, "B"))
	assert.ErrorIs(t, c.Answer(uuid.New(), "x"), ErrUnknownQuestion)

	assert.InDelta(t, 1.0/3.0, c.Progress(), 1e-9)
	assert.Equal(t, "B", c.Answers()[paper.Questions[0].ID.String()])
	assert.Len(t, saved, 2)

	require.NoError(t, c.Answer(paper.Questions[0].ID, "   "))
	assert.Equal(t, 0.0, c.Progress())
}

func TestNavigateIsBoundsChecked(t *testing.T) {
	c, clock, _ := newTestController(t, &fakeFinalizer{})
	require.NoError(t, c.Start(clock.Now(), nil))

	require.NoError(t, c.Navigate(2))
	assert.Equal(t, 2, c.Snapshot().Current)
	assert.ErrorIs(t, c.Navigate(3), ErrIndexOutOfRange)
	assert.ErrorIs(t, c.Navigate(-1), ErrIndexOutOfRange)
	assert.Equal(t, 2, c.Snapshot().Current)
}

func TestCopyTelemetryCountsDistinctQuestions(t *testing.T) {
	c, clock, paper := newTestController(t, &fakeFinalizer{})
	require.NoError(t, c.Start(clock.Now(), nil))

	require.NoError(t, c.RecordCopy(paper.Questions[1].ID))
	require.NoError(t, c.RecordCopy(paper.Questions[1].ID))
	require.NoError(t, c.RecordCopy(paper.Questions[2].ID))
	assert.ErrorIs(t, c.RecordCopy(uuid.New()), ErrUnknownQuestion)

	assert.Equal(t, 2, c.Snapshot().CopiedQuestions)
}

func TestVisibilityAccumulatesWholeMinutes(t *testing.T) {
	c, clock, _ := newTestController(t, &fakeFinalizer{})
	require.NoError(t, c.Start(clock.Now(), nil))

	c.VisibilityHidden()
	clock.Advance(2*time.Minute + 59*time.Second)
	c.VisibilityHidden() // keeps the first timestamp
	assert.Equal(t, 2, c.VisibilityVisible())

	c.VisibilityHidden()
	clock.Advance(40 * time.Second)
	assert.Equal(t, 0, c.VisibilityVisible())
	assert.Equal(t, 0, c.VisibilityVisible())

	assert.Equal(t, 2, c.Snapshot().TimeAwayMinutes)
}

func TestSubmitGate(t *testing.T) {
	c, clock, paper := newTestController(t, &fakeFinalizer{})
	require.NoError(t, c.Start(clock.Now(), nil))

	// Starter-code question is exempt; the other two block.
	assert.ElementsMatch(t, []uuid.UUID{paper.Questions[0].ID, paper.Questions[1].ID}, c.MissingAnswers())

	require.NoError(t, c.Answer(paper.Questions[0].ID, "A"))
	require.NoError(t, c.Answer(paper.Questions[1].ID, "System.out.println(1);"))
	assert.Equal(t, []uuid.UUID{paper.Questions[1].ID}, c.MissingAnswers())

	_, err := c.Submit(context.Background())
	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []uuid.UUID{paper.Questions[1].ID}, incomplete.Questions)
	require.Len(t, incomplete.Invalid, 1)
	assert.Equal(t, paper.Questions[1].ID, incomplete.Invalid[0].QuestionID)
	assert.Equal(t, 1, incomplete.Invalid[0].Index)
	assert.ElementsMatch(t, []codecheck.Issue{codecheck.IssueNoPublicClass, codecheck.IssueNoEntryPoint}, incomplete.Invalid[0].Issues)
	assert.Equal(t, StateInProgress, c.State())

	require.NoError(t, c.Answer(paper.Questions[1].ID, validCode))
	assert.True(t, c.CanSubmit())
}

func TestSubmitHandsOffAndMovesToFeedback(t *testing.T) {
	fin := &fakeFinalizer{}
	c, clock, paper := newTestController(t, fin)
	startedAt := clock.Now()
	require.NoError(t, c.Start(startedAt, nil))
	require.NoError(t, c.Answer(paper.Questions[0].ID, "A"))
	require.NoError(t, c.Answer(paper.Questions[1].ID, validCode))
	require.NoError(t, c.RecordCopy(paper.Questions[0].ID))
	c.VisibilityHidden()
	clock.Advance(6 * time.Minute)

	res, err := c.Submit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateFeedback, c.State())
	assert.Same(t, res, c.Result())
	require.Len(t, fin.calls, 1)
	in := fin.calls[0]
	assert.Equal(t, "student-1", in.UserID)
	assert.Equal(t, startedAt, in.StartedAt)
	assert.Equal(t, 1, in.CopiedQuestions)
	assert.Equal(t, 6, in.TimeAwayMinutes)
	assert.Len(t, in.Answers, 2)

	_, err = c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNotInProgress)
	assert.ErrorIs(t, c.Answer(paper.Questions[0].ID, "B"), ErrNotInProgress)
}

func TestSubmitFailureReturnsToInProgress(t *testing.T) {
	fin := &fakeFinalizer{err: &finalize.PersistenceError{Op: "save submission", Err: errors.New("db down")}}
	c, clock, paper := newTestController(t, fin)
	require.NoError(t, c.Start(clock.Now(), nil))
	require.NoError(t, c.Answer(paper.Questions[0].ID, "A"))
	require.NoError(t, c.Answer(paper.Questions[1].ID, validCode))

	_, err := c.Submit(context.Background())

	var pErr *finalize.PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, StateInProgress, c.State())
	assert.True(t, c.tick(nil))

	fin.err = nil
	_, err = c.Submit(context.Background())
	require.NoError(t, err)
	assert.Len(t, fin.calls, 2)
}

func TestReplacedTimerDoesNotTick(t *testing.T) {
	fin := &fakeFinalizer{err: &finalize.PersistenceError{Op: "save submission", Err: errors.New("db down")}}
	c, clock, paper := newTestController(t, fin, WithTickInterval(time.Hour))
	require.NoError(t, c.Start(clock.Now(), nil))
	require.NoError(t, c.Answer(paper.Questions[0].ID, "A"))
	require.NoError(t, c.Answer(paper.Questions[1].ID, validCode))

	c.mu.Lock()
	stale := c.timerStop
	c.mu.Unlock()
	require.NotNil(t, stale)

	// A failed submit stops the timer and starts a new one.
	_, err := c.Submit(context.Background())
	require.Error(t, err)

	c.mu.Lock()
	current := c.timerStop
	c.mu.Unlock()
	require.NotNil(t, current)

	before := c.Snapshot().RemainingSeconds
	assert.False(t, c.tick(stale))
	assert.Equal(t, before, c.Snapshot().RemainingSeconds)

	assert.True(t, c.tick(current))
	assert.Equal(t, before-1, c.Snapshot().RemainingSeconds)
}

func TestAbandonStopsEverything(t *testing.T) {
	fin := &fakeFinalizer{}
	c, clock, paper := newTestController(t, fin)
	require.NoError(t, c.Start(clock.Now(), nil))
	require.NoError(t, c.Answer(paper.Questions[0].ID, "A"))
	require.NoError(t, c.Answer(paper.Questions[1].ID, validCode))

	c.Abandon()

	_, err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAbandoned)
	assert.Empty(t, fin.calls)
}
