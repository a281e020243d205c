package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-grader/internal/finalize"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const validJava = "public class Main { public static void main(String[] args) { System.out.println(2); } }"

// ─── Fakes ─────────────────────────────────────────────────────────

type fakePapers struct {
	paper *model.ExamPaper
	err   error
}

func (f *fakePapers) LoadExam(context.Context, uuid.UUID) (*model.ExamPaper, error) {
	return f.paper, f.err
}

func (f *fakePapers) StudentView(context.Context, uuid.UUID) (*model.StudentPaper, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.paper.ForStudent(), nil
}

type fakeFeedback struct {
	bundle *model.FeedbackBundle
	err    error
}

func (f *fakeFeedback) Get(context.Context, string, uuid.UUID) (*model.FeedbackBundle, error) {
	if f.bundle == nil && f.err == nil {
		return nil, service.ErrFeedbackNotFound
	}
	return f.bundle, f.err
}

type memStore struct {
	mu      sync.Mutex
	started map[string]time.Time
	answers map[string]map[string]string
	cleared int
}

func newMemStore() *memStore {
	return &memStore{started: map[string]time.Time{}, answers: map[string]map[string]string{}}
}

func (m *memStore) key(userID string, examID uuid.UUID) string { return userID + "/" + examID.String() }

func (m *memStore) StartedAt(_ context.Context, userID string, examID uuid.UUID, now time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(userID, examID)
	if t, ok := m.started[k]; ok {
		return t, nil
	}
	m.started[k] = now
	return now, nil
}

func (m *memStore) Answers(_ context.Context, userID string, examID uuid.UUID) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.answers[m.key(userID, examID)] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveAnswer(_ context.Context, userID string, examID uuid.UUID, qid, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(userID, examID)
	if m.answers[k] == nil {
		m.answers[k] = map[string]string{}
	}
	m.answers[k][qid] = value
	return nil
}

func (m *memStore) Clear(_ context.Context, userID string, examID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(userID, examID)
	delete(m.started, k)
	delete(m.answers, k)
	m.cleared++
	return nil
}

type recordingFinalizer struct {
	mu     sync.Mutex
	inputs []finalize.Input
	err    error
}

func (f *recordingFinalizer) Finalize(_ context.Context, in finalize.Input) (*finalize.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &finalize.Result{
		Submission: &model.Submission{ID: uuid.New(), UserID: in.UserID, ExamID: in.Paper.Exam.ID, Answers: in.Answers},
		Risk:       model.RiskLow,
		Bundle:     &model.FeedbackBundle{Version: model.FeedbackVersion, UserID: in.UserID, ExamID: in.Paper.Exam.ID, TotalScore: 15, MaxScore: 20},
	}, nil
}

func (f *recordingFinalizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// ─── Harness ───────────────────────────────────────────────────────

type wsHarness struct {
	server    *httptest.Server
	paper     *model.ExamPaper
	papers    *fakePapers
	feedback  *fakeFeedback
	store     *memStore
	registry  *session.Registry
	finalizer *recordingFinalizer
}

func paperFixture() *model.ExamPaper {
	examID := uuid.New()
	return &model.ExamPaper{
		Exam: model.Exam{ID: examID, Title: "Intro", TimeLimitMinutes: 30, TotalPoints: 20, Status: model.ExamStatusOpen},
		Questions: []model.Question{
			{ID: uuid.New(), ExamID: examID, Text: "Pick B", Points: 10, Kind: model.QuestionKindChoice, CorrectAnswer: "B", Choices: []string{"A", "B"}},
			{ID: uuid.New(), ExamID: examID, Text: "Print 2", Points: 10, Kind: model.QuestionKindCode, CorrectAnswer: "2"},
		},
	}
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{
		paper:     paperFixture(),
		feedback:  &fakeFeedback{},
		store:     newMemStore(),
		registry:  session.NewRegistry(nil),
		finalizer: &recordingFinalizer{},
	}
	h.papers = &fakePapers{paper: h.paper}

	wsh := NewWSHandler(h.papers, h.feedback, h.store, h.registry, h.finalizer, zerolog.Nop(), nil)
	wsh.tick = 0

	r := gin.New()
	r.GET("/ws/:exam_id", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: "student-1", TokenType: service.TokenTypeStudent})
		c.Next()
	}, wsh.ExamSession)

	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
	return h
}

func (h *wsHarness) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/" + h.paper.Exam.ID.String()
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.url(), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func send(t *testing.T, conn *websocket.Conn, v map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func errorCodeOf(ev map[string]any) string {
	body, _ := ev["error"].(map[string]any)
	code, _ := body["code"].(string)
	return code
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestExamSession_FullFlow(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	q1, q2 := h.paper.Questions[0].ID.String(), h.paper.Questions[1].ID.String()

	ev := readEvent(t, conn)
	assert.Equal(t, "state", ev["event"])
	assert.Equal(t, "instructions", ev["session"].(map[string]any)["state"])

	send(t, conn, map[string]any{"action": "start"})
	ev = readEvent(t, conn)
	sess := ev["session"].(map[string]any)
	assert.Equal(t, "in_progress", sess["state"])
	assert.EqualValues(t, 30*60, sess["remaining_seconds"])

	send(t, conn, map[string]any{"action": "answer", "q_id": q1, "ans": "B"})
	ev = readEvent(t, conn)
	assert.Equal(t, "saved", ev["event"])
	assert.InDelta(t, 0.5, ev["progress"], 1e-9)

	send(t, conn, map[string]any{"action": "answer", "q_id": q2, "ans": "int x = 1;"})
	readEvent(t, conn)

	send(t, conn, map[string]any{"action": "submit"})
	ev = readEvent(t, conn)
	assert.Equal(t, "incomplete", ev["event"])
	assert.Equal(t, "SUBMISSION_INCOMPLETE", errorCodeOf(ev))
	assert.Equal(t, []any{q2}, ev["questions"])
	require.Len(t, ev["invalid"], 1)
	invalid := ev["invalid"].([]any)[0].(map[string]any)
	assert.Equal(t, q2, invalid["question_id"])
	assert.ElementsMatch(t, []any{"missing_public_class", "missing_entry_point"}, invalid["issues"])
	assert.Zero(t, h.finalizer.calls())

	send(t, conn, map[string]any{"action": "answer", "q_id": q2, "ans": validJava})
	readEvent(t, conn)

	send(t, conn, map[string]any{"action": "submit"})
	ev = readEvent(t, conn)
	require.Equal(t, "feedback", ev["event"])
	assert.InDelta(t, 75.0, ev["percentage"], 1e-9)

	require.Equal(t, 1, h.finalizer.calls())
	in := h.finalizer.inputs[0]
	assert.Equal(t, "student-1", in.UserID)
	assert.Equal(t, map[string]string{q1: "B", q2: validJava}, in.Answers)

	assert.Eventually(t, func() bool { return h.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	h.store.mu.Lock()
	assert.Equal(t, 1, h.store.cleared)
	h.store.mu.Unlock()
}

func TestExamSession_ReconnectRestoresAnswers(t *testing.T) {
	h := newWSHarness(t)
	q1 := h.paper.Questions[0].ID.String()

	first := h.dial(t)
	readEvent(t, first)
	send(t, first, map[string]any{"action": "start"})
	readEvent(t, first)
	send(t, first, map[string]any{"action": "answer", "q_id": q1, "ans": "A"})
	readEvent(t, first)
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	second := h.dial(t)
	readEvent(t, second)
	send(t, second, map[string]any{"action": "start"})
	ev := readEvent(t, second)
	assert.Equal(t, map[string]any{q1: "A"}, ev["answers"])
	assert.Zero(t, h.finalizer.calls())
}

func TestExamSession_SecondConnectionRejected(t *testing.T) {
	h := newWSHarness(t)
	first := h.dial(t)
	readEvent(t, first)

	second := h.dial(t)
	ev := readEvent(t, second)
	assert.Equal(t, "error", ev["event"])
	assert.Equal(t, "SESSION_ALREADY_ACTIVE", errorCodeOf(ev))
}

func TestExamSession_AlreadySubmittedGetsFeedback(t *testing.T) {
	h := newWSHarness(t)
	h.feedback.bundle = &model.FeedbackBundle{TotalScore: 10, MaxScore: 20}

	conn := h.dial(t)
	ev := readEvent(t, conn)
	assert.Equal(t, "feedback", ev["event"])
	assert.InDelta(t, 50.0, ev["percentage"], 1e-9)
	assert.Zero(t, h.registry.Len())
}

func TestExamSession_ClosedExamRefusesUpgrade(t *testing.T) {
	h := newWSHarness(t)
	h.papers.err = service.ErrExamClosed

	_, resp, err := websocket.DefaultDialer.Dial(h.url(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "EXAM_CLOSED", body.Error.Code)
}

func TestExamSession_ActionErrors(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	readEvent(t, conn)

	tests := []struct {
		name string
		msg  map[string]any
		code string
	}{
		{"unknown action", map[string]any{"action": "teleport"}, "INVALID_PAYLOAD"},
		{"answer before start", map[string]any{"action": "answer", "q_id": uuid.NewString(), "ans": "x"}, "SESSION_NOT_STARTED"},
		{"malformed question id", map[string]any{"action": "copy", "q_id": "not-a-uuid"}, "INVALID_PAYLOAD"},
		{"navigate without index", map[string]any{"action": "navigate"}, "INVALID_PAYLOAD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.msg)
			ev := readEvent(t, conn)
			assert.Equal(t, "error", ev["event"])
			assert.Equal(t, tt.code, errorCodeOf(ev))
		})
	}

	send(t, conn, map[string]any{"action": "start"})
	readEvent(t, conn)

	send(t, conn, map[string]any{"action": "answer", "q_id": uuid.NewString(), "ans": "x"})
	assert.Equal(t, "UNKNOWN_QUESTION", errorCodeOf(readEvent(t, conn)))

	send(t, conn, map[string]any{"action": "navigate", "index": 5})
	assert.Equal(t, "INVALID_PAYLOAD", errorCodeOf(readEvent(t, conn)))

	send(t, conn, map[string]any{"action": "ping"})
	assert.Equal(t, "pong", readEvent(t, conn)["event"])
}

func TestExamSession_TelemetryShowsInState(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	readEvent(t, conn)
	send(t, conn, map[string]any{"action": "start"})
	readEvent(t, conn)

	q1 := h.paper.Questions[0].ID.String()
	send(t, conn, map[string]any{"action": "copy", "q_id": q1})
	readEvent(t, conn)
	send(t, conn, map[string]any{"action": "copy", "q_id": q1})
	ev := readEvent(t, conn)
	assert.EqualValues(t, 1, ev["session"].(map[string]any)["copied_questions"])

	send(t, conn, map[string]any{"action": "navigate", "index": 1})
	ev = readEvent(t, conn)
	assert.EqualValues(t, 1, ev["session"].(map[string]any)["current"])
}

func TestExamSession_PersistenceFailureKeepsSessionOpen(t *testing.T) {
	h := newWSHarness(t)
	h.finalizer.err = &finalize.PersistenceError{Op: "save submission", Err: assert.AnError}
	conn := h.dial(t)
	readEvent(t, conn)
	send(t, conn, map[string]any{"action": "start"})
	readEvent(t, conn)
	send(t, conn, map[string]any{"action": "answer", "q_id": h.paper.Questions[0].ID.String(), "ans": "B"})
	readEvent(t, conn)
	send(t, conn, map[string]any{"action": "answer", "q_id": h.paper.Questions[1].ID.String(), "ans": validJava})
	readEvent(t, conn)

	send(t, conn, map[string]any{"action": "submit"})
	ev := readEvent(t, conn)
	assert.Equal(t, "PERSISTENCE_FAILED", errorCodeOf(ev))

	send(t, conn, map[string]any{"action": "state"})
	ev = readEvent(t, conn)
	assert.Equal(t, "in_progress", ev["session"].(map[string]any)["state"])
	assert.Equal(t, 1, h.registry.Len())
}
