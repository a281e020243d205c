package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func asStudent(c *gin.Context) {
	c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: "student-1", TokenType: service.TokenTypeStudent})
	c.Next()
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// ─── Student portal ────────────────────────────────────────────────

func TestStudentPortal_GetPaperHidesAnswers(t *testing.T) {
	paper := paperFixture()
	h := NewStudentPortalHandler(&fakePapers{paper: paper}, &fakeFeedback{}, zerolog.Nop())
	r := gin.New()
	r.GET("/exams/:exam_id/paper", asStudent, h.GetPaper)

	rec := serve(r, http.MethodGet, "/exams/"+paper.Exam.ID.String()+"/paper")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "correct_answer")
	assert.Contains(t, rec.Body.String(), "Pick B")
}

func TestStudentPortal_GetPaperErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
		code   string
	}{
		{"bad id", "/exams/nope/paper", nil, http.StatusBadRequest, "INVALID_ID"},
		{"missing exam", "/exams/" + uuid.NewString() + "/paper", service.ErrExamNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"closed exam", "/exams/" + uuid.NewString() + "/paper", service.ErrExamClosed, http.StatusForbidden, "EXAM_CLOSED"},
		{"db down", "/exams/" + uuid.NewString() + "/paper", errors.New("conn refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewStudentPortalHandler(&fakePapers{paper: paperFixture(), err: tt.err}, &fakeFeedback{}, zerolog.Nop())
			r := gin.New()
			r.GET("/exams/:exam_id/paper", asStudent, h.GetPaper)

			rec := serve(r, http.MethodGet, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec).Error.Code)
		})
	}
}

func TestStudentPortal_GetFeedback(t *testing.T) {
	examID := uuid.New()
	fb := &fakeFeedback{}
	h := NewStudentPortalHandler(&fakePapers{}, fb, zerolog.Nop())
	r := gin.New()
	r.GET("/exams/:exam_id/feedback", asStudent, h.GetFeedback)

	rec := serve(r, http.MethodGet, "/exams/"+examID.String()+"/feedback")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "FEEDBACK_NOT_FOUND", decode(t, rec).Error.Code)

	fb.bundle = &model.FeedbackBundle{UserID: "student-1", ExamID: examID, TotalScore: 3, MaxScore: 4}
	rec = serve(r, http.MethodGet, "/exams/"+examID.String()+"/feedback")
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Percentage float64 `json:"percentage"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.InDelta(t, 75.0, data.Percentage, 1e-9)
}

// ─── Admin ─────────────────────────────────────────────────────────

type fakeGrading struct {
	bundle     *model.FeedbackBundle
	regradeErr error
	logs       []model.CheatingLog
	queued     []string
}

func (f *fakeGrading) Get(context.Context, string, uuid.UUID) (*model.FeedbackBundle, error) {
	if f.bundle == nil {
		return nil, service.ErrFeedbackNotFound
	}
	return f.bundle, nil
}

func (f *fakeGrading) RequestRegrade(_ context.Context, userID string, examID uuid.UUID) error {
	if f.regradeErr != nil {
		return f.regradeErr
	}
	f.queued = append(f.queued, userID+"/"+examID.String())
	return nil
}

func (f *fakeGrading) CheatingLogs(context.Context, uuid.UUID) ([]model.CheatingLog, error) {
	return f.logs, nil
}

type fakeRefresher struct {
	refreshed []uuid.UUID
	err       error
}

func (f *fakeRefresher) RefreshCache(_ context.Context, examID uuid.UUID) error {
	f.refreshed = append(f.refreshed, examID)
	return f.err
}

func adminRouter(h *AdminHandler) *gin.Engine {
	r := gin.New()
	r.GET("/exams/:exam_id/feedback/:user_id", h.GetFeedback)
	r.POST("/exams/:exam_id/submissions/:user_id/regrade", h.RequestRegrade)
	r.POST("/exams/:exam_id/refresh-cache", h.RefreshCache)
	r.GET("/exams/:exam_id/cheating-logs", h.ListCheatingLogs)
	return r
}

func TestAdmin_RequestRegrade(t *testing.T) {
	validator.Setup()
	examID := uuid.New()
	grading := &fakeGrading{}
	r := adminRouter(NewAdminHandler(grading, &fakeRefresher{}, zerolog.Nop()))

	rec := serve(r, http.MethodPost, "/exams/"+examID.String()+"/submissions/student-9/regrade")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"student-9/" + examID.String()}, grading.queued)

	grading.regradeErr = service.ErrSubmissionNotFound
	rec = serve(r, http.MethodPost, "/exams/"+examID.String()+"/submissions/student-9/regrade")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SUBMISSION_NOT_FOUND", decode(t, rec).Error.Code)

	rec = serve(r, http.MethodPost, "/exams/bogus/submissions/student-9/regrade")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "INVALID_ID", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "exam_id")
}

func TestAdmin_GetFeedbackAndLogs(t *testing.T) {
	examID := uuid.New()
	grading := &fakeGrading{}
	r := adminRouter(NewAdminHandler(grading, &fakeRefresher{}, zerolog.Nop()))

	rec := serve(r, http.MethodGet, "/exams/"+examID.String()+"/feedback/student-9")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	grading.bundle = &model.FeedbackBundle{UserID: "student-9", ExamID: examID, TotalScore: 5, MaxScore: 10}
	rec = serve(r, http.MethodGet, "/exams/"+examID.String()+"/feedback/student-9")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/exams/"+examID.String()+"/cheating-logs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cheating_logs":[]}`, string(decode(t, rec).Data))

	grading.logs = []model.CheatingLog{{ID: 1, UserID: "student-9", ExamID: examID, RiskLevel: model.RiskHigh}}
	rec = serve(r, http.MethodGet, "/exams/"+examID.String()+"/cheating-logs")
	assert.Contains(t, rec.Body.String(), `"High"`)
}

func TestAdmin_RefreshCache(t *testing.T) {
	examID := uuid.New()
	refresher := &fakeRefresher{}
	r := adminRouter(NewAdminHandler(&fakeGrading{}, refresher, zerolog.Nop()))

	rec := serve(r, http.MethodPost, "/exams/"+examID.String()+"/refresh-cache")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{examID}, refresher.refreshed)

	refresher.err = service.ErrExamNotFound
	rec = serve(r, http.MethodPost, "/exams/"+examID.String()+"/refresh-cache")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ─── System ────────────────────────────────────────────────────────

type fixedCounter int

func (f fixedCounter) Len() int { return int(f) }

func TestSystem_Health(t *testing.T) {
	var dbErr error
	h := NewSystemHandler(fixedCounter(3), zerolog.Nop(),
		DependencyCheck{Name: "postgres", Ping: func(context.Context) error { return dbErr }},
		DependencyCheck{Name: "redis", Ping: func(context.Context) error { return nil }},
	)
	r := gin.New()
	r.GET("/health", h.Health)

	rec := serve(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var report healthReport
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 3, report.LiveSessions)
	assert.Equal(t, map[string]string{"postgres": "up", "redis": "up"}, report.Dependencies)

	dbErr = errors.New("down")
	rec = serve(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &report))
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "down", report.Dependencies["postgres"])
}
