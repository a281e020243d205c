package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// StudentPaperReader is satisfied by *service.ExamService.
type StudentPaperReader interface {
	StudentView(ctx context.Context, examID uuid.UUID) (*model.StudentPaper, error)
}

// StudentPortalHandler handles student-facing REST endpoints.
type StudentPortalHandler struct {
	exams    StudentPaperReader
	feedback FeedbackLookup
	log      zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(exams StudentPaperReader, feedback FeedbackLookup, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		exams:    exams,
		feedback: feedback,
		log:      log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// GetPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the exam and its questions without answer keys.
func (h *StudentPortalHandler) GetPaper(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.exams.StudentView(c.Request.Context(), examID)
	if err != nil {
		failExamLookup(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// GetFeedback godoc
// GET /api/v1/student/exams/:exam_id/feedback
// Returns the caller's stored feedback bundle.
func (h *StudentPortalHandler) GetFeedback(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	bundle, err := h.feedback.Get(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		if errors.Is(err, service.ErrFeedbackNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrFeedbackNotFound)
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("get feedback failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"feedback":   bundle,
		"percentage": bundle.Percentage(),
	})
}
