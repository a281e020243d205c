package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// GradingAdmin is satisfied by *service.FeedbackService.
type GradingAdmin interface {
	Get(ctx context.Context, userID string, examID uuid.UUID) (*model.FeedbackBundle, error)
	RequestRegrade(ctx context.Context, userID string, examID uuid.UUID) error
	CheatingLogs(ctx context.Context, examID uuid.UUID) ([]model.CheatingLog, error)
}

// CacheRefresher is satisfied by *service.ExamService.
type CacheRefresher interface {
	RefreshCache(ctx context.Context, examID uuid.UUID) error
}

// AdminHandler serves grading endpoints for staff holding exams:grade.
type AdminHandler struct {
	grading GradingAdmin
	exams   CacheRefresher
	log     zerolog.Logger
}

func NewAdminHandler(grading GradingAdmin, exams CacheRefresher, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		grading: grading,
		exams:   exams,
		log:     log.With().Str("component", "admin_handler").Logger(),
	}
}

type examURI struct {
	ExamID string `uri:"exam_id" binding:"required,uuid"`
}

type examUserURI struct {
	ExamID string `uri:"exam_id" binding:"required,uuid"`
	UserID string `uri:"user_id" binding:"required,max=128"`
}

// GetFeedback godoc
// GET /api/v1/admin/exams/:exam_id/feedback/:user_id
func (h *AdminHandler) GetFeedback(c *gin.Context) {
	var uri examUserURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	examID := uuid.MustParse(uri.ExamID)

	bundle, err := h.grading.Get(c.Request.Context(), uri.UserID, examID)
	if err != nil {
		if errors.Is(err, service.ErrFeedbackNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrFeedbackNotFound)
			return
		}
		h.log.Error().Err(err).Str("exam_id", uri.ExamID).Str("user_id", uri.UserID).Msg("get feedback failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"feedback":   bundle,
		"percentage": bundle.Percentage(),
	})
}

// RequestRegrade godoc
// POST /api/v1/admin/exams/:exam_id/submissions/:user_id/regrade
// Queues a regrade of the frozen submission. The bundle is overwritten when
// the worker finishes.
func (h *AdminHandler) RequestRegrade(c *gin.Context) {
	var uri examUserURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	examID := uuid.MustParse(uri.ExamID)

	if err := h.grading.RequestRegrade(c.Request.Context(), uri.UserID, examID); err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrSubmissionNotFound)
			return
		}
		h.log.Error().Err(err).Str("exam_id", uri.ExamID).Str("user_id", uri.UserID).Msg("queue regrade failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// RefreshCache godoc
// POST /api/v1/admin/exams/:exam_id/refresh-cache
func (h *AdminHandler) RefreshCache(c *gin.Context) {
	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	if err := h.exams.RefreshCache(c.Request.Context(), uuid.MustParse(uri.ExamID)); err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("exam_id", uri.ExamID).Msg("refresh cache failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "refreshed"})
}

// ListCheatingLogs godoc
// GET /api/v1/admin/exams/:exam_id/cheating-logs
func (h *AdminHandler) ListCheatingLogs(c *gin.Context) {
	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	logs, err := h.grading.CheatingLogs(c.Request.Context(), uuid.MustParse(uri.ExamID))
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", uri.ExamID).Msg("list cheating logs failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if logs == nil {
		logs = []model.CheatingLog{}
	}
	response.Success(c, http.StatusOK, gin.H{"cheating_logs": logs})
}
