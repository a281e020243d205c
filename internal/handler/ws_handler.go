package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/finalize"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/session"
	"github.com/stemsi/exstem-grader/internal/validator"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

// PaperLoader is satisfied by *service.ExamService.
type PaperLoader interface {
	LoadExam(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
}

// FeedbackLookup is satisfied by *service.FeedbackService.
type FeedbackLookup interface {
	Get(ctx context.Context, userID string, examID uuid.UUID) (*model.FeedbackBundle, error)
}

// SessionStore is satisfied by *session.RedisStore.
type SessionStore interface {
	StartedAt(ctx context.Context, userID string, examID uuid.UUID, now time.Time) (time.Time, error)
	Answers(ctx context.Context, userID string, examID uuid.UUID) (map[string]string, error)
	SaveAnswer(ctx context.Context, userID string, examID uuid.UUID, questionID, value string) error
	Clear(ctx context.Context, userID string, examID uuid.UUID) error
}

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler hosts live exam sessions, one session.Controller per connection.
type WSHandler struct {
	exams     PaperLoader
	feedback  FeedbackLookup
	store     SessionStore
	registry  *session.Registry
	finalizer session.Finalizer
	tick      time.Duration
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	exams PaperLoader,
	feedback FeedbackLookup,
	store SessionStore,
	registry *session.Registry,
	finalizer session.Finalizer,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		exams:     exams,
		feedback:  feedback,
		store:     store,
		registry:  registry,
		finalizer: finalizer,
		tick:      time.Second,
		log:       log.With().Str("component", "ws_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
	}
}

// examSession is the per-connection state of ExamSession.
type examSession struct {
	h      *WSHandler
	conn   *ws.Conn
	ctrl   *session.Controller
	userID string
	examID uuid.UUID
	log    zerolog.Logger
}

// ExamSession godoc
// WS /ws/v1/student/exams/:exam_id/session?token=
// Runs the exam session. A candidate who already submitted receives the
// stored feedback and the socket closes. Closing the socket before submitting
// abandons the session.
func (h *WSHandler) ExamSession(c *gin.Context) {
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
	ctx := c.Request.Context()

	bundle, err := h.feedback.Get(ctx, claims.UserID, examID)
	if err != nil && !errors.Is(err, service.ErrFeedbackNotFound) {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("feedback lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	var paper *model.ExamPaper
	if bundle == nil {
		paper, err = h.exams.LoadExam(ctx, examID)
		if err != nil {
			failExamLookup(c, h.log, err)
			return
		}
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	if bundle != nil {
		_ = conn.WriteTyped(feedbackResponse(bundle))
		return
	}

	s := &examSession{
		h:      h,
		conn:   conn,
		userID: claims.UserID,
		examID: examID,
		log: h.log.With().
			Str("user_id", claims.UserID).
			Str("exam_id", examID.String()).
			Logger(),
	}
	s.ctrl = session.NewController(paper, claims.UserID, h.finalizer,
		session.WithTickInterval(h.tick),
		session.OnTick(func(remaining int) {
			_ = conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: remaining})
		}),
		session.OnExpire(func() {
			_ = conn.WriteTyped(ws.ExpiredResponse{Event: ws.EventExpired})
		}),
		session.OnAnswer(s.mirrorAnswer),
	)

	if err := h.registry.Register(ctx, claims.UserID, examID, s.ctrl); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			_ = conn.WriteError(response.ErrSessionActive)
			return
		}
		s.log.Error().Err(err).Msg("register session failed")
		_ = conn.WriteError(response.ErrInternal)
		return
	}
	defer func() {
		if s.ctrl.State() != session.StateFeedback {
			s.ctrl.Abandon()
			s.log.Info().Msg("session abandoned")
		}
		if err := h.registry.Release(context.Background(), s.userID, s.examID, s.ctrl); err != nil {
			s.log.Warn().Err(err).Msg("release session lock failed")
		}
	}()

	s.log.Info().Msg("Student connected")
	s.sendState(false)
	s.readLoop()
}

func (s *examSession) readLoop() {
	for {
		var msg ws.RequestPayload
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}
		if fields := validator.Struct(&msg); fields != nil {
			s.writeError(response.ErrInvalidPayload)
			continue
		}

		if done := s.dispatch(&msg); done {
			return
		}
	}
}

// dispatch handles one message and reports whether the session is over.
func (s *examSession) dispatch(msg *ws.RequestPayload) bool {
	switch msg.Action {
	case ws.ActionStart:
		s.handleStart()
	case ws.ActionAnswer:
		s.handleAnswer(msg)
	case ws.ActionNavigate:
		if msg.Index == nil {
			s.writeError(response.ErrInvalidPayload)
			return false
		}
		if err := s.ctrl.Navigate(*msg.Index); err != nil {
			s.writeControllerError(err)
			return false
		}
		s.sendState(false)
	case ws.ActionCopy:
		qid, ok := s.questionID(msg)
		if !ok {
			return false
		}
		if err := s.ctrl.RecordCopy(qid); err != nil {
			s.writeControllerError(err)
			return false
		}
		s.sendState(false)
	case ws.ActionVisibility:
		if msg.Hidden == nil {
			s.writeError(response.ErrInvalidPayload)
			return false
		}
		if *msg.Hidden {
			s.ctrl.VisibilityHidden()
		} else if minutes := s.ctrl.VisibilityVisible(); minutes > 0 {
			s.log.Info().Int("minutes", minutes).Msg("candidate returned after time away")
		}
		s.sendState(false)
	case ws.ActionState:
		s.sendState(true)
	case ws.ActionSubmit:
		return s.handleSubmit()
	case ws.ActionPing:
		_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
	}
	return false
}

func (s *examSession) handleStart() {
	ctx := context.Background()
	startedAt, err := s.h.store.StartedAt(ctx, s.userID, s.examID, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("load session start failed")
		s.writeError(response.ErrInternal)
		return
	}
	restored, err := s.h.store.Answers(ctx, s.userID, s.examID)
	if err != nil {
		s.log.Warn().Err(err).Msg("restore autosaved answers failed")
		restored = nil
	}

	if err := s.ctrl.Start(startedAt, restored); err != nil {
		s.writeControllerError(err)
		return
	}
	s.log.Info().Time("started_at", startedAt).Int("restored", len(restored)).Msg("session started")
	s.sendState(true)
}

func (s *examSession) handleAnswer(msg *ws.RequestPayload) {
	qid, ok := s.questionID(msg)
	if !ok {
		return
	}
	if msg.Answer == nil {
		s.writeError(response.ErrInvalidPayload)
		return
	}
	if err := s.ctrl.Answer(qid, *msg.Answer); err != nil {
		s.writeControllerError(err)
		return
	}
	_ = s.conn.WriteTyped(ws.SavedResponse{
		Event:    ws.EventSaved,
		QID:      qid.String(),
		Progress: s.ctrl.Progress(),
	})
}

func (s *examSession) handleSubmit() bool {
	res, err := s.ctrl.Submit(context.Background())
	if err != nil {
		var incomplete *session.IncompleteError
		var invalid *finalize.ValidationError
		var persist *finalize.PersistenceError
		switch {
		case errors.As(err, &incomplete):
			_ = s.conn.WriteTyped(ws.IncompleteResponse{
				Event:     ws.EventIncomplete,
				Error:     response.NewErrorBody(response.ErrSubmissionIncomplete),
				Questions: incomplete.Questions,
				Invalid:   incomplete.Invalid,
			})
		case errors.As(err, &invalid):
			_ = s.conn.WriteTyped(ws.ValidationErrorResponse{
				Event:     ws.EventValidationError,
				Error:     response.NewErrorBody(response.ErrAnswerValidation),
				Questions: invalid.Questions,
			})
		case errors.As(err, &persist):
			s.log.Error().Err(err).Str("op", persist.Op).Msg("submission failed")
			s.writeError(response.ErrPersistence)
		default:
			s.writeControllerError(err)
		}
		return false
	}

	if err := s.h.store.Clear(context.Background(), s.userID, s.examID); err != nil {
		s.log.Warn().Err(err).Msg("clear autosave mirror failed")
	}
	s.log.Info().
		Int("score", res.Bundle.TotalScore).
		Int("max_score", res.Bundle.MaxScore).
		Str("risk", string(res.Risk)).
		Msg("Exam submitted and graded")

	_ = s.conn.WriteTyped(feedbackResponse(res.Bundle))
	return true
}

func (s *examSession) mirrorAnswer(questionID uuid.UUID, value string) {
	if err := s.h.store.SaveAnswer(context.Background(), s.userID, s.examID, questionID.String(), value); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("autosave mirror failed")
	}
}

func (s *examSession) questionID(msg *ws.RequestPayload) (uuid.UUID, bool) {
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		s.writeError(response.ErrInvalidPayload)
		return uuid.Nil, false
	}
	return qid, true
}

func (s *examSession) sendState(withAnswers bool) {
	resp := ws.StateResponse{Event: ws.EventState, Session: s.ctrl.Snapshot()}
	if withAnswers {
		resp.Answers = s.ctrl.Answers()
	}
	_ = s.conn.WriteTyped(resp)
}

func (s *examSession) writeError(code response.ErrCode) {
	_ = s.conn.WriteError(code)
}

func (s *examSession) writeControllerError(err error) {
	switch {
	case errors.Is(err, session.ErrNotInProgress):
		if s.ctrl.State() == session.StateFeedback {
			s.writeError(response.ErrAlreadySubmitted)
			return
		}
		s.writeError(response.ErrSessionNotStarted)
	case errors.Is(err, session.ErrAlreadyStarted):
		s.sendState(true)
	case errors.Is(err, session.ErrUnknownQuestion):
		s.writeError(response.ErrUnknownQuestion)
	case errors.Is(err, session.ErrIndexOutOfRange):
		s.writeError(response.ErrInvalidPayload)
	default:
		s.log.Error().Err(err).Msg("session action failed")
		s.writeError(response.ErrInternal)
	}
}

func feedbackResponse(b *model.FeedbackBundle) ws.FeedbackResponse {
	return ws.FeedbackResponse{Event: ws.EventFeedback, Feedback: b, Percentage: b.Percentage()}
}

// failExamLookup maps ExamService errors onto HTTP responses.
func failExamLookup(c *gin.Context, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamClosed):
		response.Fail(c, http.StatusForbidden, response.ErrExamClosed)
	default:
		log.Error().Err(err).Msg("load exam failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
