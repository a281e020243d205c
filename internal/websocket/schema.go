package websocket

import (
	"github.com/google/uuid"

	"github.com/stemsi/exstem-grader/internal/finalize"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart      Action = "start"
	ActionAnswer     Action = "answer"
	ActionNavigate   Action = "navigate"
	ActionCopy       Action = "copy"
	ActionVisibility Action = "visibility"
	ActionState      Action = "state"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestPayload is every client message. Which optional fields are required
// depends on Action: answer needs q_id and ans, navigate needs index, copy
// needs q_id, visibility needs hidden.
type RequestPayload struct {
	Action Action  `json:"action" binding:"required,oneof=start answer navigate copy visibility state submit ping"`
	QID    string  `json:"q_id" binding:"omitempty,uuid"`
	Answer *string `json:"ans"`
	Index  *int    `json:"index"`
	Hidden *bool   `json:"hidden"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState           Event = "state"
	EventTick            Event = "tick"
	EventExpired         Event = "expired"
	EventSaved           Event = "saved"
	EventIncomplete      Event = "incomplete"
	EventValidationError Event = "validation_error"
	EventFeedback        Event = "feedback"
	EventError           Event = "error"
	EventPong            Event = "pong"
)

type StateResponse struct {
	Event   Event             `json:"event"`
	Session session.Snapshot  `json:"session"`
	Answers map[string]string `json:"answers,omitempty"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// ExpiredResponse tells the client time is up. Submitting is still allowed.
type ExpiredResponse struct {
	Event Event `json:"event"`
}

type SavedResponse struct {
	Event    Event   `json:"event"`
	QID      string  `json:"q_id"`
	Progress float64 `json:"progress"`
}

type IncompleteResponse struct {
	Event     Event                    `json:"event"`
	Error     *response.ErrorBody      `json:"error"`
	Questions []uuid.UUID              `json:"questions"`
	Invalid   []finalize.QuestionIssue `json:"invalid,omitempty"`
}

type ValidationErrorResponse struct {
	Event     Event                    `json:"event"`
	Error     *response.ErrorBody      `json:"error"`
	Questions []finalize.QuestionIssue `json:"questions"`
}

type FeedbackResponse struct {
	Event      Event                 `json:"event"`
	Feedback   *model.FeedbackBundle `json:"feedback"`
	Percentage float64               `json:"percentage"`
}

type ErrorResponse struct {
	Event Event               `json:"event"`
	Error *response.ErrorBody `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
