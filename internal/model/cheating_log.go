package model

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the discrete cheating-risk tier.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Rank orders tiers: Low < Medium < High.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// CheatingLog is written once per submission, and only when risk is not Low.
type CheatingLog struct {
	ID              int64     `json:"id"`
	SubmissionID    uuid.UUID `json:"submission_id"`
	UserID          string    `json:"user_id"`
	ExamID          uuid.UUID `json:"exam_id"`
	CopyPercentage  float64   `json:"copy_percentage"`
	TimeAwaySeconds int       `json:"time_away_seconds"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Timestamp       time.Time `json:"timestamp"`
}
