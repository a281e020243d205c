// Package cheat turns session telemetry into a cheating-risk tier.
package cheat

import (
	"github.com/stemsi/exstem-grader/internal/model"
)

const (
	highCopyPercentage   = 25.0
	mediumCopyPercentage = 15.0
	highAwayMinutes      = 10
	mediumAwayMinutes    = 5
)

// DetermineCheatRisk classifies copy percentage and minutes spent away from the exam.
// It is monotonic in both inputs.
func DetermineCheatRisk(copyPercentage float64, timeAwayMinutes int) model.RiskLevel {
	switch {
	case copyPercentage >= highCopyPercentage || timeAwayMinutes > highAwayMinutes:
		return model.RiskHigh
	case copyPercentage >= mediumCopyPercentage || timeAwayMinutes > mediumAwayMinutes:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// CopyPercentage is distinct copied questions over total questions, as a percentage.
func CopyPercentage(copiedQuestions, totalQuestions int) float64 {
	if totalQuestions <= 0 {
		return 0
	}
	return float64(copiedQuestions) / float64(totalQuestions) * 100
}

// Warrants reports whether a risk tier must be written to the cheating log.
func Warrants(level model.RiskLevel) bool {
	return level != model.RiskLow
}
