package service

import (
	"strings"

	"github.com/noah-isme/grade-portal/internal/models"
)

const (
	failingScore = 50
	lowScore     = 60
)

// Classification is the alert category derived from a grade.
type Classification struct {
	Type     models.AlertType     `json:"type"`
	Severity models.AlertSeverity `json:"severity"`
}

// Classify derives the alert type and severity of a grade. Failing is checked before low.
func Classify(score float64, letter string) Classification {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	switch {
	case score < failingScore || letter == "F":
		return Classification{Type: models.AlertFailing, Severity: models.SeverityCritical}
	case score < lowScore || letter == "D":
		return Classification{Type: models.AlertLowGrade, Severity: models.SeverityHigh}
	default:
		return Classification{Type: models.AlertNewGrade, Severity: models.SeverityLow}
	}
}

// Flagged reports whether the grade needs cautionary handling.
func (c Classification) Flagged() bool {
	return c.Type == models.AlertFailing || c.Type == models.AlertLowGrade
}

// SentVia lists the channels recorded on the guardian alert.
func (c Classification) SentVia() string {
	if c.Flagged() {
		return "app,email"
	}
	return "app"
}

// StudentNotificationType is the inbox type used for the student's own notice.
func (c Classification) StudentNotificationType() models.NotificationType {
	if c.Flagged() {
		return models.NotificationWarning
	}
	return models.NotificationGradeUpdate
}
