package service

import (
	"fmt"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/delivery"
)

type notice struct {
	Title   string
	Message string
}

func courseLabel(g *models.Grade) string {
	if g.CourseName == "" {
		return g.CourseCode
	}
	return fmt.Sprintf("%s (%s)", g.CourseName, g.CourseCode)
}

// studentNotice is the copy of the student's own inbox entry.
func studentNotice(c Classification, g *models.Grade) notice {
	course := courseLabel(g)
	switch c.Type {
	case models.AlertFailing:
		return notice{
			Title:   "Action needed: " + g.CourseCode,
			Message: fmt.Sprintf("Your result in %s is %s (%.1f), which is below the passing mark. Please contact your advisor to discuss a recovery plan.", course, g.Grade, g.Score),
		}
	case models.AlertLowGrade:
		return notice{
			Title:   "Low grade in " + g.CourseCode,
			Message: fmt.Sprintf("Your result in %s is %s (%.1f). Consider reaching out to your instructor for support.", course, g.Grade, g.Score),
		}
	default:
		return notice{
			Title:   "New grade posted: " + g.CourseCode,
			Message: fmt.Sprintf("Your grade for %s has been published: %s (%.1f).", course, g.Grade, g.Score),
		}
	}
}

// guardianAlert is the copy of the alert and inbox entry shown to a guardian.
func guardianAlert(c Classification, g *models.Grade, studentName string) notice {
	course := courseLabel(g)
	switch c.Type {
	case models.AlertFailing:
		return notice{
			Title:   fmt.Sprintf("Failing grade: %s", studentName),
			Message: fmt.Sprintf("%s received %s (%.1f) in %s. This is a failing result.", studentName, g.Grade, g.Score, course),
		}
	case models.AlertLowGrade:
		return notice{
			Title:   fmt.Sprintf("Low grade: %s", studentName),
			Message: fmt.Sprintf("%s received %s (%.1f) in %s, below the expected standard.", studentName, g.Grade, g.Score, course),
		}
	default:
		return notice{
			Title:   fmt.Sprintf("New grade for %s", studentName),
			Message: fmt.Sprintf("%s received %s (%.1f) in %s.", studentName, g.Grade, g.Score, course),
		}
	}
}

const emailSignature = "\n\nThis message was sent by the university grade portal. Sign in to view the full record."

// guardianEmail renders the external message sent to a guardian.
func guardianEmail(c Classification, g *models.Grade, studentName, guardianName string) delivery.Message {
	course := courseLabel(g)
	var subject, body string
	switch c.Type {
	case models.AlertFailing:
		subject = fmt.Sprintf("URGENT: %s is failing %s", studentName, g.CourseCode)
		body = fmt.Sprintf("Dear %s,\n\n%s has received a failing grade of %s (score %.1f) in %s for %s.\n"+
			"We strongly encourage you to contact the academic advisor as soon as possible to plan the next steps.",
			guardianName, studentName, g.Grade, g.Score, course, g.Semester)
	case models.AlertLowGrade:
		subject = fmt.Sprintf("Academic notice: low grade for %s in %s", studentName, g.CourseCode)
		body = fmt.Sprintf("Dear %s,\n\n%s has received a grade of %s (score %.1f) in %s for %s, which is below the expected standard.\n"+
			"Additional study support may help. Please review the record with your student.",
			guardianName, studentName, g.Grade, g.Score, course, g.Semester)
	default:
		subject = fmt.Sprintf("New grade posted for %s", studentName)
		body = fmt.Sprintf("Dear %s,\n\nA new grade has been published for %s: %s (score %.1f) in %s for %s.",
			guardianName, studentName, g.Grade, g.Score, course, g.Semester)
	}
	return delivery.Message{Subject: subject, Body: body + emailSignature}
}

// accountApprovedNotice is the copy sent once a guardian's link is approved.
func accountApprovedNotice(p *models.Parent, studentID string) (notice, delivery.Message) {
	n := notice{
		Title:   "Account approved",
		Message: fmt.Sprintf("Your guardian account for student %s has been approved. You can now view grades and alerts.", studentID),
	}
	msg := delivery.Message{
		Subject: "Your guardian account has been approved",
		Body:    fmt.Sprintf("Dear %s,\n\n%s", p.FullName, n.Message) + emailSignature,
	}
	return n, msg
}
