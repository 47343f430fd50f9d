package workflow

import (
	"fmt"
	"strings"
)

// ReviewIssue is one problem found during a standalone review pass.
type ReviewIssue struct {
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// ReviewVerdict is the model's assessment of a published pull request,
// including a review decision. Unlike ReviewFeedback it is posted as a
// formal review, not an issue comment, and is not retained in state.
type ReviewVerdict struct {
	Decision string        `json:"decision"`
	Summary  string        `json:"summary"`
	Issues   []ReviewIssue `json:"issues,omitempty"`
}

// Event maps the model's decision onto a review event. Anything that is not
// an approval or change request posts as a plain comment.
func (v *ReviewVerdict) Event() string {
	switch strings.ToUpper(strings.TrimSpace(v.Decision)) {
	case "APPROVE":
		return "APPROVE"
	case "REQUEST_CHANGES":
		return "REQUEST_CHANGES"
	default:
		return "COMMENT"
	}
}

// Body renders the verdict as the review text.
func (v *ReviewVerdict) Body() string {
	var lines []string
	if s := strings.TrimSpace(v.Summary); s != "" {
		lines = append(lines, s)
	}
	for _, issue := range v.Issues {
		severity := issue.Severity
		if severity == "" {
			severity = "info"
		}
		line := fmt.Sprintf("- %s: %s", severity, issue.Message)
		if issue.File != "" {
			line += fmt.Sprintf(" (%s:%d)", issue.File, issue.Line)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "Review completed."
	}
	return strings.Join(lines, "\n")
}
