// Package prompt renders the instruction templates sent to the model. The
// templates are embedded in the binary; a render failure falls back to a
// compact inline prompt so an invocation never dies on a template bug.
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/hayato-mori/issuepilot/internal/app"
)

//go:embed templates/*.txt
var templatesFS embed.FS

// SystemJSON is the system message for every structured request.
const SystemJSON = "Return only valid JSON. Do not include markdown."

// SystemSummary is the system message for the requirements pass.
const SystemSummary = "Return a concise, actionable summary."

// Renderer renders named templates against their inputs.
type Renderer struct {
	templates *template.Template
	log       app.Logger
}

// NewRenderer parses the embedded template set.
func NewRenderer(log app.Logger) (*Renderer, error) {
	t, err := template.ParseFS(templatesFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &Renderer{templates: t, log: log}, nil
}

func (r *Renderer) render(name string, data any, fallback func() string) string {
	var sb strings.Builder
	if err := r.templates.ExecuteTemplate(&sb, name, data); err != nil {
		r.log.Warn("failed to render prompt %s: %v", name, err)
		return fallback()
	}
	return sb.String()
}

// RequirementsAnalysis asks for an actionable summary of the issue.
func (r *Renderer) RequirementsAnalysis(issueContext string) string {
	data := map[string]string{"Issue": issueContext}
	return r.render("requirements_analysis.txt", data, func() string {
		return "Summarize the issue into actionable requirements.\n\nIssue:\n" + issueContext
	})
}

// ImplementationPlan asks for a structured plan.
func (r *Renderer) ImplementationPlan(issue, repoStructure, relevantFiles string) string {
	data := map[string]string{
		"Issue":         issue,
		"RepoStructure": repoStructure,
		"RelevantFiles": relevantFiles,
	}
	return r.render("implementation_plan.txt", data, func() string {
		return fmt.Sprintf(
			"Create a JSON plan with summary, plan, acceptance_criteria.\nIssue:\n%s\n\nRepo:\n%s\n\nFiles:\n%s",
			issue, repoStructure, relevantFiles)
	})
}

// CodeGeneration asks for a structured change set.
func (r *Renderer) CodeGeneration(issue, repoStructure, relevantFiles string) string {
	data := map[string]string{
		"Issue":         issue,
		"RepoStructure": repoStructure,
		"RelevantFiles": relevantFiles,
	}
	return r.render("code_generation.txt", data, func() string {
		return fmt.Sprintf(
			"Return JSON with commit_message and files_to_modify (path, action, content).\nIssue:\n%s\n\nRepo:\n%s\n\nFiles:\n%s",
			issue, repoStructure, relevantFiles)
	})
}

// ReviewFeedback asks for a structured review of the diff.
func (r *Renderer) ReviewFeedback(issue, plan, diff, feedbackHistory string) string {
	data := map[string]string{
		"Issue":           issue,
		"Plan":            plan,
		"Diff":            diff,
		"FeedbackHistory": feedbackHistory,
	}
	return r.render("review_feedback.txt", data, func() string {
		return fmt.Sprintf(
			"Review the diff against the issue and plan. Return JSON with summary, tasks, final_comment.\nIssue:\n%s\n\nPlan:\n%s\n\nDiff:\n%s\n\nHistory:\n%s",
			issue, plan, diff, feedbackHistory)
	})
}

// CodeReview asks for a formal review verdict over a published diff and its
// CI results.
func (r *Renderer) CodeReview(issue, diff, ciResults string) string {
	data := map[string]string{
		"Issue":     issue,
		"Diff":      diff,
		"CIResults": ciResults,
	}
	return r.render("code_review.txt", data, func() string {
		return fmt.Sprintf(
			"Review the PR diff and CI results. Return JSON with decision, summary and issues.\nIssue:\n%s\n\nDiff:\n%s\n\nCI:\n%s",
			issue, diff, ciResults)
	})
}

// CommentReview asks whether a new issue comment requires a restart.
func (r *Renderer) CommentReview(issue, comment, plan, feedbackHistory string) string {
	data := map[string]string{
		"Issue":           issue,
		"Comment":         comment,
		"Plan":            plan,
		"FeedbackHistory": feedbackHistory,
	}
	return r.render("issue_comment_review.txt", data, func() string {
		return fmt.Sprintf(
			"Decide if the new comment requires restart. Return JSON with restart, summary, reason.\nIssue:\n%s\n\nComment:\n%s\n\nPlan:\n%s\n\nHistory:\n%s",
			issue, comment, plan, feedbackHistory)
	})
}
