package issue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hayato-mori/issuepilot/internal/application/port/output"
	"github.com/hayato-mori/issuepilot/internal/application/prompt"
	"github.com/hayato-mori/issuepilot/internal/domain/model/workflow"
	"github.com/hayato-mori/issuepilot/internal/pkg/jsonx"
)

// Reviewer drives the structured inference passes: planning, reviewing a
// diff, and deciding whether a new comment restarts the work.
type Reviewer struct {
	agent   output.AgentGateway
	prompts *prompt.Renderer
}

// NewReviewer wires the reviewer to the inference gateway.
func NewReviewer(agent output.AgentGateway, prompts *prompt.Renderer) *Reviewer {
	return &Reviewer{agent: agent, prompts: prompts}
}

// GeneratePlan produces the implementation plan for a cycle.
func (r *Reviewer) GeneratePlan(ctx context.Context, requirements, repoStructure, relevantFiles string) (*workflow.Plan, error) {
	raw, err := r.agent.GenerateStructured(ctx,
		r.prompts.ImplementationPlan(requirements, repoStructure, relevantFiles), prompt.SystemJSON)
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	var plan workflow.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("generate plan: %w: %v", jsonx.ErrDecode, err)
	}
	return &plan, nil
}

// ReviewChanges assesses the published diff against the requirements and
// plan, with the accumulated feedback for context.
func (r *Reviewer) ReviewChanges(ctx context.Context, requirements string, plan *workflow.Plan, diff string, history []workflow.ReviewFeedback) (*workflow.ReviewFeedback, error) {
	raw, err := r.agent.GenerateStructured(ctx,
		r.prompts.ReviewFeedback(requirements, marshalForPrompt(plan), diff, marshalForPrompt(history)),
		prompt.SystemJSON)
	if err != nil {
		return nil, fmt.Errorf("review changes: %w", err)
	}
	var feedback workflow.ReviewFeedback
	if err := json.Unmarshal(raw, &feedback); err != nil {
		return nil, fmt.Errorf("review changes: %w: %v", jsonx.ErrDecode, err)
	}
	return &feedback, nil
}

// PullVerdict produces a formal review decision for a published pull
// request, weighing its diff and CI results.
func (r *Reviewer) PullVerdict(ctx context.Context, issueDescription, diff string, runs []output.WorkflowRun) (*workflow.ReviewVerdict, error) {
	raw, err := r.agent.GenerateStructured(ctx,
		r.prompts.CodeReview(issueDescription, diff, marshalForPrompt(runs)),
		prompt.SystemJSON)
	if err != nil {
		return nil, fmt.Errorf("pull verdict: %w", err)
	}
	var verdict workflow.ReviewVerdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("pull verdict: %w: %v", jsonx.ErrDecode, err)
	}
	return &verdict, nil
}

// CommentDecision decides whether a new issue comment invalidates the
// in-flight plan.
func (r *Reviewer) CommentDecision(ctx context.Context, issueContext, commentBody string, plan *workflow.Plan, history []workflow.ReviewFeedback) (*workflow.RestartDecision, error) {
	raw, err := r.agent.GenerateStructured(ctx,
		r.prompts.CommentReview(issueContext, commentBody, marshalForPrompt(plan), marshalForPrompt(history)),
		prompt.SystemJSON)
	if err != nil {
		return nil, fmt.Errorf("comment decision: %w", err)
	}
	var decision workflow.RestartDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("comment decision: %w: %v", jsonx.ErrDecode, err)
	}
	return &decision, nil
}

// marshalForPrompt renders a value as indented JSON for prompt embedding.
// Nil values render as "null", which the templates treat as "absent".
func marshalForPrompt(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(b)
}
