// Package output defines the gateway ports the use case layer depends on.
// Adapters under internal/adapter/gateway implement them; tests substitute
// fakes.
package output

import (
	"context"

	"github.com/hayato-mori/issuepilot/internal/domain/model/workflow"
)

// Issue is the subset of a tracked work item the workflow needs.
type Issue struct {
	Number int
	Title  string
	Body   string
	State  string
}

// Comment is one entry in an issue's discussion thread.
type Comment struct {
	ID   int64
	Body string
}

// Pull is the subset of a change request the review pass needs.
type Pull struct {
	Number  int
	Title   string
	Body    string
	HeadRef string
}

// WorkflowRun is one CI run associated with a change request.
type WorkflowRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// CodeHostGateway is the boundary to the code-hosting system. All calls are
// blocking; implementations retry rate-limited responses up to 3 attempts.
type CodeHostGateway interface {
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	ListIssueComments(ctx context.Context, repo string, number int) ([]Comment, error)

	// CanPush reports whether the configured credential has write access.
	CanPush(ctx context.Context, repo string) (bool, error)

	// FindPullByHead returns the number of an open or closed change request
	// whose source branch matches head ("owner:branch"), or 0 if none exists.
	FindPullByHead(ctx context.Context, repo, head string) (int, error)
	CreatePull(ctx context.Context, repo, head, base, title, body string) (int, error)
	UpdatePull(ctx context.Context, repo string, number int, title, body string) (int, error)

	// GetPull fetches one change request.
	GetPull(ctx context.Context, repo string, number int) (*Pull, error)

	// PullDiff fetches the change request's diff as text.
	PullDiff(ctx context.Context, repo string, number int) (string, error)

	// ListWorkflowRuns returns the CI runs associated with a change request.
	ListWorkflowRuns(ctx context.Context, repo string, number int) ([]WorkflowRun, error)

	// CreateReview posts a formal review with a decision event (APPROVE,
	// REQUEST_CHANGES, or COMMENT).
	CreateReview(ctx context.Context, repo string, number int, event, body string) error

	// AddComment posts a comment on an issue or change request.
	AddComment(ctx context.Context, repo string, number int, body string) error

	// EnsureBranch creates branch from base on the remote if it is absent.
	EnsureBranch(ctx context.Context, repo, base, branch string) error

	// ApplyFileChanges mutates file content on a branch through the content
	// API. This is the durability backstop when a local git push fails.
	ApplyFileChanges(ctx context.Context, repo, branch string, files []workflow.FileChange, message string) error
}
