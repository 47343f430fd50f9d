// Package github implements the CodeHostGateway against the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/application/port/output"
	"github.com/hayato-mori/issuepilot/internal/domain/model/workflow"
)

const maxAttempts = 3

// Client is the GitHub-backed code host gateway.
type Client struct {
	gh  *gh.Client
	log app.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API endpoint. Tests use this
// with httptest servers.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		u, err := url.Parse(strings.TrimSuffix(raw, "/") + "/")
		if err == nil {
			c.gh.BaseURL = u
			c.gh.UploadURL = u
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.gh = gh.NewClient(h)
	}
}

// New builds a gateway authenticated with token. WithHTTPClient must come
// before WithBaseURL when both are given.
func New(token string, log app.Logger, opts ...Option) *Client {
	c := &Client{gh: gh.NewClient(nil), log: log}
	for _, opt := range opts {
		opt(c)
	}
	if token != "" {
		base := c.gh.BaseURL
		upload := c.gh.UploadURL
		c.gh = c.gh.WithAuthToken(token)
		c.gh.BaseURL = base
		c.gh.UploadURL = upload
	}
	return c
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", repo)
	}
	return owner, name, nil
}

// withRetry runs fn up to three attempts, waiting out rate-limit responses
// in between.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		wait, retriable := rateLimitWait(err)
		if !retriable || attempt == maxAttempts {
			return err
		}
		c.log.Warn("rate limited by API, waiting %s (attempt %d/%d)", wait, attempt, maxAttempts)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func rateLimitWait(err error) (time.Duration, bool) {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		wait := time.Until(rle.Rate.Reset.Time)
		if wait < time.Second {
			wait = time.Second
		}
		return wait, true
	}
	var arle *gh.AbuseRateLimitError
	if errors.As(err, &arle) {
		if arle.RetryAfter != nil {
			return *arle.RetryAfter, true
		}
		return 5 * time.Second, true
	}
	return 0, false
}

// GetIssue fetches one issue.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*output.Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var issue *gh.Issue
	err = c.withRetry(ctx, func() error {
		var err error
		issue, _, err = c.gh.Issues.Get(ctx, owner, name, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get issue %s#%d: %w", repo, number, err)
	}
	return &output.Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		State:  issue.GetState(),
	}, nil
}

// ListIssueComments returns all comments on an issue in ascending order.
func (c *Client) ListIssueComments(ctx context.Context, repo string, number int) ([]output.Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var all []output.Comment
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		var page []*gh.IssueComment
		var resp *gh.Response
		err = c.withRetry(ctx, func() error {
			var err error
			page, resp, err = c.gh.Issues.ListComments(ctx, owner, name, number, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list comments %s#%d: %w", repo, number, err)
		}
		for _, comment := range page {
			all = append(all, output.Comment{
				ID:   comment.GetID(),
				Body: comment.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// CanPush reports whether the authenticated credential has push permission.
func (c *Client) CanPush(ctx context.Context, repo string) (bool, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return false, err
	}
	var r *gh.Repository
	err = c.withRetry(ctx, func() error {
		var err error
		r, _, err = c.gh.Repositories.Get(ctx, owner, name)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("get repository %s: %w", repo, err)
	}
	return r.GetPermissions()["push"], nil
}

// FindPullByHead returns the number of the pull request whose head matches
// "owner:branch", searching open and closed, or 0 when none exists.
func (c *Client) FindPullByHead(ctx context.Context, repo, head string) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	var pulls []*gh.PullRequest
	err = c.withRetry(ctx, func() error {
		var err error
		pulls, _, err = c.gh.PullRequests.List(ctx, owner, name, &gh.PullRequestListOptions{
			Head:  head,
			State: "all",
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list pulls %s head=%s: %w", repo, head, err)
	}
	if len(pulls) == 0 {
		return 0, nil
	}
	return pulls[0].GetNumber(), nil
}

// CreatePull opens a pull request and returns its number.
func (c *Client) CreatePull(ctx context.Context, repo, head, base, title, body string) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	var pr *gh.PullRequest
	err = c.withRetry(ctx, func() error {
		var err error
		pr, _, err = c.gh.PullRequests.Create(ctx, owner, name, &gh.NewPullRequest{
			Title: gh.String(title),
			Head:  gh.String(head),
			Base:  gh.String(base),
			Body:  gh.String(body),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create pull %s: %w", repo, err)
	}
	return pr.GetNumber(), nil
}

// UpdatePull retitles an existing pull request.
func (c *Client) UpdatePull(ctx context.Context, repo string, number int, title, body string) (int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, err
	}
	var pr *gh.PullRequest
	err = c.withRetry(ctx, func() error {
		var err error
		pr, _, err = c.gh.PullRequests.Edit(ctx, owner, name, number, &gh.PullRequest{
			Title: gh.String(title),
			Body:  gh.String(body),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("update pull %s#%d: %w", repo, number, err)
	}
	return pr.GetNumber(), nil
}

// GetPull fetches one pull request.
func (c *Client) GetPull(ctx context.Context, repo string, number int) (*output.Pull, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var pr *gh.PullRequest
	err = c.withRetry(ctx, func() error {
		var err error
		pr, _, err = c.gh.PullRequests.Get(ctx, owner, name, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get pull %s#%d: %w", repo, number, err)
	}
	return &output.Pull{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HeadRef: pr.GetHead().GetRef(),
	}, nil
}

// ListWorkflowRuns returns the CI runs attached to a pull request.
func (c *Client) ListWorkflowRuns(ctx context.Context, repo string, number int) ([]output.WorkflowRun, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var runs *gh.WorkflowRuns
	err = c.withRetry(ctx, func() error {
		var err error
		runs, _, err = c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, name,
			&gh.ListWorkflowRunsOptions{ListOptions: gh.ListOptions{PerPage: 100}})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list workflow runs %s: %w", repo, err)
	}

	var matched []output.WorkflowRun
	for _, run := range runs.WorkflowRuns {
		for _, pr := range run.PullRequests {
			if pr.GetNumber() == number {
				matched = append(matched, output.WorkflowRun{
					Name:       run.GetName(),
					Status:     run.GetStatus(),
					Conclusion: run.GetConclusion(),
				})
				break
			}
		}
	}
	return matched, nil
}

// CreateReview posts a formal review with a decision event.
func (c *Client) CreateReview(ctx context.Context, repo string, number int, event, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	err = c.withRetry(ctx, func() error {
		_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, name, number, &gh.PullRequestReviewRequest{
			Body:  gh.String(body),
			Event: gh.String(event),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("create review %s#%d: %w", repo, number, err)
	}
	return nil
}

// PullDiff fetches the pull request diff as text.
func (c *Client) PullDiff(ctx context.Context, repo string, number int) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	var diff string
	err = c.withRetry(ctx, func() error {
		var err error
		diff, _, err = c.gh.PullRequests.GetRaw(ctx, owner, name, number, gh.RawOptions{Type: gh.Diff})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get diff %s#%d: %w", repo, number, err)
	}
	return diff, nil
}

// AddComment posts a comment on an issue or pull request.
func (c *Client) AddComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	err = c.withRetry(ctx, func() error {
		_, _, err := c.gh.Issues.CreateComment(ctx, owner, name, number, &gh.IssueComment{
			Body: gh.String(body),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("add comment %s#%d: %w", repo, number, err)
	}
	return nil
}

// EnsureBranch creates branch on the remote from the tip of base when it
// does not exist yet.
func (c *Client) EnsureBranch(ctx context.Context, repo, base, branch string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	err = c.withRetry(ctx, func() error {
		_, _, err := c.gh.Git.GetRef(ctx, owner, name, "refs/heads/"+branch)
		return err
	})
	if err == nil {
		return nil
	}
	var ghErr *gh.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response.StatusCode != http.StatusNotFound {
		return fmt.Errorf("get ref %s/%s: %w", repo, branch, err)
	}

	var baseRef *gh.Reference
	err = c.withRetry(ctx, func() error {
		var err error
		baseRef, _, err = c.gh.Git.GetRef(ctx, owner, name, "refs/heads/"+base)
		return err
	})
	if err != nil {
		return fmt.Errorf("get base ref %s/%s: %w", repo, base, err)
	}

	err = c.withRetry(ctx, func() error {
		_, _, err := c.gh.Git.CreateRef(ctx, owner, name, &gh.Reference{
			Ref:    gh.String("refs/heads/" + branch),
			Object: &gh.GitObject{SHA: baseRef.Object.SHA},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("create ref %s/%s: %w", repo, branch, err)
	}
	return nil
}

// ApplyFileChanges writes a change set through the content API, one commit
// per file. Used when a local git push is not possible.
func (c *Client) ApplyFileChanges(ctx context.Context, repo, branch string, files []workflow.FileChange, message string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	for _, file := range files {
		if file.Op == workflow.OpUnrecognized {
			continue
		}
		sha, err := c.contentSHA(ctx, owner, name, file.Path, branch)
		if err != nil {
			return err
		}

		opts := &gh.RepositoryContentFileOptions{
			Message: gh.String(message),
			Branch:  gh.String(branch),
		}
		if sha != "" {
			opts.SHA = gh.String(sha)
		}

		switch file.Op {
		case workflow.OpDelete:
			if sha == "" {
				continue
			}
			err = c.withRetry(ctx, func() error {
				_, _, err := c.gh.Repositories.DeleteFile(ctx, owner, name, file.Path, opts)
				return err
			})
			if err != nil {
				return fmt.Errorf("delete %s on %s: %w", file.Path, branch, err)
			}
		case workflow.OpModify:
			opts.Content = []byte(file.Content)
			if sha == "" {
				err = c.withRetry(ctx, func() error {
					_, _, err := c.gh.Repositories.CreateFile(ctx, owner, name, file.Path, opts)
					return err
				})
			} else {
				err = c.withRetry(ctx, func() error {
					_, _, err := c.gh.Repositories.UpdateFile(ctx, owner, name, file.Path, opts)
					return err
				})
			}
			if err != nil {
				return fmt.Errorf("write %s on %s: %w", file.Path, branch, err)
			}
		}
	}
	return nil
}

// contentSHA returns the blob SHA of path on ref, or "" when absent.
func (c *Client) contentSHA(ctx context.Context, owner, name, path, ref string) (string, error) {
	var content *gh.RepositoryContent
	err := c.withRetry(ctx, func() error {
		var err error
		content, _, _, err = c.gh.Repositories.GetContents(ctx, owner, name, path,
			&gh.RepositoryContentGetOptions{Ref: ref})
		return err
	})
	if err != nil {
		var ghErr *gh.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("get contents %s@%s: %w", path, ref, err)
	}
	if content == nil {
		return "", nil
	}
	return content.GetSHA(), nil
}
