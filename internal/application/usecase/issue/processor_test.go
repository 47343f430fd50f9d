package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/app/config"
	"github.com/hayato-mori/issuepilot/internal/application/port/output"
	"github.com/hayato-mori/issuepilot/internal/application/prompt"
	"github.com/hayato-mori/issuepilot/internal/domain/model/workflow"
	"github.com/hayato-mori/issuepilot/internal/infra/journal"
	"github.com/hayato-mori/issuepilot/internal/infra/persistence/state"
)

type fakeHost struct {
	issue    *output.Issue
	comments []output.Comment
	canPush  bool

	existingPR int
	applyErr   error

	pull         *output.Pull
	workflowRuns []output.WorkflowRun

	createdTitle   string
	createdBody    string
	createCalls    int
	updateCalls    int
	postedComments []string
	ensuredBranch  string
	appliedFiles   []workflow.FileChange
	reviewEvents   []string
	reviewBodies   []string
}

func (h *fakeHost) GetIssue(ctx context.Context, repo string, number int) (*output.Issue, error) {
	return h.issue, nil
}

func (h *fakeHost) ListIssueComments(ctx context.Context, repo string, number int) ([]output.Comment, error) {
	return h.comments, nil
}

func (h *fakeHost) CanPush(ctx context.Context, repo string) (bool, error) {
	return h.canPush, nil
}

func (h *fakeHost) FindPullByHead(ctx context.Context, repo, head string) (int, error) {
	return h.existingPR, nil
}

func (h *fakeHost) CreatePull(ctx context.Context, repo, head, base, title, body string) (int, error) {
	h.createCalls++
	h.createdTitle = title
	h.createdBody = body
	h.existingPR = 101
	return 101, nil
}

func (h *fakeHost) UpdatePull(ctx context.Context, repo string, number int, title, body string) (int, error) {
	h.updateCalls++
	h.createdTitle = title
	h.createdBody = body
	return number, nil
}

func (h *fakeHost) GetPull(ctx context.Context, repo string, number int) (*output.Pull, error) {
	if h.pull == nil {
		return nil, fmt.Errorf("no pull %d", number)
	}
	return h.pull, nil
}

func (h *fakeHost) PullDiff(ctx context.Context, repo string, number int) (string, error) {
	return "diff --git a/main.txt b/main.txt\n-hi\n+hello\n", nil
}

func (h *fakeHost) ListWorkflowRuns(ctx context.Context, repo string, number int) ([]output.WorkflowRun, error) {
	return h.workflowRuns, nil
}

func (h *fakeHost) CreateReview(ctx context.Context, repo string, number int, event, body string) error {
	h.reviewEvents = append(h.reviewEvents, event)
	h.reviewBodies = append(h.reviewBodies, body)
	return nil
}

func (h *fakeHost) AddComment(ctx context.Context, repo string, number int, body string) error {
	h.postedComments = append(h.postedComments, body)
	return nil
}

func (h *fakeHost) EnsureBranch(ctx context.Context, repo, base, branch string) error {
	h.ensuredBranch = branch
	return nil
}

func (h *fakeHost) ApplyFileChanges(ctx context.Context, repo, branch string, files []workflow.FileChange, message string) error {
	if h.applyErr != nil {
		return h.applyErr
	}
	h.appliedFiles = append(h.appliedFiles, files...)
	return nil
}

type fakeAgent struct {
	textReplies       []string
	structuredReplies []string

	textCalls       int
	structuredCalls int
}

func (a *fakeAgent) Generate(ctx context.Context, prompt, system string) (string, error) {
	a.textCalls++
	if len(a.textReplies) == 0 {
		return "", fmt.Errorf("no text reply queued")
	}
	reply := a.textReplies[0]
	a.textReplies = a.textReplies[1:]
	return reply, nil
}

func (a *fakeAgent) GenerateStructured(ctx context.Context, prompt, system string) (json.RawMessage, error) {
	a.structuredCalls++
	if len(a.structuredReplies) == 0 {
		return nil, fmt.Errorf("no structured reply queued")
	}
	reply := a.structuredReplies[0]
	a.structuredReplies = a.structuredReplies[1:]
	return json.RawMessage(reply), nil
}

type fakeWorkspace struct {
	files    map[string]string
	pushErr  error
	branches []string
	commits  []string
	pushed   []string
	closed   bool
}

func newFakeWorkspace(files map[string]string) *fakeWorkspace {
	return &fakeWorkspace{files: files}
}

func (w *fakeWorkspace) Root() string { return "/fake" }

func (w *fakeWorkspace) Files() ([]string, error) {
	var paths []string
	for path := range w.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *fakeWorkspace) ReadFile(path string) (string, error) {
	content, ok := w.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (w *fakeWorkspace) WriteFile(path, content string) error {
	w.files[path] = content
	return nil
}

func (w *fakeWorkspace) DeleteFile(path string) error {
	delete(w.files, path)
	return nil
}

func (w *fakeWorkspace) EnsureBranch(ctx context.Context, branch string) error {
	w.branches = append(w.branches, branch)
	return nil
}

func (w *fakeWorkspace) StageAndCommit(ctx context.Context, paths []string, message string) error {
	w.commits = append(w.commits, message)
	return nil
}

func (w *fakeWorkspace) Push(ctx context.Context, branch string) error {
	if w.pushErr != nil {
		return w.pushErr
	}
	w.pushed = append(w.pushed, branch)
	return nil
}

func (w *fakeWorkspace) Close() error {
	w.closed = true
	return nil
}

type harness struct {
	processor  *Processor
	host       *fakeHost
	agent      *fakeAgent
	ws         *fakeWorkspace
	store      *state.Store
	journal    *journal.Writer
	cloneCalls int
}

func newHarness(t *testing.T, host *fakeHost, agent *fakeAgent, ws *fakeWorkspace) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := state.NewStore(fs, "var/state")
	jw := journal.NewWriter(fs, "var/log/errors.ndjson")
	prompts, err := prompt.NewRenderer(app.NewNopLogger())
	require.NoError(t, err)

	h := &harness{host: host, agent: agent, ws: ws, store: store, journal: jw}
	clone := func(ctx context.Context, repo string) (output.Workspace, error) {
		h.cloneCalls++
		return ws, nil
	}
	cfg := config.Default()
	cfg.GitHubToken = "tok"
	cfg.LLMAPIKey = "key"
	h.processor = NewProcessor(cfg, host, agent, store, jw, clone, prompts, app.NewNopLogger())
	return h
}

const (
	planReply      = `{"summary": "add greeting", "plan": ["edit main.txt"], "files_to_modify": ["main.txt"], "acceptance_criteria": ["main.txt says hello"]}`
	changeSetReply = `{"commit_message": "Add greeting", "files_to_modify": [{"path": "main.txt", "action": "modify", "content": "hello"}]}`
	reviewReply    = `{"summary": "ok", "tasks": [], "final_comment": "Done"}`
)

func TestProcessIssueEndToEnd(t *testing.T) {
	host := &fakeHost{
		issue:   &output.Issue{Number: 7, Title: "Add a greeting", Body: "Add a greeting", State: "open"},
		canPush: true,
	}
	agent := &fakeAgent{
		textReplies:       []string{"Add a greeting"},
		structuredReplies: []string{planReply, changeSetReply, reviewReply},
	}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	h := newHarness(t, host, agent, ws)

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)

	// The change landed in the working copy and was pushed on the issue branch.
	assert.Equal(t, "hello", ws.files["main.txt"])
	assert.Equal(t, []string{"agent/issue-7"}, ws.branches)
	assert.Equal(t, []string{"Add greeting"}, ws.commits)
	assert.Equal(t, []string{"agent/issue-7"}, ws.pushed)
	assert.True(t, ws.closed)

	// A PR referencing the issue exists and carries the review comment.
	assert.Equal(t, 1, host.createCalls)
	assert.Equal(t, "Resolve #7: Add greeting", host.createdTitle)
	assert.Equal(t, "Closes #7", host.createdBody)
	assert.Equal(t, []string{"Done"}, host.postedComments)

	st, err := h.store.Load("octo/hello", 7)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, workflow.StepCompleted, st.Step)
	assert.Equal(t, 1, st.Iteration)
	assert.Equal(t, 101, st.PRNumber)
	require.Len(t, st.FeedbackHistory, 1)
	assert.Equal(t, "Done", st.FeedbackHistory[0].FinalComment)
	require.NotNil(t, st.Plan)
	assert.Equal(t, "add greeting", st.Plan.Summary)
}

func TestRestartDecisionResetsStateAndEndsInvocation(t *testing.T) {
	host := &fakeHost{
		issue:    &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		comments: []output.Comment{{ID: 2, Body: "Actually, rewrite it in French"}},
		canPush:  true,
	}
	agent := &fakeAgent{
		structuredReplies: []string{`{"restart": true, "summary": "scope changed", "reason": "new language"}`},
	}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	h := newHarness(t, host, agent, ws)

	prior := &workflow.State{
		Iteration:          2,
		Step:               workflow.StepFinalReview,
		Plan:               &workflow.Plan{Summary: "old plan"},
		FeedbackHistory:    []workflow.ReviewFeedback{{Summary: "round one"}},
		LastIssueCommentID: 1,
	}
	require.NoError(t, h.store.Save("octo/hello", 7, prior))

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)

	st, err := h.store.Load("octo/hello", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Iteration)
	assert.Nil(t, st.Plan)
	assert.Empty(t, st.FeedbackHistory)
	assert.Equal(t, workflow.StepRestart, st.Step)
	assert.Equal(t, int64(2), st.LastIssueCommentID)
	require.NotNil(t, st.CommentDecision)
	assert.True(t, st.CommentDecision.Restart)

	// The invocation ends at the reset; the fresh cycle starts on the next
	// trigger, with no mutation of the code host.
	assert.Equal(t, 0, h.cloneCalls)
	assert.Equal(t, 0, host.createCalls)
	assert.Empty(t, host.postedComments)
	assert.Equal(t, 1, agent.structuredCalls)
}

func TestRestartGateJudgesEachCommentOnce(t *testing.T) {
	host := &fakeHost{
		issue:    &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		comments: []output.Comment{{ID: 5, Body: "thanks, looks good"}},
		canPush:  true,
	}
	agent := &fakeAgent{
		structuredReplies: []string{`{"restart": false, "summary": "praise", "reason": "no scope change"}`},
	}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	h := newHarness(t, host, agent, ws)

	prior := &workflow.State{Step: workflow.StepCompleted, Iteration: 1, LastIssueCommentID: 1}
	require.NoError(t, h.store.Save("octo/hello", 7, prior))

	// First invocation judges comment 5 and records it.
	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)
	assert.Equal(t, 1, agent.structuredCalls)

	// Second invocation sees the same comment id and performs zero
	// inference calls.
	ok = h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)
	assert.Equal(t, 1, agent.structuredCalls)
	assert.Equal(t, 0, h.cloneCalls)
	assert.Equal(t, 0, host.createCalls)
}

func TestCompletedStateIsIdempotent(t *testing.T) {
	host := &fakeHost{
		issue:   &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		canPush: true,
	}
	agent := &fakeAgent{}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	h := newHarness(t, host, agent, ws)

	prior := &workflow.State{Step: workflow.StepCompleted, Iteration: 1, PRNumber: 101}
	require.NoError(t, h.store.Save("octo/hello", 7, prior))

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)
	assert.Equal(t, 0, h.cloneCalls)
	assert.Equal(t, 0, host.createCalls)
	assert.Equal(t, 0, host.updateCalls)
	assert.Empty(t, host.postedComments)
	assert.Equal(t, 0, agent.textCalls)
	assert.Equal(t, 0, agent.structuredCalls)
}

func TestIterationBoundIsNeverExceeded(t *testing.T) {
	host := &fakeHost{
		issue:    &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		canPush:  true,
		applyErr: fmt.Errorf("content API rejected the write"),
	}
	agent := &fakeAgent{
		textReplies:       []string{"Add a greeting"},
		structuredReplies: []string{planReply, changeSetReply, changeSetReply},
	}
	// Push always fails so every round falls back to the API, which also
	// fails; each round is a transient failure.
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	ws.pushErr = fmt.Errorf("remote rejected push")
	h := newHarness(t, host, agent, ws)
	h.processor.cfg.MaxIterations = 2

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.False(t, ok)

	st, err := h.store.Load("octo/hello", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Iteration)

	entries, err := h.journal.Read()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "iteration_exhausted", entries[len(entries)-1].ErrorKind)
}

func TestPermissionDeniedFailsBeforeClone(t *testing.T) {
	host := &fakeHost{
		issue:   &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		canPush: false,
	}
	agent := &fakeAgent{}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	h := newHarness(t, host, agent, ws)

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.False(t, ok)
	assert.Equal(t, 0, h.cloneCalls)

	// No checkpoint beyond the permission check was persisted.
	st, err := h.store.Load("octo/hello", 7)
	require.NoError(t, err)
	assert.Nil(t, st)

	entries, err := h.journal.Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "permission", entries[0].ErrorKind)
}

func TestCorruptStateFailsLoudly(t *testing.T) {
	host := &fakeHost{
		issue:   &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		canPush: true,
	}
	agent := &fakeAgent{}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})

	fs := afero.NewMemMapFs()
	store := state.NewStore(fs, "var/state")
	require.NoError(t, afero.WriteFile(fs, "var/state/"+state.Key("octo/hello", 7), []byte("{broken"), 0o644))
	jw := journal.NewWriter(fs, "var/log/errors.ndjson")
	prompts, err := prompt.NewRenderer(app.NewNopLogger())
	require.NoError(t, err)
	clone := func(ctx context.Context, repo string) (output.Workspace, error) { return ws, nil }
	cfg := config.Default()
	p := NewProcessor(cfg, host, agent, store, jw, clone, prompts, app.NewNopLogger())

	ok := p.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.False(t, ok)

	entries, err := jw.Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "corrupt_state", entries[0].ErrorKind)
}

func TestExistingPRIsUpdatedNotDuplicated(t *testing.T) {
	host := &fakeHost{
		issue:      &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		canPush:    true,
		existingPR: 55,
	}
	agent := &fakeAgent{
		textReplies:       []string{"Add a greeting"},
		structuredReplies: []string{planReply, changeSetReply, reviewReply},
	}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	h := newHarness(t, host, agent, ws)

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)
	assert.Equal(t, 0, host.createCalls)
	assert.Equal(t, 1, host.updateCalls)

	st, err := h.store.Load("octo/hello", 7)
	require.NoError(t, err)
	assert.Equal(t, 55, st.PRNumber)
}

func TestPushFallbackUsesContentAPI(t *testing.T) {
	host := &fakeHost{
		issue:   &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		canPush: true,
	}
	agent := &fakeAgent{
		textReplies:       []string{"Add a greeting"},
		structuredReplies: []string{planReply, changeSetReply, reviewReply},
	}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	ws.pushErr = fmt.Errorf("remote rejected push")
	h := newHarness(t, host, agent, ws)

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)

	// The branch was created remotely and the files landed through the
	// content API; the push failure never surfaced as a workflow failure.
	assert.Equal(t, "agent/issue-7", host.ensuredBranch)
	require.Len(t, host.appliedFiles, 1)
	assert.Equal(t, "main.txt", host.appliedFiles[0].Path)
	assert.Equal(t, "hello", host.appliedFiles[0].Content)
	assert.Equal(t, 1, host.createCalls)
}

func TestRequirementsFallBackToIssueText(t *testing.T) {
	host := &fakeHost{
		issue:   &output.Issue{Number: 7, Body: "Add a greeting", State: "open"},
		canPush: true,
	}
	// No text replies queued: the requirements pass errors and the raw
	// issue context is used instead; the workflow still completes.
	agent := &fakeAgent{
		structuredReplies: []string{planReply, changeSetReply, reviewReply},
	}
	ws := newFakeWorkspace(map[string]string{"main.txt": "hi"})
	h := newHarness(t, host, agent, ws)

	ok := h.processor.ProcessIssue(context.Background(), "octo/hello", 7)
	assert.True(t, ok)
	assert.Equal(t, 1, host.createCalls)
}

func TestReviewPullPostsFormalReview(t *testing.T) {
	host := &fakeHost{
		pull: &output.Pull{Number: 55, Title: "Resolve #7: greet", Body: "Closes #7", HeadRef: "agent/issue-7"},
		workflowRuns: []output.WorkflowRun{
			{Name: "ci", Status: "completed", Conclusion: "failure"},
		},
	}
	agent := &fakeAgent{
		structuredReplies: []string{
			`{"decision": "request_changes", "summary": "CI is failing.",
			  "issues": [{"severity": "major", "message": "fix the build", "file": "main.go", "line": 3}]}`,
		},
	}
	h := newHarness(t, host, agent, newFakeWorkspace(nil))

	err := h.processor.ReviewPull(context.Background(), "octo/hello", 55)
	require.NoError(t, err)

	require.Len(t, host.reviewEvents, 1)
	assert.Equal(t, "REQUEST_CHANGES", host.reviewEvents[0])
	assert.Contains(t, host.reviewBodies[0], "CI is failing.")
	assert.Contains(t, host.reviewBodies[0], "- major: fix the build (main.go:3)")
	// A standalone review posts a formal review, not an issue comment.
	assert.Empty(t, host.postedComments)
}

func TestReviewPullApprovesCleanChange(t *testing.T) {
	host := &fakeHost{
		pull: &output.Pull{Number: 55, Title: "Resolve #7: greet", HeadRef: "agent/issue-7"},
		workflowRuns: []output.WorkflowRun{
			{Name: "ci", Status: "completed", Conclusion: "success"},
		},
	}
	agent := &fakeAgent{
		structuredReplies: []string{`{"decision": "approve", "summary": "Looks good.", "issues": []}`},
	}
	h := newHarness(t, host, agent, newFakeWorkspace(nil))

	require.NoError(t, h.processor.ReviewPull(context.Background(), "octo/hello", 55))
	require.Len(t, host.reviewEvents, 1)
	assert.Equal(t, "APPROVE", host.reviewEvents[0])
	assert.Equal(t, "Looks good.", host.reviewBodies[0])
}
