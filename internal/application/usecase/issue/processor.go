// Package issue implements the issue→PR workflow: fetch the issue, gate on
// new human comments, derive requirements, plan, then generate/apply/push/
// review in a bounded loop, checkpointing durable state around every
// externally visible side effect.
package issue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/app/config"
	"github.com/hayato-mori/issuepilot/internal/application/port/output"
	"github.com/hayato-mori/issuepilot/internal/application/prompt"
	"github.com/hayato-mori/issuepilot/internal/domain/model/workflow"
	"github.com/hayato-mori/issuepilot/internal/infra/journal"
	"github.com/hayato-mori/issuepilot/internal/infra/persistence/state"
	"github.com/hayato-mori/issuepilot/internal/pkg/jsonx"
)

// Processor runs the workflow for one (repository, issue) pair per call.
type Processor struct {
	cfg      config.Config
	host     output.CodeHostGateway
	reviewer *Reviewer
	agent    output.AgentGateway
	store    *state.Store
	journal  *journal.Writer
	clone    output.CloneFunc
	prompts  *prompt.Renderer
	log      app.Logger
}

// NewProcessor wires the workflow to its collaborators.
func NewProcessor(
	cfg config.Config,
	host output.CodeHostGateway,
	agent output.AgentGateway,
	store *state.Store,
	jw *journal.Writer,
	clone output.CloneFunc,
	prompts *prompt.Renderer,
	log app.Logger,
) *Processor {
	return &Processor{
		cfg:      cfg,
		host:     host,
		reviewer: NewReviewer(agent, prompts),
		agent:    agent,
		store:    store,
		journal:  jw,
		clone:    clone,
		prompts:  prompts,
		log:      log,
	}
}

// BranchName returns the work branch for an issue.
func BranchName(issueNumber int) string {
	return fmt.Sprintf("agent/issue-%d", issueNumber)
}

// ProcessIssue runs the end-to-end workflow for a single issue. Every
// failure, panics included, is caught here, journaled, and converted to
// false; nothing propagates to the caller.
func (p *Processor) ProcessIssue(ctx context.Context, repo string, issueNumber int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			p.recordError(repo, issueNumber, err, string(debug.Stack()))
			p.log.Error("issue processing panicked for %s#%d: %v", repo, issueNumber, r)
			ok = false
		}
	}()

	if err := p.run(ctx, repo, issueNumber); err != nil {
		p.recordError(repo, issueNumber, err, "")
		p.log.Error("issue processing failed for %s#%d: %v", repo, issueNumber, err)
		return false
	}
	return true
}

func (p *Processor) run(ctx context.Context, repo string, issueNumber int) error {
	st, err := p.store.Load(repo, issueNumber)
	if err != nil {
		return err
	}
	if st == nil {
		st = workflow.NewState()
	}

	issue, err := p.host.GetIssue(ctx, repo, issueNumber)
	if err != nil {
		return err
	}
	comments, err := p.host.ListIssueComments(ctx, repo, issueNumber)
	if err != nil {
		return err
	}
	issueContext := buildIssueContext(issue.Body, comments)
	var latestID int64
	var latestBody string
	if len(comments) > 0 {
		latest := comments[len(comments)-1]
		latestID = latest.ID
		latestBody = latest.Body
	}

	branch := BranchName(issueNumber)
	owner, _, _ := strings.Cut(repo, "/")
	if existing, err := p.host.FindPullByHead(ctx, repo, owner+":"+branch); err != nil {
		return err
	} else if existing != 0 {
		st.PRNumber = existing
	}

	// Restart gate: an unseen comment is judged exactly once; its id and the
	// decision are persisted regardless of the outcome.
	if latestID != 0 && latestID != st.LastIssueCommentID {
		decision, err := p.reviewer.CommentDecision(ctx, issueContext, latestBody, st.Plan, st.FeedbackHistory)
		if err != nil {
			return err
		}
		st.LastIssueCommentID = latestID
		st.CommentDecision = decision
		if decision.Restart {
			st.Restart(decision)
			if err := p.store.Save(repo, issueNumber, st); err != nil {
				return err
			}
			p.log.Info("comment on %s#%d requires restart; state reset, next trigger starts fresh", repo, issueNumber)
			return nil
		}
		if err := p.store.Save(repo, issueNumber, st); err != nil {
			return err
		}
	}

	// A completed workflow with no scope change is a no-op.
	if st.Step == workflow.StepCompleted {
		p.log.Info("workflow for %s#%d already completed; nothing to do", repo, issueNumber)
		return nil
	}

	if st.Iteration >= p.cfg.MaxIterations {
		return fmt.Errorf("%s#%d: %w (iteration %d)", repo, issueNumber, workflow.ErrIterationExhausted, st.Iteration)
	}
	canPush, err := p.host.CanPush(ctx, repo)
	if err != nil {
		return err
	}
	if !canPush {
		return fmt.Errorf("%s: %w", repo, workflow.ErrPermission)
	}

	st.Step = workflow.StepRequirements
	st.LastIssueCommentID = latestID
	if err := p.store.Save(repo, issueNumber, st); err != nil {
		return err
	}
	requirements := p.deriveRequirements(ctx, issueContext)

	ws, err := p.clone(ctx, repo)
	if err != nil {
		return err
	}
	defer ws.Close()

	st.Step = workflow.StepAnalyze
	if err := p.store.Save(repo, issueNumber, st); err != nil {
		return err
	}

	files, err := ws.Files()
	if err != nil {
		return err
	}
	repoStructure := structureJSON(files)
	relevantFiles := p.contextBundle(ws, files, requirements, repoStructure)

	if st.Plan == nil {
		plan, err := p.reviewer.GeneratePlan(ctx, requirements, repoStructure, relevantFiles)
		if err != nil {
			return err
		}
		st.Plan = plan
		st.Step = workflow.StepPlan
		if err := p.store.Save(repo, issueNumber, st); err != nil {
			return err
		}
	}

	for st.Iteration < p.cfg.MaxIterations {
		st.Iteration++
		st.Step = workflow.StepApply
		if err := p.store.Save(repo, issueNumber, st); err != nil {
			return err
		}

		err := p.round(ctx, repo, issueNumber, branch, st, ws, requirements, repoStructure, relevantFiles)
		if err == nil {
			return nil
		}
		if isFatal(err) {
			return err
		}
		// A transient round failure is journaled; the loop retries until the
		// iteration budget runs out.
		p.recordError(repo, issueNumber, err, "")
		p.log.Warn("round %d failed for %s#%d: %v", st.Iteration, repo, issueNumber, err)
	}
	return fmt.Errorf("%s#%d: %w (iteration %d)", repo, issueNumber, workflow.ErrIterationExhausted, st.Iteration)
}

// round performs one generate→apply→push→review cycle. A nil return means
// the workflow reached the completed checkpoint.
func (p *Processor) round(
	ctx context.Context,
	repo string,
	issueNumber int,
	branch string,
	st *workflow.State,
	ws output.Workspace,
	requirements, repoStructure, relevantFiles string,
) error {
	generationContext := marshalForPrompt(map[string]any{
		"relevant_files":   json.RawMessage(relevantFiles),
		"plan":             st.Plan,
		"feedback_history": st.FeedbackHistory,
	})
	raw, err := p.agent.GenerateStructured(ctx,
		p.prompts.CodeGeneration(requirements, repoStructure, generationContext), prompt.SystemJSON)
	if err != nil {
		return err
	}
	cs, skipped, err := workflow.DecodeChangeSet(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", jsonx.ErrDecode, err)
	}
	for _, reason := range skipped {
		p.log.Warn("skipping change set entry for %s#%d: %s", repo, issueNumber, reason)
	}

	if err := p.applyChanges(ws, cs); err != nil {
		return err
	}
	if err := p.commitAndPush(ctx, repo, branch, ws, cs); err != nil {
		return err
	}

	prNumber, err := p.createOrUpdatePR(ctx, repo, issueNumber, branch, cs.Message)
	if err != nil {
		return err
	}
	st.PRNumber = prNumber
	st.Step = workflow.StepPR
	if err := p.store.Save(repo, issueNumber, st); err != nil {
		return err
	}

	diff, err := p.host.PullDiff(ctx, repo, prNumber)
	if err != nil {
		return err
	}
	review, err := p.reviewer.ReviewChanges(ctx, requirements, st.Plan, diff, st.FeedbackHistory)
	if err != nil {
		return err
	}
	st.FeedbackHistory = append(st.FeedbackHistory, *review)
	st.LastFeedback = review
	st.Step = workflow.StepFinalReview
	if err := p.store.Save(repo, issueNumber, st); err != nil {
		return err
	}

	if err := p.host.AddComment(ctx, repo, prNumber, review.Comment()); err != nil {
		return err
	}
	st.Step = workflow.StepCompleted
	return p.store.Save(repo, issueNumber, st)
}

// ReviewPull runs the standalone review pass for a published pull request:
// fetch the diff and CI results, ask the model for a verdict, and post it as
// a formal review with a decision event. It touches no workflow state.
func (p *Processor) ReviewPull(ctx context.Context, repo string, prNumber int) error {
	pull, err := p.host.GetPull(ctx, repo, prNumber)
	if err != nil {
		return err
	}
	description := strings.TrimSpace(pull.Body)
	if description == "" {
		description = pull.Title
	}

	diff, err := p.host.PullDiff(ctx, repo, prNumber)
	if err != nil {
		return err
	}
	runs, err := p.host.ListWorkflowRuns(ctx, repo, prNumber)
	if err != nil {
		// CI context is best effort; review the diff alone.
		p.log.Warn("failed to list workflow runs for %s#%d: %v", repo, prNumber, err)
		runs = nil
	}

	verdict, err := p.reviewer.PullVerdict(ctx, description, diff, runs)
	if err != nil {
		return err
	}
	if err := p.host.CreateReview(ctx, repo, prNumber, verdict.Event(), verdict.Body()); err != nil {
		return err
	}
	p.log.Info("posted %s review on %s#%d", verdict.Event(), repo, prNumber)
	return nil
}

// deriveRequirements summarizes the issue context. Any failure or empty
// reply falls back to the raw context so the workflow never dies here.
func (p *Processor) deriveRequirements(ctx context.Context, issueContext string) string {
	reply, err := p.agent.Generate(ctx, p.prompts.RequirementsAnalysis(issueContext), prompt.SystemSummary)
	if err != nil {
		p.log.Warn("requirements analysis failed, using raw issue text: %v", err)
		return issueContext
	}
	if trimmed := strings.TrimSpace(reply); trimmed != "" {
		return trimmed
	}
	return issueContext
}

// contextBundle reads the selected files and packs them as JSON snippets.
// When nothing could be read the structure alone serves as context.
func (p *Processor) contextBundle(ws output.Workspace, files []string, requirements, repoStructure string) string {
	type snippet struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	var snippets []snippet
	for _, path := range selectFiles(files, requirements) {
		content, err := ws.ReadFile(path)
		if err != nil {
			p.log.Warn("failed to read %s: %v", path, err)
			continue
		}
		snippets = append(snippets, snippet{Path: path, Content: truncateContent(content)})
	}
	if len(snippets) == 0 {
		return repoStructure
	}
	return marshalForPrompt(snippets)
}

func (p *Processor) applyChanges(ws output.Workspace, cs *workflow.ChangeSet) error {
	for _, fc := range cs.Files {
		switch fc.Op {
		case workflow.OpModify:
			if err := ws.WriteFile(fc.Path, fc.Content); err != nil {
				return err
			}
		case workflow.OpDelete:
			if err := ws.DeleteFile(fc.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

// commitAndPush publishes the change set through git, falling back to the
// content API when the push is rejected.
func (p *Processor) commitAndPush(ctx context.Context, repo, branch string, ws output.Workspace, cs *workflow.ChangeSet) error {
	if err := ws.EnsureBranch(ctx, branch); err != nil {
		return err
	}
	if err := ws.StageAndCommit(ctx, cs.Paths(), cs.Message); err != nil {
		return err
	}
	pushErr := ws.Push(ctx, branch)
	if pushErr == nil {
		return nil
	}
	p.log.Warn("git push failed (%v); falling back to API commit", pushErr)
	if err := p.host.EnsureBranch(ctx, repo, p.cfg.BaseBranch, branch); err != nil {
		return err
	}
	return p.host.ApplyFileChanges(ctx, repo, branch, cs.Files, cs.Message)
}

func (p *Processor) createOrUpdatePR(ctx context.Context, repo string, issueNumber int, branch, message string) (int, error) {
	title := fmt.Sprintf("Resolve #%d: %s", issueNumber, message)
	body := fmt.Sprintf("Closes #%d", issueNumber)
	owner, _, _ := strings.Cut(repo, "/")
	existing, err := p.host.FindPullByHead(ctx, repo, owner+":"+branch)
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return p.host.UpdatePull(ctx, repo, existing, title, body)
	}
	return p.host.CreatePull(ctx, repo, branch, p.cfg.BaseBranch, title, body)
}

// recordError appends the failure to the journal, best-effort enriched with
// the last persisted checkpoint.
func (p *Processor) recordError(repo string, issueNumber int, err error, trace string) {
	entry := &journal.Entry{
		Repo:      repo,
		Issue:     issueNumber,
		ErrorKind: errKind(err),
		Message:   err.Error(),
		Trace:     trace,
	}
	if st, loadErr := p.store.Load(repo, issueNumber); loadErr == nil && st != nil {
		entry.Iteration = st.Iteration
		entry.Step = st.Step.String()
	}
	if jErr := p.journal.Append(entry); jErr != nil {
		p.log.Error("failed to journal error for %s#%d: %v", repo, issueNumber, jErr)
	}
}

// isFatal reports whether a round error must abort the invocation instead of
// consuming another iteration.
func isFatal(err error) bool {
	return errors.Is(err, jsonx.ErrDecode) ||
		errors.Is(err, workflow.ErrPermission) ||
		errors.Is(err, state.ErrCorruptState) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func errKind(err error) string {
	switch {
	case errors.Is(err, workflow.ErrPermission):
		return "permission"
	case errors.Is(err, workflow.ErrIterationExhausted):
		return "iteration_exhausted"
	case errors.Is(err, jsonx.ErrDecode):
		return "decode"
	case errors.Is(err, state.ErrCorruptState):
		return "corrupt_state"
	default:
		return "unexpected"
	}
}

// buildIssueContext joins the issue body and discussion comments into the
// text the prompts consume.
func buildIssueContext(body string, comments []output.Comment) string {
	var lines []string
	if trimmed := strings.TrimSpace(body); trimmed != "" {
		lines = append(lines, trimmed)
	}
	for _, comment := range comments {
		if text := strings.TrimSpace(comment.Body); text != "" {
			lines = append(lines, "\nCOMMENT:\n"+text)
		}
	}
	return strings.Join(lines, "\n")
}

// structureJSON renders the file list as a nested tree, directories as
// objects and files as null leaves.
func structureJSON(files []string) string {
	tree := map[string]any{}
	for _, path := range files {
		parts := strings.Split(path, "/")
		current := tree
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = nil
	}
	b, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
