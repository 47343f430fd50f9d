package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// State is the durable record for one (repository, issue) pair. The store
// overwrites the whole record on every save; callers mutate a loaded copy and
// persist it back, so the record always reflects the last checkpoint reached.
type State struct {
	Iteration          int              `json:"iteration"`
	PRNumber           int              `json:"pr_number,omitempty"`
	Step               Step             `json:"step"`
	Plan               *Plan            `json:"plan,omitempty"`
	FeedbackHistory    []ReviewFeedback `json:"feedback_history,omitempty"`
	LastIssueCommentID int64            `json:"last_issue_comment_id,omitempty"`
	LastFeedback       *ReviewFeedback  `json:"last_feedback,omitempty"`

	// CommentDecision is an audit trail of the most recent restart decision.
	CommentDecision *RestartDecision `json:"comment_decision,omitempty"`

	UpdatedAt string `json:"updated_at,omitempty"`
}

// NewState returns a fresh record for a first invocation.
func NewState() *State {
	return &State{}
}

// Restart discards accumulated plan and feedback because a new human comment
// changed the scope of the work. The triggering decision is kept for audit.
func (s *State) Restart(decision *RestartDecision) {
	s.Iteration = 0
	s.Plan = nil
	s.FeedbackHistory = nil
	s.LastFeedback = nil
	s.Step = StepRestart
	s.CommentDecision = decision
}

// Plan is the model-produced description of intended changes. It is generated
// once per cycle and immutable until a restart clears it.
type Plan struct {
	Summary            string   `json:"summary"`
	Steps              []string `json:"plan,omitempty"`
	FilesToModify      []string `json:"files_to_modify,omitempty"`
	FilesToAvoid       []string `json:"files_to_avoid,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
}

// ReviewTask is a single actionable item from a review round.
type ReviewTask struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ReviewFeedback is the structured assessment of one applied change set.
// Entries are appended to the feedback history and never mutated.
type ReviewFeedback struct {
	Summary      string       `json:"summary"`
	Tasks        []ReviewTask `json:"tasks,omitempty"`
	FinalComment string       `json:"final_comment,omitempty"`
}

// Comment renders the feedback as a human-readable PR comment. The final
// comment wins when the model provided one; otherwise the summary and task
// list are flattened into bullet points.
func (f *ReviewFeedback) Comment() string {
	if f.FinalComment != "" {
		return f.FinalComment
	}
	var lines []string
	if s := strings.TrimSpace(f.Summary); s != "" {
		lines = append(lines, s)
	}
	for _, task := range f.Tasks {
		switch {
		case task.File != "" && task.Line > 0:
			lines = append(lines, fmt.Sprintf("- %s (%s:%d)", task.Message, task.File, task.Line))
		default:
			lines = append(lines, "- "+task.Message)
		}
	}
	if len(lines) == 0 {
		return "Review completed."
	}
	return strings.Join(lines, "\n")
}

// RestartDecision records whether a new human comment invalidates the
// in-flight plan. It is computed fresh for every unseen comment.
type RestartDecision struct {
	Restart bool   `json:"restart"`
	Summary string `json:"summary,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ErrPermission indicates the configured token has no write access to the
// target repository. Fatal; the workflow aborts before any mutation.
var ErrPermission = errors.New("no push permission for repository")

// ErrIterationExhausted indicates the configured maximum number of rounds has
// been reached. Fatal for the invocation; the persisted state stays resumable.
var ErrIterationExhausted = errors.New("maximum iterations reached")
