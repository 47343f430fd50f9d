package workflow

// Step identifies the last checkpoint a workflow run has passed.
type Step string

const (
	// StepNone is the zero value for a record that has never been persisted.
	StepNone         Step = ""
	StepRequirements Step = "requirements"
	StepAnalyze      Step = "analyze"
	StepPlan         Step = "plan"
	StepApply        Step = "apply"
	StepPR           Step = "pr"
	StepFinalReview  Step = "final_review"
	StepCompleted    Step = "completed"
	StepRestart      Step = "restart"
)

// ValidSteps defines allowed values for the step field.
var ValidSteps = map[Step]bool{
	StepNone:         true,
	StepRequirements: true,
	StepAnalyze:      true,
	StepPlan:         true,
	StepApply:        true,
	StepPR:           true,
	StepFinalReview:  true,
	StepCompleted:    true,
	StepRestart:      true,
}

// forward lists the in-run transitions of the state machine. Two transitions
// are legal from anywhere and therefore not listed here: StepRestart (a new
// human comment can invalidate any in-flight step) and StepRequirements
// (every invocation re-enters the machine at the requirements checkpoint).
var forward = map[Step][]Step{
	StepNone:         {StepRequirements},
	StepRequirements: {StepAnalyze},
	StepAnalyze:      {StepPlan, StepApply},
	StepPlan:         {StepApply},
	StepApply:        {StepPR},
	StepPR:           {StepFinalReview},
	StepFinalReview:  {StepCompleted, StepApply},
	StepCompleted:    {},
	StepRestart:      {StepRequirements},
}

// CanTransition reports whether moving from one checkpoint to another follows
// the workflow paths.
func CanTransition(from, to Step) bool {
	if !ValidSteps[from] || !ValidSteps[to] {
		return false
	}
	if to == StepRestart || to == StepRequirements {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Step) String() string {
	return string(s)
}
