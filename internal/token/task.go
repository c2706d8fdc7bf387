package token

// TaskSpec is the already-validated, in-memory form of a funded work
// unit. Definition-file parsing and scheduling happen outside the core;
// the engines only consume this record.
type TaskSpec struct {
	ID              string
	Type            string
	FundedBy        string
	RewardAmount    Amount
	QualityBonus    Amount
	ValidatorReward Amount

	// MinQuality downgrades a passed verdict whose quality score falls
	// below it. Zero disables the floor.
	MinQuality float64
}

// IsFree reports whether the task carries no token reward. Free tasks
// still update reputation, with a dampened delta.
func (t *TaskSpec) IsFree() bool { return t.RewardAmount <= 0 }

// TotalEscrow is the full amount locked for the task: reward plus
// validator reward.
func (t *TaskSpec) TotalEscrow() Amount {
	return t.RewardAmount + t.ValidatorReward
}

// TaskResult is what an executing agent hands back. Agent execution is
// an external capability; the core only sees this record.
type TaskResult struct {
	TaskID  string
	Agent   string
	Success bool
	Title   string
	Summary string
	Output  string
}

// Verdict is a validator's judgement of a task result.
type Verdict struct {
	Passed       bool
	QualityScore float64
	Feedback     string
}

// Executor runs a task. Resolved by the orchestrator per task type;
// the core never inspects agent internals.
type Executor interface {
	Execute(task *TaskSpec) (*TaskResult, error)
}

// Validator reviews a task result and returns a verdict.
type Validator interface {
	Verify(task *TaskSpec, result *TaskResult) (*Verdict, error)
}
