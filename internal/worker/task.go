package worker

import (
	"fmt"

	"tiershift/internal/ledger"
)

// Task is one work item scheduled for execution
type Task struct {
	Item      ledger.WorkItem `json:"item"`
	SizeBytes int64           `json:"size_bytes"`
}

// FailurePolicy decides what a drain does after an action fails
type FailurePolicy string

const (
	// PolicyContinue records the failure and moves on to the next task
	PolicyContinue FailurePolicy = "continue"
	// PolicyHalt stops dispatching after the first failure
	PolicyHalt FailurePolicy = "halt"
)

// ParseFailurePolicy parses a policy name; empty means PolicyContinue
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", PolicyContinue:
		return PolicyContinue, nil
	case PolicyHalt:
		return PolicyHalt, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want continue or halt)", s)
	}
}

// Failure is one object whose action failed
type Failure struct {
	Object ledger.ObjectID `json:"object"`
	Phase  ledger.Phase    `json:"phase"`
	Reason string          `json:"reason"`
}

// Result summarizes one drain
type Result struct {
	Succeeded []ledger.ObjectID
	Failed    []Failure
	// Halted is set when dispatch stopped early because of the policy
	Halted bool
}

// Config contains worker configuration
type Config struct {
	Concurrency int
	Policy      FailurePolicy
}
