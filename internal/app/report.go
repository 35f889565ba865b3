package app

import (
	"tiershift/internal/ledger"
	"tiershift/internal/worker"
)

// Report is the outcome of one migration invocation
type Report struct {
	RunID   string `json:"run_id"`
	Resumed bool   `json:"resumed"`

	// Recovered counts in-progress rows reset after an interrupted run
	Recovered int64 `json:"recovered"`

	Discovered int   `json:"discovered"`
	Enqueued   int   `json:"enqueued"`
	Promoted   int64 `json:"promoted"`

	// Succeeded lists objects that finished both phases in this invocation
	Succeeded []ledger.ObjectID `json:"succeeded"`
	// Failed lists every work item currently failed in the ledger
	Failed     []worker.Failure `json:"failed"`
	Mismatches []Mismatch       `json:"mismatches"`

	Halted   bool `json:"halted"`
	Finished bool `json:"finished"`
}

// Exit codes reported by the run command
const (
	ExitOK       = 0
	ExitFailures = 1
	ExitMismatch = 2
)

// ExitCode maps the report to a process exit code. Mismatches take
// precedence because they need manual review.
func (r *Report) ExitCode() int {
	switch {
	case len(r.Mismatches) > 0:
		return ExitMismatch
	case len(r.Failed) > 0 || r.Halted:
		return ExitFailures
	default:
		return ExitOK
	}
}
