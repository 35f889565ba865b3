package ledger

import (
	"errors"
	"fmt"
)

// ErrLedgerLocked is returned when another process holds the ledger lock
var ErrLedgerLocked = errors.New("ledger is locked by another executor")

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("ledger store is closed")

// ConsistencyError signals that a ledger invariant was violated. It is
// never expected under single-writer operation and must halt the run.
type ConsistencyError struct {
	Op     string
	WorkID int64
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency violated in %s (work %d): %s", e.Op, e.WorkID, e.Detail)
}

// IsConsistency reports whether err wraps a ConsistencyError
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
