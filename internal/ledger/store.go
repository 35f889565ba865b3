package ledger

import (
	"context"
	"fmt"
	"time"
)

// Phase identifies one of the two ordered relocation steps
type Phase int

const (
	// PhaseOut moves an object's access path onto the secondary tier
	PhaseOut Phase = 1
	// PhaseBack rebuilds the access path onto the default tier
	PhaseBack Phase = 2
)

func (p Phase) String() string {
	switch p {
	case PhaseOut:
		return "out"
	case PhaseBack:
		return "back"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	return p == PhaseOut || p == PhaseBack
}

// TaskStatus represents the status of a work item
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	// StatusAbandoned is terminal: an operator gave up on a failed item.
	StatusAbandoned TaskStatus = "abandoned"
)

// Outcome is the terminal status of a work log entry
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// ObjectID identifies a relocatable object by namespace and name
type ObjectID struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (o ObjectID) String() string {
	return o.Namespace + "." + o.Name
}

// WorkItem is the current-state row for one (object, phase) pair
type WorkItem struct {
	ID          int64      `json:"id"`
	Object      ObjectID   `json:"object"`
	Phase       Phase      `json:"phase"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	DateAdded   time.Time  `json:"date_added"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// LogEntry records one execution attempt of a work item
type LogEntry struct {
	ID           int64      `json:"id"`
	WorkID       int64      `json:"work_id"`
	Object       ObjectID   `json:"object"`
	Phase        Phase      `json:"phase"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Status       Outcome    `json:"status,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Open reports whether the attempt has not been closed yet
func (e LogEntry) Open() bool {
	return e.EndTime == nil
}

// Snapshot is the as-found structural definition of an object for one run
type Snapshot struct {
	RunID      string    `json:"run_id"`
	Object     ObjectID  `json:"object"`
	Definition string    `json:"definition"`
	CapturedAt time.Time `json:"captured_at"`
}

// Run groups the snapshots taken before a migration started
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// EntryKey selects the open log entry to close. LogID takes precedence
// when set; otherwise the entry is matched by WorkID and Phase.
type EntryKey struct {
	LogID  int64
	WorkID int64
	Phase  Phase
}

// StatusCount is one row of the queue summary
type StatusCount struct {
	Phase  Phase
	Status TaskStatus
	Count  int64
}

// WorkQueue is the durable current-state table of migration tasks
type WorkQueue interface {
	Enqueue(ctx context.Context, obj ObjectID, phase Phase) (bool, error)
	PromotePhase(ctx context.Context, fromPhase Phase, fromStatus TaskStatus, toPhase Phase, toStatus TaskStatus) (int64, error)
	ListPending(ctx context.Context, phase Phase) ([]WorkItem, error)
	List(ctx context.Context, phase Phase) ([]WorkItem, error)
	GetItem(ctx context.Context, id int64) (*WorkItem, error)
	MarkInProgress(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	ReleaseItem(ctx context.Context, id int64, reason string) error

	// Recovery
	ResetInProgress(ctx context.Context) (int64, error)
	RetryFailed(ctx context.Context, phase Phase) (int64, error)
	AbandonFailed(ctx context.Context, phase Phase) (int64, error)
	Summary(ctx context.Context) ([]StatusCount, error)
}

// WorkLog is the append-style audit trail of execution attempts
type WorkLog interface {
	OpenEntry(ctx context.Context, workID int64, obj ObjectID, phase Phase) (int64, error)
	CloseEntry(ctx context.Context, key EntryKey, outcome Outcome, message string) error
	CloseAbandoned(ctx context.Context, message string) (int64, error)
	Entries(ctx context.Context, workID int64) ([]LogEntry, error)
}

// SnapshotStore keeps the per-run ground truth used by verification
type SnapshotStore interface {
	BeginRun(ctx context.Context) (Run, bool, error)
	FinishRun(ctx context.Context, runID string) error
	SaveSnapshot(ctx context.Context, snap Snapshot) (bool, error)
	GetSnapshot(ctx context.Context, runID string, obj ObjectID) (*Snapshot, error)
	Snapshots(ctx context.Context, runID string) ([]Snapshot, error)
}

// Store combines the ledger tables behind one handle
type Store interface {
	WorkQueue
	WorkLog
	SnapshotStore

	Close() error
}
