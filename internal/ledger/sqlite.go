package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	lock    *flock.Flock
	closed  atomic.Bool
	writeMu sync.Mutex
	now     func() time.Time
}

// Open opens the ledger database at dbPath and takes the single-writer lock
// next to it. A second executor against the same ledger gets ErrLedgerLocked.
func Open(dbPath string) (*SQLiteStore, error) {
	lock := flock.New(dbPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	if !ok {
		return nil, ErrLedgerLocked
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{
		db:   db,
		lock: lock,
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := store.createTables(context.Background()); err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id),
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		definition TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		PRIMARY KEY (run_id, namespace, name)
	);

	CREATE TABLE IF NOT EXISTS work_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		phase INTEGER NOT NULL CHECK (phase IN (1, 2)),
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		date_added TEXT NOT NULL,
		last_updated TEXT,
		UNIQUE (namespace, name, phase)
	);

	CREATE INDEX IF NOT EXISTS idx_work_queue_phase_status ON work_queue(phase, status);

	CREATE TABLE IF NOT EXISTS work_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		work_id INTEGER NOT NULL REFERENCES work_queue(id),
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		phase INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		status TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_work_log_work ON work_log(work_id, phase);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// write serializes writers and retries while SQLite reports busy
func (s *SQLiteStore) write(operation func() error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.retryOnBusy(operation)
}

// Enqueue inserts a pending row unless one exists for (obj, phase)
func (s *SQLiteStore) Enqueue(ctx context.Context, obj ObjectID, phase Phase) (bool, error) {
	if !phase.Valid() {
		return false, fmt.Errorf("invalid phase %d", phase)
	}

	var inserted bool
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx, `
		INSERT INTO work_queue (namespace, name, phase, status, attempts, date_added)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (namespace, name, phase) DO NOTHING`,
			obj.Namespace, obj.Name, int(phase), StatusPending, s.timestamp(),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("enqueue %s phase %d: %w", obj, phase, err)
	}
	return inserted, nil
}

// PromotePhase creates a toPhase row for every fromPhase row in fromStatus
// whose object has no toPhase row yet. Source rows are left untouched so
// the phase history survives; repeated calls promote nothing twice.
func (s *SQLiteStore) PromotePhase(ctx context.Context, fromPhase Phase, fromStatus TaskStatus, toPhase Phase, toStatus TaskStatus) (int64, error) {
	if !fromPhase.Valid() || !toPhase.Valid() || fromPhase == toPhase {
		return 0, fmt.Errorf("invalid promotion %d -> %d", fromPhase, toPhase)
	}

	var promoted int64
	err := s.write(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
		INSERT INTO work_queue (namespace, name, phase, status, attempts, date_added, last_updated)
		SELECT src.namespace, src.name, ?, ?, 0, ?, NULL
		FROM work_queue src
		WHERE src.phase = ? AND src.status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM work_queue dst
			WHERE dst.namespace = src.namespace AND dst.name = src.name AND dst.phase = ?
		  )
		ORDER BY src.id`,
			int(toPhase), toStatus, s.timestamp(),
			int(fromPhase), fromStatus,
			int(toPhase),
		)
		if err != nil {
			return err
		}
		promoted, err = res.RowsAffected()
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("promote phase %d to %d: %w", fromPhase, toPhase, err)
	}
	return promoted, nil
}

const itemColumns = `id, namespace, name, phase, status, attempts, last_error, date_added, last_updated`

// ListPending returns pending items for phase, oldest first
func (s *SQLiteStore) ListPending(ctx context.Context, phase Phase) ([]WorkItem, error) {
	return s.listItems(ctx, `SELECT `+itemColumns+` FROM work_queue WHERE phase = ? AND status = ? ORDER BY id ASC`, int(phase), StatusPending)
}

// List returns every item for phase in id order
func (s *SQLiteStore) List(ctx context.Context, phase Phase) ([]WorkItem, error) {
	return s.listItems(ctx, `SELECT `+itemColumns+` FROM work_queue WHERE phase = ? ORDER BY id ASC`, int(phase))
}

func (s *SQLiteStore) listItems(ctx context.Context, query string, args ...any) ([]WorkItem, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetItem fetches one work item, or nil when it does not exist
func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*WorkItem, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work item %d: %w", id, err)
	}
	return item, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*WorkItem, error) {
	var (
		item        WorkItem
		phase       int
		lastError   sql.NullString
		dateAdded   string
		lastUpdated sql.NullString
	)
	if err := row.Scan(
		&item.ID,
		&item.Object.Namespace,
		&item.Object.Name,
		&phase,
		&item.Status,
		&item.Attempts,
		&lastError,
		&dateAdded,
		&lastUpdated,
	); err != nil {
		return nil, err
	}

	item.Phase = Phase(phase)
	item.LastError = lastError.String
	added, err := parseTime(dateAdded)
	if err != nil {
		return nil, err
	}
	item.DateAdded = added
	if item.LastUpdated, err = parseNullTime(lastUpdated); err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkInProgress claims a pending or failed item for one attempt
func (s *SQLiteStore) MarkInProgress(ctx context.Context, id int64) error {
	return s.transition(ctx, "MarkInProgress", id,
		`UPDATE work_queue SET status = ?, attempts = attempts + 1, last_updated = ?
		 WHERE id = ? AND status IN (?, ?)`,
		StatusInProgress, s.timestamp(), id, StatusPending, StatusFailed,
	)
}

// MarkCompleted finishes an in-progress item
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.transition(ctx, "MarkCompleted", id,
		`UPDATE work_queue SET status = ?, last_error = NULL, last_updated = ?
		 WHERE id = ? AND status = ?`,
		StatusCompleted, s.timestamp(), id, StatusInProgress,
	)
}

// MarkFailed records a failed attempt on an in-progress item
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.transition(ctx, "MarkFailed", id,
		`UPDATE work_queue SET status = ?, last_error = ?, last_updated = ?
		 WHERE id = ? AND status = ?`,
		StatusFailed, reason, s.timestamp(), id, StatusInProgress,
	)
}

// ReleaseItem hands an interrupted in-progress item back to pending without
// counting the attempt as a failure.
func (s *SQLiteStore) ReleaseItem(ctx context.Context, id int64, reason string) error {
	return s.transition(ctx, "ReleaseItem", id,
		`UPDATE work_queue SET status = ?, last_error = ?, last_updated = ?
		 WHERE id = ? AND status = ?`,
		StatusPending, reason, s.timestamp(), id, StatusInProgress,
	)
}

// transition runs a guarded single-row update; a miss means the row was
// not in the expected source status.
func (s *SQLiteStore) transition(ctx context.Context, op string, id int64, query string, args ...any) error {
	return s.write(func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s %d: %w", op, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%s %d: %w", op, id, err)
		}
		if n != 1 {
			return &ConsistencyError{Op: op, WorkID: id, Detail: "work item not in expected status"}
		}
		return nil
	})
}

// ResetInProgress returns abandoned in-progress rows to pending. It must
// only run while no executor is active, which the ledger lock guarantees.
func (s *SQLiteStore) ResetInProgress(ctx context.Context) (int64, error) {
	var n int64
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE work_queue SET status = ?, last_updated = ? WHERE status = ?`,
			StatusPending, s.timestamp(), StatusInProgress,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset in-progress items: %w", err)
	}
	return n, nil
}

// RetryFailed moves failed items of phase back to pending
func (s *SQLiteStore) RetryFailed(ctx context.Context, phase Phase) (int64, error) {
	var n int64
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE work_queue SET status = ?, last_updated = ? WHERE phase = ? AND status = ?`,
			StatusPending, s.timestamp(), int(phase), StatusFailed,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	return n, nil
}

// AbandonFailed retires failed items of phase so the open run can finish.
// Abandoned items are never driven or promoted again.
func (s *SQLiteStore) AbandonFailed(ctx context.Context, phase Phase) (int64, error) {
	var n int64
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE work_queue SET status = ?, last_updated = ? WHERE phase = ? AND status = ?`,
			StatusAbandoned, s.timestamp(), int(phase), StatusFailed,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("abandon failed items: %w", err)
	}
	return n, nil
}

// Summary counts items per phase and status
func (s *SQLiteStore) Summary(ctx context.Context) ([]StatusCount, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, status, COUNT(*) FROM work_queue GROUP BY phase, status ORDER BY phase, status`)
	if err != nil {
		return nil, fmt.Errorf("summarize queue: %w", err)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		var phase int
		if err := rows.Scan(&phase, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		c.Phase = Phase(phase)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// OpenEntry starts a new attempt record
func (s *SQLiteStore) OpenEntry(ctx context.Context, workID int64, obj ObjectID, phase Phase) (int64, error) {
	var id int64
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx, `
		INSERT INTO work_log (work_id, namespace, name, phase, start_time)
		VALUES (?, ?, ?, ?, ?)`,
			workID, obj.Namespace, obj.Name, int(phase), s.timestamp(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("open log entry for work %d: %w", workID, err)
	}
	return id, nil
}

// CloseEntry closes the single open entry matching key. Zero or several
// open matches is a ConsistencyError.
func (s *SQLiteStore) CloseEntry(ctx context.Context, key EntryKey, outcome Outcome, message string) error {
	return s.write(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var rows *sql.Rows
		if key.LogID != 0 {
			rows, err = tx.QueryContext(ctx,
				`SELECT id FROM work_log WHERE id = ? AND end_time IS NULL`, key.LogID)
		} else {
			rows, err = tx.QueryContext(ctx,
				`SELECT id FROM work_log WHERE work_id = ? AND phase = ? AND end_time IS NULL`,
				key.WorkID, int(key.Phase))
		}
		if err != nil {
			return fmt.Errorf("find open log entry: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if len(ids) != 1 {
			return &ConsistencyError{
				Op:     "CloseEntry",
				WorkID: key.WorkID,
				Detail: fmt.Sprintf("expected exactly one open log entry, found %d", len(ids)),
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE work_log SET end_time = ?, status = ?, error_message = ? WHERE id = ?`,
			s.timestamp(), outcome, nullableString(message), ids[0],
		); err != nil {
			return fmt.Errorf("close log entry %d: %w", ids[0], err)
		}
		return tx.Commit()
	})
}

// CloseAbandoned closes entries left open by a crashed process
func (s *SQLiteStore) CloseAbandoned(ctx context.Context, message string) (int64, error) {
	var n int64
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE work_log SET end_time = ?, status = ?, error_message = ? WHERE end_time IS NULL`,
			s.timestamp(), OutcomeError, message,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("close abandoned log entries: %w", err)
	}
	return n, nil
}

// Entries returns the attempt history of a work item, oldest first
func (s *SQLiteStore) Entries(ctx context.Context, workID int64) ([]LogEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, work_id, namespace, name, phase, start_time, end_time, status, error_message
	FROM work_log WHERE work_id = ? ORDER BY id ASC`, workID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			phase   int
			start   string
			end     sql.NullString
			status  sql.NullString
			message sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.WorkID, &e.Object.Namespace, &e.Object.Name, &phase, &start, &end, &status, &message); err != nil {
			return nil, err
		}
		e.Phase = Phase(phase)
		e.Status = Outcome(status.String)
		e.ErrorMessage = message.String
		if e.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		if e.EndTime, err = parseNullTime(end); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BeginRun resumes the latest unfinished run or starts a new one. The
// boolean reports whether an existing run was resumed.
func (s *SQLiteStore) BeginRun(ctx context.Context) (Run, bool, error) {
	if err := s.checkOpen(); err != nil {
		return Run{}, false, err
	}

	var id, started string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at FROM runs WHERE finished_at IS NULL ORDER BY started_at DESC LIMIT 1`,
	).Scan(&id, &started)
	if err == nil {
		startedAt, perr := parseTime(started)
		if perr != nil {
			return Run{}, false, perr
		}
		return Run{ID: id, StartedAt: startedAt}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, fmt.Errorf("find unfinished run: %w", err)
	}

	run := Run{ID: uuid.NewString(), StartedAt: s.now().UTC()}
	err = s.write(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
			run.ID, run.StartedAt.Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return Run{}, false, fmt.Errorf("insert run: %w", err)
	}
	return run, false, nil
}

// FinishRun marks a run as complete
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string) error {
	return s.write(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ? WHERE id = ? AND finished_at IS NULL`,
			s.timestamp(), runID,
		)
		if err != nil {
			return fmt.Errorf("finish run %s: %w", runID, err)
		}
		return nil
	})
}

// SaveSnapshot stores the as-found definition once per run and object.
// Later captures for the same key are ignored.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) (bool, error) {
	var inserted bool
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, namespace, name, definition, captured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, namespace, name) DO NOTHING`,
			snap.RunID, snap.Object.Namespace, snap.Object.Name, snap.Definition,
			snap.CapturedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("save snapshot %s: %w", snap.Object, err)
	}
	return inserted, nil
}

// GetSnapshot returns the snapshot for obj in run, or nil
func (s *SQLiteStore) GetSnapshot(ctx context.Context, runID string, obj ObjectID) (*Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
	SELECT run_id, namespace, name, definition, captured_at
	FROM snapshots WHERE run_id = ? AND namespace = ? AND name = ?`,
		runID, obj.Namespace, obj.Name)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", obj, err)
	}
	return snap, nil
}

// Snapshots lists the snapshots of a run ordered by object
func (s *SQLiteStore) Snapshots(ctx context.Context, runID string) ([]Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT run_id, namespace, name, definition, captured_at
	FROM snapshots WHERE run_id = ? ORDER BY namespace, name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var snap Snapshot
	var captured string
	if err := row.Scan(&snap.RunID, &snap.Object.Namespace, &snap.Object.Name, &snap.Definition, &captured); err != nil {
		return nil, err
	}
	t, err := parseTime(captured)
	if err != nil {
		return nil, err
	}
	snap.CapturedAt = t
	return &snap, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) && attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
			continue
		}

		return err
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Close closes the database connection and releases the ledger lock
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = fmt.Errorf("release ledger lock: %w", unlockErr)
	}
	return err
}
