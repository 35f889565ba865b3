package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"tiershift/internal/ledger"
	"tiershift/internal/metrics"
	"tiershift/internal/relocate"

	"go.uber.org/zap"
)

// ActionError is a phase action failure isolated to one work item
type ActionError struct {
	WorkID int64
	Object ledger.ObjectID
	Phase  ledger.Phase
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s phase %s (work %d): %v", e.Object, e.Phase, e.WorkID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsActionError reports whether err is an isolated action failure
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}

// Executor runs one action per work item and records every attempt in
// both the work queue and the work log.
type Executor struct {
	queue   ledger.WorkQueue
	log     ledger.WorkLog
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewExecutor creates an executor over the given ledger
func NewExecutor(queue ledger.WorkQueue, log ledger.WorkLog, metricsCollector *metrics.Collector, logger *zap.Logger) *Executor {
	return &Executor{
		queue:   queue,
		log:     log,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Execute runs action against task's object. An action failure comes back
// as *ActionError with the item marked failed; any other error is a ledger
// failure and must abort the run. On return the item is never left in
// progress unless the ledger itself failed.
func (e *Executor) Execute(ctx context.Context, task Task, action relocate.Action) error {
	item := task.Item
	logger := e.logger.With(
		zap.Int64("work_id", item.ID),
		zap.String("object", item.Object.String()),
		zap.Stringer("phase", item.Phase),
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.queue.MarkInProgress(ctx, item.ID); err != nil {
		return fmt.Errorf("failed to start work item: %w", err)
	}

	// Bookkeeping after this point must land even if ctx is cancelled.
	book := context.WithoutCancel(ctx)

	logID, err := e.log.OpenEntry(book, item.ID, item.Object, item.Phase)
	if err != nil {
		if markErr := e.queue.MarkFailed(book, item.ID, "failed to open log entry"); markErr != nil {
			logger.Error("Failed to release work item", zap.Error(markErr))
		}
		return fmt.Errorf("failed to open log entry: %w", err)
	}

	startTime := time.Now()
	e.metrics.TaskStarted()
	logger.Debug("Task started")

	actErr := runAction(ctx, action, item.Object)
	elapsed := time.Since(startTime)
	key := ledger.EntryKey{LogID: logID, WorkID: item.ID, Phase: item.Phase}

	if actErr == nil {
		e.metrics.TaskSucceeded(item.Phase, task.SizeBytes, elapsed)
		if err := e.queue.MarkCompleted(book, item.ID); err != nil {
			return fmt.Errorf("failed to complete work item: %w", err)
		}
		if err := e.log.CloseEntry(book, key, ledger.OutcomeSuccess, ""); err != nil {
			return fmt.Errorf("failed to close log entry: %w", err)
		}
		logger.Info("Task completed successfully", zap.Duration("duration", elapsed))
		return nil
	}

	// The run's own cancellation is not a verdict on the object; hand the
	// item back so the next run drives it again.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(actErr, ctxErr) {
		e.metrics.TaskInterrupted(item.Phase, elapsed)
		if err := e.log.CloseEntry(book, key, ledger.OutcomeError, "interrupted"); err != nil {
			return fmt.Errorf("failed to close log entry: %w", err)
		}
		if err := e.queue.ReleaseItem(book, item.ID, "interrupted"); err != nil {
			return fmt.Errorf("failed to release work item: %w", err)
		}
		logger.Warn("Task interrupted", zap.Duration("duration", elapsed))
		return ctxErr
	}

	e.metrics.TaskFailed(item.Phase, task.SizeBytes, elapsed)
	reason := actErr.Error()
	if err := e.queue.MarkFailed(book, item.ID, reason); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	if err := e.log.CloseEntry(book, key, ledger.OutcomeError, reason); err != nil {
		return fmt.Errorf("failed to close log entry: %w", err)
	}
	logger.Error("Task failed", zap.Duration("duration", elapsed), zap.Error(actErr))

	return &ActionError{WorkID: item.ID, Object: item.Object, Phase: item.Phase, Err: actErr}
}

// runAction converts a panicking action into an ordinary failure
func runAction(ctx context.Context, action relocate.Action, obj ledger.ObjectID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return action(ctx, obj)
}
