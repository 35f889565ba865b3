package worker

import (
	"context"
	"errors"
	"sync"

	"tiershift/internal/relocate"

	"go.uber.org/zap"
)

// Pool drains tasks through an executor with a bounded number of workers
type Pool struct {
	size     int
	policy   FailurePolicy
	executor *Executor
	logger   *zap.Logger
}

// NewPool creates a new worker pool. A size below one runs sequentially.
func NewPool(config Config, executor *Executor, logger *zap.Logger) *Pool {
	size := config.Concurrency
	if size < 1 {
		size = 1
	}
	policy := config.Policy
	if policy == "" {
		policy = PolicyContinue
	}
	return &Pool{
		size:     size,
		policy:   policy,
		executor: executor,
		logger:   logger,
	}
}

// Drain executes tasks in the given order. Action failures are collected
// into the result; the returned error is set only for ledger failures,
// which stop dispatch immediately. Cancelling ctx also stops dispatch and
// is not reported as an error; tasks not yet started stay pending.
func (p *Pool) Drain(ctx context.Context, tasks []Task, action relocate.Action) (*Result, error) {
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	taskCh := make(chan Task)
	var (
		mu       sync.Mutex
		result   = &Result{}
		fatalErr error
		wg       sync.WaitGroup
	)

	record := func(task Task, err error) {
		mu.Lock()
		defer mu.Unlock()

		var actionErr *ActionError
		switch {
		case err == nil:
			result.Succeeded = append(result.Succeeded, task.Item.Object)
		case errors.As(err, &actionErr):
			result.Failed = append(result.Failed, Failure{
				Object: task.Item.Object,
				Phase:  task.Item.Phase,
				Reason: actionErr.Err.Error(),
			})
			if p.policy == PolicyHalt {
				result.Halted = true
				stopDispatch()
			}
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			// Interrupted before the item was claimed
		default:
			if fatalErr == nil {
				fatalErr = err
			}
			stopDispatch()
		}
	}

	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, dispatchCtx, i, taskCh, record, action, &wg)
	}

dispatch:
	for _, task := range tasks {
		select {
		case taskCh <- task:
		case <-dispatchCtx.Done():
			break dispatch
		}
	}
	close(taskCh)
	wg.Wait()

	return result, fatalErr
}

func (p *Pool) worker(ctx, dispatchCtx context.Context, id int, tasks <-chan Task, record func(Task, error), action relocate.Action, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for task := range tasks {
		if dispatchCtx.Err() != nil {
			continue
		}
		record(task, p.executor.Execute(ctx, task, action))
	}
	logger.Debug("Worker finished - no more tasks")
}
