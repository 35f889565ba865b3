package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tiershift/internal/catalog"
	"tiershift/internal/config"
	"tiershift/internal/ledger"
	"tiershift/internal/metrics"
	"tiershift/internal/progress"
	"tiershift/internal/relocate"
	"tiershift/internal/worker"

	"go.uber.org/zap"
)

// Source is the database being migrated: discovery, scripting and the
// relocation primitive.
type Source interface {
	catalog.Discoverer
	catalog.Scripter
	relocate.Engine
}

// Deps are the collaborators a Migrator runs against
type Deps struct {
	Store   ledger.Store
	Source  Source
	Metrics *metrics.Collector
}

// Options tune a migration run
type Options struct {
	Concurrency   int
	FailurePolicy worker.FailurePolicy
	ShowProgress  bool
	MetricsListen string
}

// Migrator drives the two-phase relocation over a ledger
type Migrator struct {
	opts    Options
	logger  *zap.Logger
	store   ledger.Store
	source  Source
	metrics *metrics.Collector
	closers []func() error
}

// New creates a migrator connected to the configured database and ledger
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Migrator, error) {
	policy, err := worker.ParseFailurePolicy(cfg.Migration.FailurePolicy)
	if err != nil {
		return nil, err
	}

	store, err := ledger.Open(cfg.Migration.Ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	source, err := catalog.Open(ctx, cfg.Database.DSN, cfg.Tiers.Default)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	m := NewWithDeps(Deps{Store: store, Source: source, Metrics: metrics.New()}, Options{
		Concurrency:   cfg.Migration.Concurrency,
		FailurePolicy: policy,
		ShowProgress:  cfg.Migration.ShowProgress,
		MetricsListen: cfg.Metrics.Listen,
	}, logger)
	m.closers = append(m.closers, source.Close, store.Close)
	return m, nil
}

// NewWithDeps creates a migrator over existing collaborators. The caller
// keeps ownership of deps.
func NewWithDeps(deps Deps, opts Options, logger *zap.Logger) *Migrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = worker.PolicyContinue
	}
	return &Migrator{
		opts:    opts,
		logger:  logger,
		store:   deps.Store,
		source:  deps.Source,
		metrics: deps.Metrics,
	}
}

// Run executes one migration invocation: recover, discover, snapshot,
// seed, drain phase one, promote, drain phase two, verify. Per-object
// failures are collected into the report; ledger failures abort with an
// error. An interrupted run returns the partial report with ctx's error.
func (m *Migrator) Run(ctx context.Context, filter Filter, tiers relocate.TierConfig) (*Report, error) {
	m.logger.Info("Starting migration",
		zap.String("secondary_tier", tiers.Secondary),
		zap.String("default_tier", tiers.Default),
		zap.Int("parallelism", tiers.Parallelism),
		zap.Int("concurrency", m.opts.Concurrency),
		zap.String("failure_policy", string(m.opts.FailurePolicy)),
	)

	if m.opts.MetricsListen != "" {
		srv := &http.Server{Addr: m.opts.MetricsListen, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := m.metrics.StartServer(srv); err != nil {
				m.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	populator := NewPopulator(m.source, m.store, m.logger)
	tables, err := populator.Discover(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &Report{Discovered: len(tables)}

	run, resumed, err := m.store.BeginRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	report.RunID, report.Resumed = run.ID, resumed
	logger := m.logger.With(zap.String("run_id", run.ID))
	if resumed {
		logger.Info("Resuming unfinished run", zap.Time("started_at", run.StartedAt))
	}

	if report.Recovered, err = m.recover(ctx, logger); err != nil {
		return report, err
	}

	if err := m.snapshot(ctx, run.ID, tables, logger); err != nil {
		return report, err
	}

	if report.Enqueued, err = populator.Seed(ctx, tables); err != nil {
		return report, err
	}

	sizes := make(map[ledger.ObjectID]int64, len(tables))
	for _, t := range tables {
		sizes[t.ID] = t.SizeBytes
	}

	relocator := relocate.New(m.source, tiers, logger)
	pool := worker.NewPool(worker.Config{
		Concurrency: m.opts.Concurrency,
		Policy:      m.opts.FailurePolicy,
	}, worker.NewExecutor(m.store, m.store, m.metrics, logger), logger)

	first, err := m.drain(ctx, pool, ledger.PhaseOut, relocator.RelocateOut, sizes)
	if err != nil {
		return report, err
	}
	if first.Halted || ctx.Err() != nil {
		return m.finish(ctx, report, run.ID, first.Halted)
	}

	if report.Promoted, err = populator.Promote(ctx); err != nil {
		return report, err
	}

	second, err := m.drain(ctx, pool, ledger.PhaseBack, relocator.RelocateBack, sizes)
	if err != nil {
		return report, err
	}
	report.Succeeded = second.Succeeded
	if second.Halted || ctx.Err() != nil {
		return m.finish(ctx, report, run.ID, second.Halted)
	}

	verifier := NewVerifier(m.source, m.store, logger)
	if report.Mismatches, err = verifier.Verify(ctx, run.ID); err != nil {
		return report, err
	}
	m.metrics.AddMismatches(len(report.Mismatches))

	return m.finish(ctx, report, run.ID, false)
}

// recover returns rows abandoned by an interrupted process to pending and
// closes their dangling log entries.
func (m *Migrator) recover(ctx context.Context, logger *zap.Logger) (int64, error) {
	reset, err := m.store.ResetInProgress(ctx)
	if err != nil {
		return 0, err
	}
	closed, err := m.store.CloseAbandoned(ctx, "abandoned by interrupted run")
	if err != nil {
		return 0, err
	}
	if reset > 0 || closed > 0 {
		logger.Warn("Recovered abandoned work",
			zap.Int64("work_items", reset),
			zap.Int64("log_entries", closed),
		)
	}
	return reset, nil
}

// snapshot captures the definition of every object not yet captured in
// this run. Resumed runs keep their original snapshots.
func (m *Migrator) snapshot(ctx context.Context, runID string, tables []catalog.Table, logger *zap.Logger) error {
	captured := 0
	for _, t := range tables {
		existing, err := m.store.GetSnapshot(ctx, runID, t.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		def, err := m.source.Script(ctx, t.ID)
		if err != nil {
			return &DiscoveryError{Err: fmt.Errorf("failed to script %s: %w", t.ID, err)}
		}
		if _, err := m.store.SaveSnapshot(ctx, ledger.Snapshot{
			RunID:      runID,
			Object:     t.ID,
			Definition: def,
			CapturedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		captured++
	}
	logger.Info("Captured definitions", zap.Int("captured", captured), zap.Int("objects", len(tables)))
	return nil
}

func (m *Migrator) drain(ctx context.Context, pool *worker.Pool, phase ledger.Phase, action relocate.Action, sizes map[ledger.ObjectID]int64) (*worker.Result, error) {
	items, err := m.store.ListPending(ctx, phase)
	if err != nil {
		return nil, err
	}

	tasks := make([]worker.Task, 0, len(items))
	var totalBytes int64
	for _, item := range items {
		size := sizes[item.Object]
		totalBytes += size
		tasks = append(tasks, worker.Task{Item: item, SizeBytes: size})
	}

	m.logger.Info("Draining phase",
		zap.Stringer("phase", phase),
		zap.Int("pending", len(tasks)),
	)
	m.metrics.StartPhase(phase, int64(len(tasks)), totalBytes)

	var display *progress.Display
	if m.opts.ShowProgress && len(tasks) > 0 && progress.IsTerminalSupported() {
		display = progress.NewDisplay(m.metrics.GetProgressTracker(), 2*time.Second)
		display.Start()
	}

	result, err := pool.Drain(ctx, tasks, action)

	if display != nil {
		display.Stop()
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("Phase drained",
		zap.Stringer("phase", phase),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Bool("halted", result.Halted),
	)
	return result, nil
}

// finish collects outstanding failures and closes the run when nothing is
// left to drive.
func (m *Migrator) finish(ctx context.Context, report *Report, runID string, halted bool) (*Report, error) {
	report.Halted = halted

	// Ledger reads after an interrupt must still complete.
	book := context.WithoutCancel(ctx)
	outstanding := false
	for _, phase := range []ledger.Phase{ledger.PhaseOut, ledger.PhaseBack} {
		items, err := m.store.List(book, phase)
		if err != nil {
			return report, err
		}
		for _, item := range items {
			switch item.Status {
			case ledger.StatusFailed:
				report.Failed = append(report.Failed, worker.Failure{
					Object: item.Object,
					Phase:  item.Phase,
					Reason: item.LastError,
				})
				outstanding = true
			case ledger.StatusCompleted, ledger.StatusAbandoned:
			default:
				outstanding = true
			}
		}
	}

	if err := ctx.Err(); err != nil {
		m.logger.Warn("Migration interrupted; rerun to resume", zap.String("run_id", runID))
		return report, err
	}

	if !outstanding && !halted {
		if err := m.store.FinishRun(ctx, runID); err != nil {
			return report, err
		}
		report.Finished = true
	}

	m.logger.Info("Migration completed",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("mismatches", len(report.Mismatches)),
		zap.Bool("finished", report.Finished),
	)
	return report, nil
}

// Close cleans up resources opened by New
func (m *Migrator) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
