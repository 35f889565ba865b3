package app

import (
	"context"
	"fmt"
	"slices"

	"tiershift/internal/catalog"
	"tiershift/internal/ledger"

	"go.uber.org/zap"
)

// Filter selects which discovered tables are migrated
type Filter struct {
	MinSizeBytes   int64
	IncludeSchemas []string
	ExcludeSchemas []string
	// Predicate, when set, must also accept the table
	Predicate func(catalog.Table) bool
}

// Match reports whether t passes every configured condition
func (f Filter) Match(t catalog.Table) bool {
	if t.SizeBytes < f.MinSizeBytes {
		return false
	}
	if len(f.IncludeSchemas) > 0 && !slices.Contains(f.IncludeSchemas, t.ID.Namespace) {
		return false
	}
	if slices.Contains(f.ExcludeSchemas, t.ID.Namespace) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(t) {
		return false
	}
	return true
}

// DiscoveryError means candidate objects could not be enumerated
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Populator discovers objects and seeds and promotes work queue rows
type Populator struct {
	discoverer catalog.Discoverer
	queue      ledger.WorkQueue
	logger     *zap.Logger
}

// NewPopulator creates a populator
func NewPopulator(discoverer catalog.Discoverer, queue ledger.WorkQueue, logger *zap.Logger) *Populator {
	return &Populator{discoverer: discoverer, queue: queue, logger: logger}
}

// Discover lists the tables accepted by filter
func (p *Populator) Discover(ctx context.Context, filter Filter) ([]catalog.Table, error) {
	tables, err := p.discoverer.Discover(ctx)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}

	var (
		selected   []catalog.Table
		totalBytes int64
	)
	for _, t := range tables {
		if !filter.Match(t) {
			continue
		}
		selected = append(selected, t)
		totalBytes += t.SizeBytes
	}

	p.logger.Info("Finished discovering objects",
		zap.Int("discovered", len(tables)),
		zap.Int("selected", len(selected)),
		zap.Int64("total_size_bytes", totalBytes),
	)
	return selected, nil
}

// Seed enqueues phase one for every table. Existing rows are left alone.
func (p *Populator) Seed(ctx context.Context, tables []catalog.Table) (int, error) {
	inserted := 0
	for _, t := range tables {
		ok, err := p.queue.Enqueue(ctx, t.ID, ledger.PhaseOut)
		if err != nil {
			return inserted, fmt.Errorf("failed to enqueue %s: %w", t.ID, err)
		}
		if ok {
			inserted++
			p.logger.Debug("Enqueued object", zap.String("object", t.ID.String()))
		}
	}
	return inserted, nil
}

// Promote creates pending phase two rows for completed phase one rows
func (p *Populator) Promote(ctx context.Context) (int64, error) {
	n, err := p.queue.PromotePhase(ctx, ledger.PhaseOut, ledger.StatusCompleted, ledger.PhaseBack, ledger.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to promote phase: %w", err)
	}
	p.logger.Info("Promoted completed objects", zap.Int64("promoted", n))
	return n, nil
}
