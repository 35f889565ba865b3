package tablecopy

import (
	"context"
	"fmt"
	"time"

	"tiershift/internal/config"
	"tiershift/internal/pgpool"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Run connects to both databases and copies cfg.SourceQuery into
// cfg.Destination inside a single destination transaction, so a failed
// copy leaves the destination untouched.
func Run(ctx context.Context, cfg config.Copy, logger *zap.Logger) (int64, error) {
	dest, err := pgpool.ParseIdentifier(cfg.Destination)
	if err != nil {
		return 0, err
	}

	src, err := pgpool.Connect(ctx, cfg.SourceDSN, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to source: %w", err)
	}
	defer src.Close()

	dst, err := pgpool.Connect(ctx, cfg.DestinationDSN, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to destination: %w", err)
	}
	defer dst.Close()

	logger.Info("Starting table copy",
		zap.String("destination", dest.Sanitize()),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("timeout", cfg.Timeout),
	)
	start := time.Now()

	tx, err := dst.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin destination transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	copied, err := Copy(ctx, src, tx, Request{
		SourceQuery: cfg.SourceQuery,
		Destination: dest,
		BatchSize:   cfg.BatchSize,
		Timeout:     cfg.Timeout,
	}, logger)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit copy: %w", err)
	}

	logger.Info("Table copy completed",
		zap.String("destination", dest.Sanitize()),
		zap.Int64("rows", copied),
		zap.Duration("duration", time.Since(start)),
	)
	return copied, nil
}

var _ Sink = (pgx.Tx)(nil)
