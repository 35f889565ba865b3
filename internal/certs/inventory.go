package certs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tiershift/internal/config"
	"tiershift/internal/pgpool"

	"go.uber.org/zap"
)

// Summary is the outcome of one inventory run
type Summary struct {
	Hosts    int
	Records  []CertRecord
	Failures []HostError
	Written  int64
}

// Collect runs the collector over every host and gathers the records of
// the hosts that answered. Host failures land in the summary.
func Collect(ctx context.Context, collector *Collector, hosts []string, maxConcurrency int, logger *zap.Logger) (*Summary, error) {
	summary := &Summary{Hosts: len(hosts)}
	var mu sync.Mutex

	err := RunOnEach(ctx, hosts, func(ctx context.Context, host string) error {
		start := time.Now()
		records, err := collector.Collect(ctx, host)
		if err != nil {
			logger.Warn("Failed to collect certificates", zap.String("host", host), zap.Error(err))
			return err
		}
		logger.Debug("Collected certificates",
			zap.String("host", host),
			zap.Int("certificates", len(records)),
			zap.Duration("duration", time.Since(start)),
		)
		mu.Lock()
		summary.Records = append(summary.Records, records...)
		mu.Unlock()
		return nil
	}, maxConcurrency)

	var fanout *FanoutError
	switch {
	case err == nil:
	case errors.As(err, &fanout):
		summary.Failures = fanout.Failures
	default:
		return nil, err
	}
	return summary, nil
}

// Run collects certificates from cfg.Hosts and writes them to the sink
// table when a sink DSN is configured.
func Run(ctx context.Context, cfg config.Certs, logger *zap.Logger) (*Summary, error) {
	logger.Info("Collecting certificate inventory",
		zap.Int("hosts", len(cfg.Hosts)),
		zap.Int("max_concurrency", cfg.Concurrency),
	)

	summary, err := Collect(ctx, NewCollector(cfg.Port, cfg.Timeout), cfg.Hosts, cfg.Concurrency, logger)
	if err != nil {
		return nil, err
	}

	if cfg.SinkDSN != "" {
		table, err := pgpool.ParseIdentifier(cfg.SinkTable)
		if err != nil {
			return summary, err
		}
		pool, err := pgpool.Connect(ctx, cfg.SinkDSN, 1)
		if err != nil {
			return summary, fmt.Errorf("failed to connect to sink: %w", err)
		}
		defer pool.Close()

		sink := NewSink(pool, table)
		if err := sink.EnsureTable(ctx); err != nil {
			return summary, err
		}
		if summary.Written, err = sink.Write(ctx, summary.Records); err != nil {
			return summary, err
		}
	}

	logger.Info("Certificate inventory completed",
		zap.Int("hosts", summary.Hosts),
		zap.Int("failed_hosts", len(summary.Failures)),
		zap.Int("certificates", len(summary.Records)),
		zap.Int64("written", summary.Written),
	)
	return summary, nil
}
