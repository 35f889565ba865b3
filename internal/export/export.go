package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiershift/internal/config"
	"tiershift/internal/storage"

	"go.uber.org/zap"
)

// ErrBucketNotFound is returned by the preflight check
var ErrBucketNotFound = errors.New("destination bucket does not exist")

// Result describes what the export left in object storage
type Result struct {
	Location storage.Location
	Objects  int64
	Bytes    int64
	Duration time.Duration
}

// Exporter wraps the export process with object storage checks
type Exporter struct {
	runner *Runner
	client storage.Client
	logger *zap.Logger
}

// NewExporter creates an exporter. client may be nil to skip the checks.
func NewExporter(runner *Runner, client storage.Client, logger *zap.Logger) *Exporter {
	return &Exporter{runner: runner, client: client, logger: logger}
}

// Export checks that the destination bucket exists, runs the export
// process and counts the objects written under the destination prefix.
func (e *Exporter) Export(ctx context.Context, p *Payload) (*Result, error) {
	loc, err := storage.ParseS3Path(p.S3BucketPath)
	if err != nil {
		p.ZeroCredentials()
		return nil, err
	}
	result := &Result{Location: loc}

	if e.client != nil {
		exists, err := e.client.BucketExists(ctx, loc.Bucket)
		if err != nil {
			p.ZeroCredentials()
			return nil, fmt.Errorf("failed to check bucket %s: %w", loc.Bucket, err)
		}
		if !exists {
			p.ZeroCredentials()
			return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, loc.Bucket)
		}
	}

	start := time.Now()
	if err := e.runner.Run(ctx, p); err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	if e.client != nil {
		objects, bytes, err := storage.CountObjects(ctx, e.client, loc.Bucket, loc.Prefix)
		if err != nil {
			return result, fmt.Errorf("failed to count exported objects: %w", err)
		}
		result.Objects, result.Bytes = objects, bytes
		e.logger.Info("Counted exported objects",
			zap.Stringer("location", loc),
			zap.Int64("objects", objects),
			zap.Int64("bytes", bytes),
		)
	}
	return result, nil
}

// Run exports using cfg, checking the destination through the configured
// S3 endpoint.
func Run(ctx context.Context, cfg config.Export, logger *zap.Logger) (*Result, error) {
	client, err := storage.NewMinIOClient(storage.Config{
		Endpoint:     cfg.S3.Endpoint,
		Region:       cfg.S3.Region,
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		SessionToken: cfg.S3.SessionToken,
		Secure:       cfg.S3.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	runner := NewRunner(cfg.Command, cfg.Args, cfg.Timeout, logger)
	return NewExporter(runner, client, logger).Export(ctx, PayloadFromConfig(cfg))
}
