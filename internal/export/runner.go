package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ExitError is a non-zero exit of the export process
type ExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("export command %s exited with code %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner starts the export process
type Runner struct {
	Command string
	Args    []string
	Timeout time.Duration
	Stdout  io.Writer
	Stderr  io.Writer

	logger *zap.Logger
}

// NewRunner creates a runner for command whose output goes to stderr
func NewRunner(command string, args []string, timeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		Command: command,
		Args:    args,
		Timeout: timeout,
		Stdout:  os.Stderr,
		Stderr:  os.Stderr,
		logger:  logger,
	}
}

// Run validates p, starts the process with p in its DUCKDB_CONFIG
// variable and waits for it. The parent environment is not modified.
// p's credentials and the encoded payload are zeroed before Run returns,
// whatever the outcome.
func (r *Runner) Run(ctx context.Context, p *Payload) error {
	defer p.ZeroCredentials()

	data, err := p.Encode()
	if err != nil {
		return err
	}
	defer clear(data)

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Env = append(os.Environ(), EnvVar+"="+string(data))
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.WaitDelay = 10 * time.Second

	r.logger.Info("Starting export process",
		zap.String("command", r.Command),
		zap.String("database", p.Database),
		zap.String("destination", p.S3BucketPath),
	)
	start := time.Now()

	err = cmd.Run()
	// The child's copy of the environment is no longer needed.
	cmd.Env = nil
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("export command %s: %w", r.Command, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Command: r.Command, Code: exitErr.ExitCode(), Err: err}
		}
		return fmt.Errorf("failed to start export command %s: %w", r.Command, err)
	}

	r.logger.Info("Export process completed", zap.Duration("duration", time.Since(start)))
	return nil
}
