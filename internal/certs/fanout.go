// Package certs collects TLS certificate inventories from a fleet of hosts
// and bulk-inserts them into a PostgreSQL sink table.
package certs

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Action runs against a single host
type Action func(ctx context.Context, host string) error

// HostError is one host's failure
type HostError struct {
	Host string
	Err  error
}

func (e HostError) Error() string { return fmt.Sprintf("%s: %v", e.Host, e.Err) }

func (e HostError) Unwrap() error { return e.Err }

// FanoutError reports every host that failed, in input order
type FanoutError struct {
	Failures []HostError
}

func (e *FanoutError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d host(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// RunOnEach runs action on every host with at most maxConcurrency in
// flight. A failing host never stops the others; failures are returned
// together as a *FanoutError. Once ctx is done no further hosts are
// started and each skipped host is reported with ctx's error.
func RunOnEach(ctx context.Context, hosts []string, action Action, maxConcurrency int) error {
	if maxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", maxConcurrency)
	}

	var g errgroup.Group
	// Each goroutine owns one slot.
	errs := make([]error, len(hosts))
	g.SetLimit(maxConcurrency)

	for i, host := range hosts {
		i, host := i, host
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			errs[i] = action(ctx, host)
			return nil
		})
	}
	_ = g.Wait()

	var failed []HostError
	for i, err := range errs {
		if err != nil {
			failed = append(failed, HostError{Host: hosts[i], Err: err})
		}
	}
	if len(failed) > 0 {
		return &FanoutError{Failures: failed}
	}
	return nil
}
