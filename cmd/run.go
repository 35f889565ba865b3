package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"tiershift/internal/app"
	"tiershift/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Relocate tables to the secondary tier and back, resuming any unfinished run",
	Args:  cobra.NoArgs,
	RunE:  runMigration,
}

func init() {
	f := runCmd.Flags()
	f.String("dsn", "", "PostgreSQL connection string (or TIERSHIFT_DATABASE_DSN)")
	f.String("ledger", defaults.Migration.Ledger, "Ledger database file")
	f.String("secondary-tier", "", "Tablespace tables are moved to in phase one (required)")
	f.String("default-tier", defaults.Tiers.Default, "Tablespace tables are moved back to in phase two")
	f.Int("parallelism", defaults.Tiers.Parallelism, "max_parallel_maintenance_workers for index rebuilds")
	f.Int("concurrency", defaults.Migration.Concurrency, "Number of tables relocated at once")
	f.String("failure-policy", defaults.Migration.FailurePolicy, "On a failed table: continue or halt")
	f.Int64("min-size", 0, "Skip tables smaller than this many bytes")
	f.StringSlice("include-schema", nil, "Only migrate tables in these schemas")
	f.StringSlice("exclude-schema", nil, "Never migrate tables in these schemas")
	f.Bool("show-progress", defaults.Migration.ShowProgress, "Show progress display on a terminal")
	f.String("metrics-listen", "", "Serve Prometheus metrics on this address")
	f.Bool("json", false, "Print the report as JSON")
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, config.CommandRun)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext(log)
	defer cancel()

	migrator, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	filter := app.Filter{
		MinSizeBytes:   cfg.Migration.MinSizeBytes,
		IncludeSchemas: cfg.Migration.IncludeSchemas,
		ExcludeSchemas: cfg.Migration.ExcludeSchemas,
	}
	report, runErr := migrator.Run(ctx, filter, cfg.Tiers)

	// Close migrator resources after migration completes or is cancelled
	if closeErr := migrator.Close(); closeErr != nil {
		log.Error("Error closing migrator", zap.Error(closeErr))
	}

	if report != nil {
		asJSON, _ := cmd.Flags().GetBool("json")
		if err := printReport(cmd.OutOrStdout(), report, asJSON); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if code := report.ExitCode(); code != app.ExitOK {
		return &exitCodeError{code: code}
	}
	return nil
}

func printReport(w io.Writer, r *app.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintln(w, renderTable(
		[]string{"Run", "Resumed", "Discovered", "Enqueued", "Promoted", "Succeeded", "Failed", "Mismatches", "Finished"},
		[][]string{{
			r.RunID,
			strconv.FormatBool(r.Resumed),
			humanize.Comma(int64(r.Discovered)),
			humanize.Comma(int64(r.Enqueued)),
			humanize.Comma(r.Promoted),
			humanize.Comma(int64(len(r.Succeeded))),
			humanize.Comma(int64(len(r.Failed))),
			humanize.Comma(int64(len(r.Mismatches))),
			strconv.FormatBool(r.Finished),
		}},
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))

	if len(r.Failed) > 0 {
		rows := make([][]string, 0, len(r.Failed))
		for _, f := range r.Failed {
			rows = append(rows, []string{f.Object.String(), f.Phase.String(), f.Reason})
		}
		fmt.Fprintln(w, "\nFailed")
		fmt.Fprintln(w, renderTable([]string{"Object", "Phase", "Reason"}, rows, nil))
	}

	if len(r.Mismatches) > 0 {
		rows := make([][]string, 0, len(r.Mismatches))
		for _, m := range r.Mismatches {
			rows = append(rows, []string{m.Object.String(), m.Reason})
		}
		fmt.Fprintln(w, "\nDefinition mismatches (review manually)")
		fmt.Fprintln(w, renderTable([]string{"Object", "Difference"}, rows, nil))
	}

	if r.Halted {
		fmt.Fprintln(w, "\nRun halted after a failure; rerun to resume.")
	}
	return nil
}
