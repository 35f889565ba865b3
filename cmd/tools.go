package main

import (
	"fmt"
	"io"
	"time"

	"tiershift/internal/certs"
	"tiershift/internal/config"
	"tiershift/internal/export"
	"tiershift/internal/tablecopy"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Bulk-copy the rows of a query into a table on another database",
	Args:  cobra.NoArgs,
	RunE:  runCopy,
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Collect TLS certificate inventories from a set of hosts",
	Args:  cobra.NoArgs,
	RunE:  runCerts,
}

var exportCmd = &cobra.Command{
	Use:   "export [-- args...]",
	Short: "Run the external export tool against the configured database and S3 path",
	RunE:  runExport,
}

func init() {
	f := copyCmd.Flags()
	f.String("source-dsn", "", "Source connection string (or TIERSHIFT_COPY_SOURCE_DSN)")
	f.String("destination-dsn", "", "Destination connection string (or TIERSHIFT_COPY_DESTINATION_DSN)")
	f.String("query", "", "Query whose rows are copied")
	f.String("destination", "", "Destination table, optionally schema-qualified")
	f.Int("batch-size", defaults.Copy.BatchSize, "Rows per COPY batch")
	f.Duration("timeout", defaults.Copy.Timeout, "Upper bound for the whole copy")

	f = certsCmd.Flags()
	f.StringSlice("host", nil, "Host to collect from, optionally host:port (repeatable)")
	f.Int("port", defaults.Certs.Port, "TLS port for hosts without one")
	f.Int("max-concurrency", defaults.Certs.Concurrency, "Hosts contacted at once")
	f.Duration("timeout", defaults.Certs.Timeout, "Per-host dial timeout")
	f.String("sink-dsn", "", "Write records to this database (or TIERSHIFT_CERTS_SINK_DSN)")
	f.String("sink-table", defaults.Certs.SinkTable, "Sink table, optionally schema-qualified")

	f = exportCmd.Flags()
	f.String("command", defaults.Export.Command, "Export executable")
	f.String("s3-path", "", "Destination, s3://bucket/prefix")
	f.String("s3-endpoint", defaults.Export.S3.Endpoint, "S3-compatible endpoint used for the bucket checks")
	f.Duration("timeout", defaults.Export.Timeout, "Upper bound for the export process")
}

func runCopy(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, config.CommandCopy)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext(log)
	defer cancel()

	rows, err := tablecopy.Run(ctx, cfg.Copy, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Copied %s rows into %s\n", humanize.Comma(rows), cfg.Copy.Destination)
	return nil
}

func runCerts(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, config.CommandCerts)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext(log)
	defer cancel()

	summary, err := certs.Run(ctx, cfg.Certs, log)
	if summary != nil {
		printCerts(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		return err
	}
	if len(summary.Failures) > 0 {
		return &exitCodeError{code: 1}
	}
	return nil
}

func printCerts(w io.Writer, s *certs.Summary) {
	rows := make([][]string, 0, len(s.Records))
	for _, r := range s.Records {
		rows = append(rows, []string{
			fmt.Sprintf("%s:%d", r.Host, r.Port),
			fmt.Sprint(r.Position),
			r.Subject,
			r.NotAfter.Format("2006-01-02"),
			humanize.Time(r.NotAfter),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Host", "#", "Subject", "Expires", ""}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(s.Failures) > 0 {
		rows := make([][]string, 0, len(s.Failures))
		for _, f := range s.Failures {
			rows = append(rows, []string{f.Host, f.Err.Error()})
		}
		fmt.Fprintln(w, "\nUnreachable hosts")
		fmt.Fprintln(w, renderTable([]string{"Host", "Error"}, rows, nil))
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, config.CommandExport)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg.Export.Args = append(cfg.Export.Args, args...)

	ctx, cancel := signalContext(log)
	defer cancel()

	result, err := export.Run(ctx, cfg.Export, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s objects (%s) to %s in %s\n",
		humanize.Comma(result.Objects),
		humanize.IBytes(uint64(result.Bytes)),
		result.Location,
		result.Duration.Round(time.Second),
	)
	return nil
}
