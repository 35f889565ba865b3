package main

import (
	"context"
	"fmt"
	"io"

	"tiershift/internal/config"
	"tiershift/internal/ledger"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show work queue counts per phase and status",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Return failed work items to pending so the next run retries them",
	Long: `Return failed work items to pending so the next run retries them.

With --abandon the failed items are retired instead. Abandoned items are
never driven or promoted again, which lets an open run finish when an
object can no longer be relocated (for example a dropped table).`,
	Args:  cobra.NoArgs,
	RunE:  retryFailed,
}

func init() {
	statusCmd.Flags().String("ledger", defaults.Migration.Ledger, "Ledger database file")

	retryCmd.Flags().String("ledger", defaults.Migration.Ledger, "Ledger database file")
	retryCmd.Flags().Int("phase", 0, "Phase to retry (1 or 2); 0 retries both")
	retryCmd.Flags().Bool("abandon", false, "Give up on failed items instead of retrying them")
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, config.CommandStatus)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := ledger.Open(cfg.Migration.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	counts, err := store.Summary(cmd.Context())
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), counts)
	return nil
}

func printStatus(w io.Writer, counts []ledger.StatusCount) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "Work queue is empty.")
		return
	}
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.Phase.String(), string(c.Status), humanize.Comma(c.Count)})
	}
	fmt.Fprintln(w, renderTable([]string{"Phase", "Status", "Items"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
}

func retryFailed(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, config.CommandStatus)
	if err != nil {
		return err
	}
	defer log.Sync()

	phases := []ledger.Phase{ledger.PhaseOut, ledger.PhaseBack}
	if p, _ := cmd.Flags().GetInt("phase"); p != 0 {
		phase := ledger.Phase(p)
		if !phase.Valid() {
			return fmt.Errorf("invalid phase %d", p)
		}
		phases = []ledger.Phase{phase}
	}

	store, err := ledger.Open(cfg.Migration.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	abandon, _ := cmd.Flags().GetBool("abandon")
	return resolveFailed(cmd.Context(), store, phases, abandon, log)
}

func resolveFailed(ctx context.Context, store ledger.WorkQueue, phases []ledger.Phase, abandon bool, log *zap.Logger) error {
	for _, phase := range phases {
		if abandon {
			n, err := store.AbandonFailed(ctx, phase)
			if err != nil {
				return err
			}
			log.Warn("Abandoned failed items", zap.Stringer("phase", phase), zap.Int64("items", n))
			continue
		}
		n, err := store.RetryFailed(ctx, phase)
		if err != nil {
			return err
		}
		log.Info("Reset failed items to pending", zap.Stringer("phase", phase), zap.Int64("items", n))
	}
	return nil
}
