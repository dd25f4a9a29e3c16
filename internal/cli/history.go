package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/benengr/bbb-programmer/internal/ledger"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent uploads from the ingest ledger",
	Long: `List recent uploads recorded in the ingest ledger, newest first.

Examples:
  bbb-programmer history
  bbb-programmer history --limit 5`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of records")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Storage.EnableLedger {
		return fmt.Errorf("ingest ledger is disabled in %s", configPath)
	}

	l, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		return fmt.Errorf("open ingest ledger: %w", err)
	}
	defer l.Close()

	records, err := l.Recent(context.Background(), historyLimit)
	if err != nil {
		return fmt.Errorf("read ingest ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No uploads recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPLETED\tNAME\tSTAGE\tSIZE\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.CompletedAt.Local().Format(time.DateTime), r.Name, r.Stage, r.SizeBytes, r.Error)
	}
	return w.Flush()
}
