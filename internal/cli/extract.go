package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <archive>",
	Short: "Extract an archive retained in the uploads directory",
	Long: `Extract an archive that a previous upload left in the uploads directory.

Archives are kept when extraction fails. Once the cause is fixed the archive
can be expanded again without re-uploading it; it is removed on success.

The run is recorded in the ingest ledger when it can be opened. While serve
is running it holds the ledger file lock, so the extraction still runs but a
warning is logged and no history entry is written.

Examples:
  bbb-programmer extract bundle.zip`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	name := args[0]

	p, err := buildPipeline(cfg, logger, nil, true)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	job, err := p.manager.Reextract(ctx, name)
	if err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Extracted %s: %d entries, %d bytes in %s\n",
		job.StoredName, job.Result.Entries, job.Result.Bytes, job.Result.Duration)
	if job.Result.CleanupWarning != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: %s\n", job.Result.CleanupWarning)
	}
	return nil
}
