package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benengr/bbb-programmer/internal/config"
	"github.com/benengr/bbb-programmer/internal/extract"
	"github.com/benengr/bbb-programmer/internal/ledger"
	"github.com/benengr/bbb-programmer/internal/metrics"
	"github.com/benengr/bbb-programmer/internal/storage"
	"github.com/benengr/bbb-programmer/internal/upload"
	"github.com/prometheus/client_golang/prometheus"
)

// pipeline bundles the components every command that touches the upload directory needs.
type pipeline struct {
	store   *storage.LocalStore
	ledger  *ledger.Ledger // nil when disabled
	manager *upload.Manager
}

// newExtractor selects the extraction backend for the configured mode.
func newExtractor(c *config.AppConfig) extract.Extractor {
	if c.Extraction.Mode == config.ModeCommand {
		return extract.NewCommandExtractor(c.Extraction.UnzipCommand, c.GetUploadDir())
	}
	return extract.NewZipExtractor(c.Extraction.MaxEntries, c.MaxDecompressedBytes())
}

// buildPipeline wires storage, extraction, ledger and metrics. reg may be nil.
// With optionalLedger set, a ledger that cannot be opened (typically because a
// running server holds the DuckDB file lock) is logged and skipped.
func buildPipeline(c *config.AppConfig, log *slog.Logger, reg prometheus.Registerer, optionalLedger bool) (*pipeline, error) {
	store, err := storage.NewLocalStore(c.GetUploadDir(), c.MaxUploadBytes())
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	executor := extract.NewExecutor(newExtractor(c), c.GetExtractDir(),
		extract.WithTimeout(time.Duration(c.Extraction.TimeoutSeconds)*time.Second),
		extract.WithLogger(log),
	)

	opts := []upload.Option{
		upload.WithLogger(log),
		upload.WithMaxConcurrent(c.Extraction.MaxConcurrent),
		upload.WithCounters(metrics.NewPipelineCounters(reg)),
	}

	p := &pipeline{store: store}
	if c.Storage.EnableLedger {
		l, err := ledger.Open(c.Storage.LedgerPath)
		switch {
		case err == nil:
			p.ledger = l
			opts = append(opts, upload.WithRecorder(l))
		case optionalLedger:
			log.Warn("ingest ledger unavailable, history will not be recorded",
				"path", c.Storage.LedgerPath, "error", err)
		default:
			return nil, fmt.Errorf("open ingest ledger: %w", err)
		}
	}

	p.manager = upload.NewManager(store, executor, opts...)
	return p, nil
}

func (p *pipeline) Close() error {
	if p.ledger == nil {
		return nil
	}
	return p.ledger.Close()
}
