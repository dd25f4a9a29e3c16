package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benengr/bbb-programmer/internal/api"
	"github.com/benengr/bbb-programmer/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingest server",
	Long: `Run the HTTP ingest server.

Firmware bundles are accepted at POST /api/v1/upload as multipart/form-data with
the archive in the "firmware" field. Each bundle is stored in the uploads
directory, expanded in place, and removed once extraction succeeds.

Examples:
  bbb-programmer serve
  bbb-programmer serve --config /etc/bbb-programmer/ingest.yaml
  PORT=9090 bbb-programmer serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	var reg prometheus.Registerer
	var gatherer prometheus.Gatherer
	if cfg.Advanced.EnableMetrics {
		reg, gatherer = prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}

	p, err := buildPipeline(cfg, logger, reg, false)
	if err != nil {
		return err
	}
	defer p.Close()

	deps := &api.Dependencies{
		Pipeline:      p.manager,
		Archives:      p.store,
		Gatherer:      gatherer,
		AllowDeletion: cfg.Security.AllowArchiveDeletion,
		Version:       Version,
		Logger:        logger,
	}
	if p.ledger != nil {
		deps.History = p.ledger
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api.SetupMiddleware(e, api.MiddlewareConfig{
		BodyLimit:      cfg.Server.BodyLimit,
		EnableCORS:     cfg.Server.EnableCORS,
		AllowOrigins:   api.SplitOrigins(cfg.Server.AllowOrigins),
		RequestLogging: cfg.Advanced.EnableRequestLogging,
		Logger:         logger,
	})
	api.RegisterRoutes(e, api.NewHandlers(deps))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupJobs(ctx, p.manager,
		time.Duration(cfg.Advanced.CleanupIntervalMinutes)*time.Minute,
		time.Duration(cfg.Advanced.JobRetentionMinutes)*time.Minute)

	// Configure server with settings from config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(p.store.Dir())

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Shutdown waits for in-flight uploads, including their extraction
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// cleanupJobs drops finished jobs older than retention until ctx is done.
func cleanupJobs(ctx context.Context, m *upload.Manager, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupOldJobs(retention); n > 0 {
				logger.Debug("removed finished jobs", "count", n)
			}
		}
	}
}

func printBanner(uploadDir string) {
	metricsPath := "disabled"
	if cfg.Advanced.EnableMetrics {
		metricsPath = "/metrics"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Firmware Ingest Server                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Extraction: %-45s║\n", cfg.Extraction.Mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Uploads:   %-46s║\n", uploadDir)
	fmt.Printf("║  Metrics:   %-46s║\n", metricsPath)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
