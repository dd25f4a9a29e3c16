package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/benengr/bbb-programmer/internal/extract"
	"github.com/benengr/bbb-programmer/internal/ledger"
	"github.com/benengr/bbb-programmer/internal/metrics"
	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/benengr/bbb-programmer/internal/storage"
	"github.com/benengr/bbb-programmer/internal/testutil"
	"github.com/benengr/bbb-programmer/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// memHistory is an in-memory ledger that the pipeline records into.
type memHistory struct {
	mu      sync.Mutex
	records []models.IngestRecord
}

func (h *memHistory) Record(_ context.Context, rec *models.IngestRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append([]models.IngestRecord{*rec}, h.records...)
	return nil
}

func (h *memHistory) Recent(_ context.Context, limit int) ([]models.IngestRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > len(h.records) {
		limit = len(h.records)
	}
	return append([]models.IngestRecord(nil), h.records[:limit]...), nil
}

func (h *memHistory) Get(_ context.Context, id string) (models.IngestRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.ID == id {
			return r, nil
		}
	}
	return models.IngestRecord{}, ledger.ErrNotFound
}

func (h *memHistory) CountByStage(_ context.Context) (map[models.Stage]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make(map[models.Stage]int)
	for _, r := range h.records {
		counts[r.Stage]++
	}
	return counts, nil
}

type testServer struct {
	e        *echo.Echo
	dir      string
	store    *storage.LocalStore
	manager  *upload.Manager
	history  *memHistory
	registry *prometheus.Registry
}

type serverOptions struct {
	maxSize       int64
	bodyLimit     string
	allowDeletion bool
	noHistory     bool
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	if opts.maxSize == 0 {
		opts.maxSize = 1 << 20
	}

	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir, opts.maxSize)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	history := &memHistory{}
	executor := extract.NewExecutor(extract.NewZipExtractor(100, 1<<20), dir, extract.WithLogger(logger))
	manager := upload.NewManager(store, executor,
		upload.WithRecorder(history),
		upload.WithCounters(metrics.NewPipelineCounters(registry)),
		upload.WithLogger(logger),
	)

	deps := &Dependencies{
		Pipeline:      manager,
		Archives:      store,
		History:       history,
		Gatherer:      registry,
		AllowDeletion: opts.allowDeletion,
		Version:       "test",
		Logger:        logger,
	}
	if opts.noHistory {
		deps.History = nil
	}

	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{BodyLimit: opts.bodyLimit, Logger: logger})
	RegisterRoutes(e, NewHandlers(deps))

	return &testServer{e: e, dir: dir, store: store, manager: manager, history: history, registry: registry}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := testutil.MultipartBody(t, FirmwareField, filename, data, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	return s.do(req)
}
