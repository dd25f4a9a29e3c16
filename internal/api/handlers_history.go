// handlers_history.go - Ingest ledger handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HistoryHandlerImpl implements the HistoryHandler interface
type HistoryHandlerImpl struct {
	history History
}

// NewHistoryHandler creates a new history handler. A nil history reports 503.
func NewHistoryHandler(history History) HistoryHandler {
	return &HistoryHandlerImpl{history: history}
}

// HandleListUploads returns recent ledger records as JSON
func (h *HistoryHandlerImpl) HandleListUploads(c echo.Context) error {
	records, err := h.recent(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

// HandleListUploadsMsgpack returns recent ledger records encoded as msgpack
func (h *HistoryHandlerImpl) HandleListUploadsMsgpack(c echo.Context) error {
	records, err := h.recent(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"records": records,
		"total":   len(records),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleStats returns how many recorded runs ended in each stage
func (h *HistoryHandlerImpl) HandleStats(c echo.Context) error {
	if h.history == nil {
		return NewServiceUnavailableError("ingest ledger is disabled")
	}

	counts, err := h.history.CountByStage(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to count ingest history", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stages": counts,
		"total":  total,
	})
}

func (h *HistoryHandlerImpl) recent(c echo.Context) ([]models.IngestRecord, error) {
	if h.history == nil {
		return nil, NewServiceUnavailableError("ingest ledger is disabled")
	}

	limit := defaultHistoryLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, NewBadRequestError("limit must be a positive integer", err)
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	records, err := h.history.Recent(c.Request().Context(), limit)
	if err != nil {
		return nil, NewInternalError("failed to read ingest history", err)
	}
	if records == nil {
		records = []models.IngestRecord{}
	}
	return records, nil
}
