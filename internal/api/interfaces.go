// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/benengr/bbb-programmer/internal/upload"
	"github.com/labstack/echo/v4"
)

// UploadHandler handles firmware bundle ingest
type UploadHandler interface {
	HandleUpload(c echo.Context) error
	HandleGetJob(c echo.Context) error
}

// ArchiveHandler handles archives retained in the upload directory
type ArchiveHandler interface {
	HandleListArchives(c echo.Context) error
	HandleReextract(c echo.Context) error
	HandleDeleteArchive(c echo.Context) error
}

// HistoryHandler exposes the ingest ledger
type HistoryHandler interface {
	HandleListUploads(c echo.Context) error
	HandleListUploadsMsgpack(c echo.Context) error
	HandleStats(c echo.Context) error
}

// HealthHandler handles liveness endpoints
type HealthHandler interface {
	HandleRoot(c echo.Context) error
	HandleHealth(c echo.Context) error
}

// EventsHandler streams pipeline stage events
type EventsHandler interface {
	HandleEvents(c echo.Context) error
}

// Pipeline is the subset of upload.Manager the handlers use.
// This allows mocking in tests
type Pipeline interface {
	Process(ctx context.Context, name string, body io.Reader) (*upload.Job, error)
	Reextract(ctx context.Context, storedName string) (*upload.Job, error)
	GetJob(id string) (*upload.Job, bool)
	Subscribe() (<-chan upload.Event, func())
}

// ArchiveStore lists and removes retained archives
type ArchiveStore interface {
	List() ([]*models.ArchiveFile, error)
	Remove(storedName string) error
	Lock(storedName string) func()
}

// History reads finished pipeline runs
type History interface {
	Recent(ctx context.Context, limit int) ([]models.IngestRecord, error)
	Get(ctx context.Context, id string) (models.IngestRecord, error)
	CountByStage(ctx context.Context) (map[models.Stage]int, error)
}
