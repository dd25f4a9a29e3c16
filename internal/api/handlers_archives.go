// handlers_archives.go - Retained archive handlers
package api

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/benengr/bbb-programmer/internal/storage"
	"github.com/labstack/echo/v4"
)

// ArchiveHandlerImpl implements the ArchiveHandler interface
type ArchiveHandlerImpl struct {
	store         ArchiveStore
	pipeline      Pipeline
	allowDeletion bool
}

// NewArchiveHandler creates a new archive handler instance
func NewArchiveHandler(store ArchiveStore, pipeline Pipeline, allowDeletion bool) ArchiveHandler {
	return &ArchiveHandlerImpl{
		store:         store,
		pipeline:      pipeline,
		allowDeletion: allowDeletion,
	}
}

// HandleListArchives returns archives currently on disk, newest first
func (h *ArchiveHandlerImpl) HandleListArchives(c echo.Context) error {
	archives, err := h.store.List()
	if err != nil {
		return NewInternalError("failed to list archives", err)
	}
	if archives == nil {
		archives = []*models.ArchiveFile{}
	}
	return c.JSON(http.StatusOK, archives)
}

// HandleReextract re-runs extraction for a retained archive
func (h *ArchiveHandlerImpl) HandleReextract(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return NewValidationError("name")
	}

	job, err := h.pipeline.Reextract(c.Request().Context(), name)
	if job != nil {
		c.Response().Header().Set(JobHeader, job.ID)
	}
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case job == nil && errors.Is(err, fs.ErrNotExist):
		return c.String(http.StatusNotFound, "archive not found: "+name)
	default:
		return respondPipelineError(c, err)
	}
}

// HandleDeleteArchive removes a retained archive
func (h *ArchiveHandlerImpl) HandleDeleteArchive(c echo.Context) error {
	if !h.allowDeletion {
		return NewForbiddenError("archive deletion is disabled")
	}

	name := c.Param("name")
	if name == "" {
		return NewValidationError("name")
	}

	storedName, err := storage.SanitizeName(name)
	if err != nil {
		return NewBadRequestError("invalid archive name", err)
	}

	unlock := h.store.Lock(storedName)
	defer unlock()

	if err := h.store.Remove(storedName); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewNotFoundError("archive", name)
		}
		return NewInternalError("failed to remove archive", err)
	}

	return c.NoContent(http.StatusNoContent)
}
