// handlers_upload.go - Firmware bundle ingest handlers
package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/benengr/bbb-programmer/internal/ledger"
	"github.com/benengr/bbb-programmer/internal/models"
	"github.com/labstack/echo/v4"
)

// FirmwareField is the multipart field carrying the archive.
const FirmwareField = "firmware"

// JobHeader carries the pipeline job ID on upload responses.
const JobHeader = "X-Ingest-Job"

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	pipeline Pipeline
	history  History
}

// NewUploadHandler creates a new upload handler instance. history may be nil.
func NewUploadHandler(pipeline Pipeline, history History) UploadHandler {
	return &UploadHandlerImpl{
		pipeline: pipeline,
		history:  history,
	}
}

// HandleUpload streams the firmware part of a multipart body to disk and extracts it.
// Success is 200 with an empty body; failures carry a plain-text body.
func (h *UploadHandlerImpl) HandleUpload(c echo.Context) error {
	reader, err := c.Request().MultipartReader()
	if err != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("expected multipart/form-data body: %v", err))
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return respondPipelineError(c, fmt.Errorf("%w: %s", models.ErrMissingField, FirmwareField))
		}
		if err != nil {
			return respondPipelineError(c, fmt.Errorf("%w: reading multipart body: %w", models.ErrIO, err))
		}

		// Other fields are ignored.
		if part.FormName() != FirmwareField {
			part.Close()
			continue
		}

		job, err := h.pipeline.Process(c.Request().Context(), rawFileName(part), part)
		part.Close()
		if job != nil {
			c.Response().Header().Set(JobHeader, job.ID)
		}
		if err != nil {
			return respondPipelineError(c, err)
		}
		return c.NoContent(http.StatusOK)
	}
}

// HandleGetJob returns a tracked pipeline job, falling back to the ledger
// once the job has aged out of memory
func (h *UploadHandlerImpl) HandleGetJob(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if job, ok := h.pipeline.GetJob(id); ok {
		return c.JSON(http.StatusOK, job)
	}

	if h.history != nil {
		rec, err := h.history.Get(c.Request().Context(), id)
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, rec)
		case !errors.Is(err, ledger.ErrNotFound):
			return NewInternalError("failed to read ingest history", err)
		}
	}

	return NewNotFoundError("upload", id)
}

// rawFileName returns the filename exactly as the client sent it.
// Part.FileName applies filepath.Base, which would hide what the client asked for.
func rawFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err == nil {
		if name, ok := params["filename"]; ok {
			return name
		}
	}
	return part.FileName()
}
