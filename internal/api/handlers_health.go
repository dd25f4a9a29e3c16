// handlers_health.go - Liveness handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Greeting is the body served at the root path.
const Greeting = "Hello world!"

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
	}
}

// HandleRoot returns a static greeting
func (h *HealthHandlerImpl) HandleRoot(c echo.Context) error {
	return c.String(http.StatusOK, Greeting)
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	})
}
