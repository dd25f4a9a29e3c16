// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Pipeline Pipeline
	Archives ArchiveStore

	// History is nil when the ledger is disabled
	History History

	// Gatherer is nil when /metrics is disabled
	Gatherer prometheus.Gatherer

	AllowDeletion bool
	Version       string
	Logger        *slog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health   HealthHandler
	Upload   UploadHandler
	Archives ArchiveHandler
	History  HistoryHandler
	Events   EventsHandler
	Metrics  echo.HandlerFunc
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	h := &Handlers{
		Health:   NewHealthHandler(deps.Version),
		Upload:   NewUploadHandler(deps.Pipeline, deps.History),
		Archives: NewArchiveHandler(deps.Archives, deps.Pipeline, deps.AllowDeletion),
		History:  NewHistoryHandler(deps.History),
		Events:   NewWebSocketHandler(deps.Pipeline, deps.Logger),
	}
	if deps.Gatherer != nil {
		h.Metrics = echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/", handlers.Health.HandleRoot)
	e.GET("/api/health", handlers.Health.HandleHealth)
	if handlers.Metrics != nil {
		e.GET("/metrics", handlers.Metrics)
	}

	v1 := e.Group("/api/v1")

	// Ingest routes
	v1.POST("/upload", handlers.Upload.HandleUpload)
	v1.GET("/uploads", handlers.History.HandleListUploads)
	v1.GET("/uploads/msgpack", handlers.History.HandleListUploadsMsgpack)
	v1.GET("/uploads/stats", handlers.History.HandleStats)
	v1.GET("/uploads/:id", handlers.Upload.HandleGetJob)

	// Retained archive routes
	archiveGroup := v1.Group("/archives")
	archiveGroup.GET("", handlers.Archives.HandleListArchives)
	archiveGroup.POST("/:name/extract", handlers.Archives.HandleReextract)
	archiveGroup.DELETE("/:name", handlers.Archives.HandleDeleteArchive)

	// Event stream
	v1.GET("/ws/events", handlers.Events.HandleEvents)
}

// MiddlewareConfig selects the common middleware stack
type MiddlewareConfig struct {
	BodyLimit      string // e.g. "101MiB"; empty disables the limit
	EnableCORS     bool
	AllowOrigins   []string
	RequestLogging bool
	Logger         *slog.Logger
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	if cfg.RequestLogging {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api/health" || path == "/metrics"
			},
			LogMethod:   true,
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogRemoteIP: true,
			LogError:    true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				attrs := []any{
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency", v.Latency,
					"remote_ip", v.RemoteIP,
				}
				if v.Error != nil {
					logger.Warn("request", append(attrs, "error", v.Error)...)
					return nil
				}
				logger.Info("request", attrs...)
				return nil
			},
		}))
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panic", "error", err, "uri", c.Request().RequestURI, "stack", string(stack))
			return err
		},
	}))

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  origins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			ExposeHeaders: []string{JobHeader},
		}))
	}
}

// SplitOrigins parses a comma separated origin list
func SplitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
