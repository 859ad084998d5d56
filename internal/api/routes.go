// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/metrics"
	"github.com/print-slicer/backend/internal/records"
	"github.com/print-slicer/backend/internal/report"
	"github.com/print-slicer/backend/internal/settings"
	"github.com/print-slicer/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Batches   BatchManager
	Quoter    Quoter
	Records   *records.Router
	Settings  *settings.Router
	Blobs     storage.BlobStore
	Stats     StatsReader
	Engine    ReadinessChecker
	Supported func(ext string) bool
	Callback  func(url string) report.Sink
	Hub       *EventHub
	Metrics   *metrics.Collector
	Version   string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Slice  SliceHandler
	Batch  BatchHandler
	Upload UploadHandler
	Stats  StatsHandler
	Hub    *EventHub
	// Metrics is optional; /metrics is only served when set.
	Metrics *metrics.Collector
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Version, deps.Engine),
		Slice:   NewSliceHandler(deps.Batches, deps.Quoter, deps.Records, deps.Settings, deps.Callback),
		Batch:   NewBatchHandler(deps.Batches),
		Upload:  NewUploadHandler(deps.Blobs, deps.Supported),
		Stats:   NewStatsHandler(deps.Stats),
		Hub:     deps.Hub,
		Metrics: deps.Metrics,
	}
}

// RegisterRoutes registers all API routes with the Echo instance.
// sliceMW is applied to the routes that start slicing work.
func RegisterRoutes(e *echo.Echo, handlers *Handlers, sliceMW ...echo.MiddlewareFunc) {
	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Slicing routes
	var mws []echo.MiddlewareFunc
	for _, mw := range sliceMW {
		if mw != nil {
			mws = append(mws, mw)
		}
	}
	sliceGroup := e.Group("/api/slice", mws...)
	sliceGroup.POST("", handlers.Slice.HandleSliceFile)
	sliceGroup.POST("/manual/:prefix", handlers.Slice.HandleManualQuote)
	sliceGroup.POST("/:prefix", handlers.Slice.HandleSliceBatch)

	// Batch status routes
	batchGroup := e.Group("/api/batches")
	batchGroup.GET("", handlers.Batch.HandleListBatches)
	batchGroup.GET("/:id", handlers.Batch.HandleGetBatch)
	batchGroup.GET("/:id/msgpack", handlers.Batch.HandleGetBatchMsgpack)
	batchGroup.DELETE("/:id", handlers.Batch.HandleCancelBatch)

	// Model storage routes
	modelGroup := e.Group("/api/models")
	modelGroup.POST("/:prefix", handlers.Upload.HandleUploadModel)
	modelGroup.GET("/:prefix", handlers.Upload.HandleListModels)

	e.GET("/api/stats", handlers.Stats.HandleStats)

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics.Handler()))
	}

	RegisterWebSocketRoutes(e, handlers)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	if handlers.Hub == nil {
		return
	}
	e.GET("/api/ws/batches", handlers.Hub.HandleWebSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, logger *zap.Logger, collector *metrics.Collector, showDetails bool) {
	e.HTTPErrorHandler = NewErrorHandler(logger, showDetails)
	e.Use(RequestLogger(logger, collector))
}
