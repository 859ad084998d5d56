// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/print-slicer/backend/internal/batch"
	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pipeline"
	"github.com/print-slicer/backend/internal/stats"
)

// SliceHandler starts slicing work
type SliceHandler interface {
	HandleSliceBatch(c echo.Context) error
	HandleSliceFile(c echo.Context) error
	HandleManualQuote(c echo.Context) error
}

// BatchHandler exposes batch snapshots
type BatchHandler interface {
	HandleListBatches(c echo.Context) error
	HandleGetBatch(c echo.Context) error
	HandleGetBatchMsgpack(c echo.Context) error
	HandleCancelBatch(c echo.Context) error
}

// UploadHandler stores model files in the blob store
type UploadHandler interface {
	HandleUploadModel(c echo.Context) error
	HandleListModels(c echo.Context) error
}

// StatsHandler serves processing statistics
type StatsHandler interface {
	HandleStats(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// BatchManager runs and tracks batches. This allows mocking in tests
type BatchManager interface {
	StartBatch(req batch.Request) (*models.Batch, error)
	StartSingle(req batch.SingleRequest) (*models.Batch, error)
	GetBatch(id string) (*models.Batch, bool)
	ListBatches() []*models.Batch
	Cancel(id string) bool
}

// Quoter prices manually weighed models
type Quoter interface {
	Quote(ctx context.Context, req pipeline.ManualRequest) (models.FileResult, error)
}

// StatsReader aggregates processing statistics
type StatsReader interface {
	Summarize(ctx context.Context, since time.Time) (*stats.Summary, error)
}

// ReadinessChecker reports whether the slicing engine can run
type ReadinessChecker interface {
	CheckReady() error
}
