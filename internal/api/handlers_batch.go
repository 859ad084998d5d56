// handlers_batch.go - Batch status handlers
package api

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/print-slicer/backend/internal/models"
)

// BatchHandlerImpl implements the BatchHandler interface
type BatchHandlerImpl struct {
	batches BatchManager
}

// NewBatchHandler creates a new batch handler instance
func NewBatchHandler(batches BatchManager) BatchHandler {
	return &BatchHandlerImpl{batches: batches}
}

// HandleListBatches returns all known batches, newest first
func (h *BatchHandlerImpl) HandleListBatches(c echo.Context) error {
	list := h.batches.ListBatches()
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return c.JSON(http.StatusOK, list)
}

// HandleGetBatch returns a batch snapshot as JSON
func (h *BatchHandlerImpl) HandleGetBatch(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// HandleGetBatchMsgpack returns a batch snapshot encoded as MessagePack
func (h *BatchHandlerImpl) HandleGetBatchMsgpack(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(b)
	if err != nil {
		return NewInternalError("failed to encode batch", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleCancelBatch cancels a running batch
func (h *BatchHandlerImpl) HandleCancelBatch(c echo.Context) error {
	b, err := h.lookup(c)
	if err != nil {
		return err
	}
	if b.State == models.BatchDone || !h.batches.Cancel(b.ID) {
		return NewConflictError("batch already finished")
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "cancel requested",
		"batchId": b.ID,
	})
}

func (h *BatchHandlerImpl) lookup(c echo.Context) (*models.Batch, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	b, ok := h.batches.GetBatch(id)
	if !ok {
		return nil, NewNotFoundError("batch", id)
	}
	return b, nil
}
