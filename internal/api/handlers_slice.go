// handlers_slice.go - Slicing request handlers
package api

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/print-slicer/backend/internal/batch"
	"github.com/print-slicer/backend/internal/models"
	"github.com/print-slicer/backend/internal/pipeline"
	"github.com/print-slicer/backend/internal/records"
	"github.com/print-slicer/backend/internal/report"
	"github.com/print-slicer/backend/internal/settings"
)

// SliceHandlerImpl implements the SliceHandler interface
type SliceHandlerImpl struct {
	batches  BatchManager
	quoter   Quoter
	records  *records.Router
	settings *settings.Router
	callback func(url string) report.Sink
}

// NewSliceHandler creates a new slice handler instance
func NewSliceHandler(batches BatchManager, quoter Quoter, recs *records.Router, set *settings.Router, callback func(url string) report.Sink) SliceHandler {
	return &SliceHandlerImpl{
		batches:  batches,
		quoter:   quoter,
		records:  recs,
		settings: set,
		callback: callback,
	}
}

// HandleSliceBatch slices every model stored under the prefix
func (h *SliceHandlerImpl) HandleSliceBatch(c echo.Context) error {
	prefix := strings.Trim(c.Param("prefix"), "/")
	if prefix == "" {
		return NewValidationError("prefix")
	}

	var req sliceBatchRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	store, src, err := h.resolve(envOf(c, req.Env))
	if err != nil {
		return err
	}

	b, err := h.batches.StartBatch(batch.Request{
		Prefix:   prefix,
		CartID:   req.CartID,
		Limits:   req.Limits,
		Settings: src,
		Sink:     report.NewRecordSink(store),
	})
	if err != nil {
		return startError(err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "slicing started",
		"batchId": b.ID,
	})
}

// HandleSliceFile slices one model identified by a stable file id
func (h *SliceHandlerImpl) HandleSliceFile(c echo.Context) error {
	var req sliceFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	store, src, err := h.resolve(envOf(c, req.Env))
	if err != nil {
		return err
	}

	source, name := req.URL, req.Filename
	if source == "" {
		rec, err := store.Get(c.Request().Context(), req.FileID)
		if errors.Is(err, records.ErrNotFound) {
			return NewNotFoundError("file", req.FileID)
		}
		if err != nil {
			return NewInternalError("failed to load file record", err)
		}
		source = rec.URL
		if name == "" {
			name = rec.Name
		}
		if source == "" {
			return NewValidationError("url")
		}
	}
	if name == "" {
		name = nameFromSource(source)
	}

	var sink report.Sink = report.NewRecordSink(store)
	if req.CallbackURL != "" {
		sink = h.callback(req.CallbackURL)
	}

	b, err := h.batches.StartSingle(batch.SingleRequest{
		File: models.ModelFile{
			ID:     req.FileID,
			Source: source,
			Name:   name,
			Status: models.FileStatusPending,
		},
		Limits:   req.Limits,
		Settings: src,
		Sink:     sink,
	})
	if err != nil {
		return startError(err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "slicing started",
		"batchId": b.ID,
		"fileId":  req.FileID,
	})
}

// HandleManualQuote prices a model weighed by hand and records the result
func (h *SliceHandlerImpl) HandleManualQuote(c echo.Context) error {
	prefix := strings.Trim(c.Param("prefix"), "/")
	if prefix == "" {
		return NewValidationError("prefix")
	}

	var req manualQuoteRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	store, src, err := h.resolve(envOf(c, req.Env))
	if err != nil {
		return err
	}

	fileID := req.FileID
	if fileID == "" {
		fileID = prefix + "/" + req.Name
	}

	result, err := h.quoter.Quote(c.Request().Context(), pipeline.ManualRequest{
		FileID:    fileID,
		Name:      req.Name,
		MassGrams: *req.Mass,
		Settings:  src,
		Sink:      report.NewRecordSink(store),
	})
	if err != nil {
		return NewInternalError("failed to price model", err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *SliceHandlerImpl) resolve(env string) (records.Store, settings.Source, error) {
	store, err := h.records.For(env)
	if err != nil {
		return nil, nil, NewBadRequestError("unknown environment", err)
	}
	src, err := h.settings.For(env)
	if err != nil {
		return nil, nil, NewBadRequestError("unknown environment", err)
	}
	return store, src, nil
}

// envOf prefers the body field, then the ?env= query parameter.
func envOf(c echo.Context, bodyEnv string) string {
	if bodyEnv != "" {
		return bodyEnv
	}
	return c.QueryParam("env")
}

func startError(err error) error {
	if errors.Is(err, batch.ErrShutdown) {
		return NewServiceUnavailableError("server is shutting down")
	}
	return NewInternalError("failed to start slicing", err)
}

func nameFromSource(source string) string {
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(source)
}

// Request/Response types

type sliceBatchRequest struct {
	CartID string                  `json:"cartId"`
	Limits *models.DimensionLimits `json:"limits"`
	Env    string                  `json:"env"`
}

func (r *sliceBatchRequest) validate() error {
	return validateLimits(r.Limits)
}

type sliceFileRequest struct {
	FileID      string                  `json:"fileId"`
	URL         string                  `json:"url"`
	Filename    string                  `json:"filename"`
	CallbackURL string                  `json:"callbackUrl"`
	Limits      *models.DimensionLimits `json:"limits"`
	Env         string                  `json:"env"`
}

func (r *sliceFileRequest) validate() error {
	if strings.TrimSpace(r.FileID) == "" {
		return NewValidationError("fileId")
	}
	if r.URL != "" && !isHTTPURL(r.URL) {
		return NewValidationError("url")
	}
	if r.CallbackURL != "" && !isHTTPURL(r.CallbackURL) {
		return NewValidationError("callbackUrl")
	}
	return validateLimits(r.Limits)
}

type manualQuoteRequest struct {
	FileID string   `json:"fileId"`
	Name   string   `json:"name"`
	Mass   *float64 `json:"mass"`
	Env    string   `json:"env"`
}

func (r *manualQuoteRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name")
	}
	if r.Mass == nil || *r.Mass < 0 {
		return NewValidationError("mass")
	}
	return nil
}

func validateLimits(l *models.DimensionLimits) error {
	if l == nil {
		return nil
	}
	if l.X < 0 || l.Y < 0 || l.Z < 0 {
		return NewValidationError("limits")
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
