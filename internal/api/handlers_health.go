// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	engine  ReadinessChecker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, engine ReadinessChecker) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		engine:  engine,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"engine":  "ok",
	}
	if h.engine != nil {
		if err := h.engine.CheckReady(); err != nil {
			resp["status"] = "degraded"
			resp["engine"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
