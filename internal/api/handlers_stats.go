// handlers_stats.go - Processing statistics handler
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// StatsHandlerImpl implements the StatsHandler interface
type StatsHandlerImpl struct {
	stats StatsReader
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats StatsReader) StatsHandler {
	return &StatsHandlerImpl{stats: stats}
}

// HandleStats returns per-outcome aggregates. ?window=24h limits the range.
func (h *StatsHandlerImpl) HandleStats(c echo.Context) error {
	if h.stats == nil {
		return NewServiceUnavailableError("stats store not configured")
	}

	var since time.Time
	if w := c.QueryParam("window"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil || d <= 0 {
			return NewBadRequestError("invalid window", err)
		}
		since = time.Now().Add(-d)
	}

	sum, err := h.stats.Summarize(c.Request().Context(), since)
	if err != nil {
		return NewInternalError("failed to read stats", err)
	}
	return c.JSON(http.StatusOK, sum)
}
