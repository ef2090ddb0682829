package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"equity-backtest/internal/api/models"
	"equity-backtest/internal/telemetry"
)

// Progress handles GET /ws/progress by upgrading to a websocket that
// receives every run's progress events.
func Progress(hub *telemetry.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hub == nil {
			c.JSON(http.StatusServiceUnavailable, models.NewError("PROGRESS_DISABLED", "progress streaming is not configured"))
			return
		}
		hub.ServeWS(c.Writer, c.Request)
	}
}
