package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"equity-backtest/internal/strategy"
)

// StrategyHandler handles strategy-related requests
type StrategyHandler struct{}

// NewStrategyHandler creates a new strategy handler
func NewStrategyHandler() *StrategyHandler {
	return &StrategyHandler{}
}

// ListStrategies handles GET /api/v1/strategies
func (h *StrategyHandler) ListStrategies(c *gin.Context) {
	strategies := strategy.Catalog()
	c.JSON(http.StatusOK, gin.H{"strategies": strategies, "count": len(strategies)})
}
