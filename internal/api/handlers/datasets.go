package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"equity-backtest/internal/api/models"
	"equity-backtest/internal/data"
)

// DatasetHandler lists the market data files backtests can reference
type DatasetHandler struct {
	dir string
}

// NewDatasetHandler creates a handler serving datasets from dir
func NewDatasetHandler(dir string) *DatasetHandler {
	if dir == "" {
		dir = data.GetDefaultDataDir()
	}
	return &DatasetHandler{dir: dir}
}

// ListDatasets handles GET /api/v1/datasets
func (h *DatasetHandler) ListDatasets(c *gin.Context) {
	datasets, err := data.ListDatasets(h.dir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.NewError("DATASETS_LOAD_ERROR", fmt.Sprintf("Failed to list datasets: %v", err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"datasets": datasets,
		"count":    len(datasets),
	})
}
