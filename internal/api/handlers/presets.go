package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"equity-backtest/internal/config"
)

// PresetInfo describes a strategy preset usable as strategy_file
type PresetInfo struct {
	ID       string         `json:"id"`
	Strategy string         `json:"strategy"`
	Params   map[string]any `json:"params,omitempty"`
}

// PresetHandler lists strategy presets
type PresetHandler struct {
	dir string
	log *slog.Logger
}

// NewPresetHandler creates a handler serving presets from dir
func NewPresetHandler(dir string, log *slog.Logger) *PresetHandler {
	if dir == "" {
		dir = GetStrategyDir()
	}
	if log == nil {
		log = slog.Default()
	}
	return &PresetHandler{dir: dir, log: log}
}

// ListPresets handles GET /api/v1/strategies/presets. A missing directory
// yields an empty list and unreadable files are skipped.
func (h *PresetHandler) ListPresets(c *gin.Context) {
	presets := []PresetInfo{}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			h.log.Warn("read strategy dir", slog.String("dir", h.dir), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusOK, gin.H{"presets": presets, "count": 0})
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		info, err := loadPresetInfo(filepath.Join(h.dir, entry.Name()))
		if err != nil {
			h.log.Warn("skipping strategy preset", slog.String("file", entry.Name()), slog.String("error", err.Error()))
			continue
		}
		presets = append(presets, info)
	}

	c.JSON(http.StatusOK, gin.H{"presets": presets, "count": len(presets)})
}

func loadPresetInfo(path string) (PresetInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PresetInfo{}, err
	}
	var wrapper struct {
		Strategy config.StrategyConfig `yaml:"strategy"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return PresetInfo{}, err
	}
	return PresetInfo{
		// "sma_fast.yaml" -> "sma_fast", the value strategy_file expects
		ID:       strings.TrimSuffix(filepath.Base(path), ".yaml"),
		Strategy: wrapper.Strategy.Name,
		Params:   wrapper.Strategy.Params,
	}, nil
}
