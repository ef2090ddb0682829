package data

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrDatasetNotFound is returned when no file matches a dataset ID.
var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset describes a market data file available to the API.
type Dataset struct {
	ID        string `json:"id"`   // file name without extension
	File      string `json:"file"` // file name relative to the data dir
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
	UpdatedAt string `json:"updated_at"` // RFC3339
}

// ListDatasets lists .json and .csv files in dir, sorted by ID.
// A missing directory yields an empty list.
func ListDatasets(dir string) ([]Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Dataset{}, nil
		}
		return nil, fmt.Errorf("failed to read data dir: %w", err)
	}

	out := []Dataset{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".json" && ext != ".csv" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Dataset{
			ID:        strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			File:      e.Name(),
			Format:    strings.TrimPrefix(ext, "."),
			SizeBytes: info.Size(),
			UpdatedAt: info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ResolveDataset maps a dataset ID to its file inside dir. IDs containing
// path separators are rejected.
func ResolveDataset(dir, id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid dataset id %q", id)
	}
	for _, ext := range []string{".json", ".csv"} {
		p := filepath.Join(dir, id+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrDatasetNotFound, id)
}

// GetDefaultDataDir returns the directory datasets are served from.
func GetDefaultDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	return "./data"
}
