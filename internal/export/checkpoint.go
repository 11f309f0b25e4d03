package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/partsdev/oem-wheel-scraper/internal/models"
)

const (
	checkpointTimeFormat = "2006-01-02_15-04-05"
	checkpointSuffix     = "_products.json"
)

// Checkpointer saves each site's scraped products as a timestamped JSON file
// so a run that dies midway does not lose the sites it already finished.
type Checkpointer struct {
	dir string
	log *slog.Logger
}

func NewCheckpointer(dir string, logger *slog.Logger) *Checkpointer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkpointer{dir: dir, log: logger.With("component", "checkpoint")}
}

// Save writes the site's products to <site>_<timestamp>_products.json and
// returns the path it wrote. Nothing is written when products is empty.
func (c *Checkpointer) Save(site string, products []*models.Product) (string, error) {
	if len(products) == 0 {
		c.log.Info("no products to checkpoint", "site", site)
		return "", nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory %s: %w", c.dir, err)
	}

	name := fmt.Sprintf("%s_%s%s", site, time.Now().Format(checkpointTimeFormat), checkpointSuffix)
	path := filepath.Join(c.dir, name)

	data, err := json.MarshalIndent(products, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint for %s: %w", site, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}

	c.log.Info("checkpoint saved", "site", site, "path", path, "products", len(products))
	return path, nil
}

// Latest returns the newest checkpoint file for the site, or "" when the
// site has none. The timestamp format sorts lexicographically.
func (c *Checkpointer) Latest(site string) (string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read checkpoint directory %s: %w", c.dir, err)
	}

	prefix := site + "_"
	latest := ""
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, checkpointSuffix) {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(c.dir, latest), nil
}

// Load reads the products stored in a checkpoint file.
func (c *Checkpointer) Load(path string) ([]*models.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	var products []*models.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return products, nil
}
