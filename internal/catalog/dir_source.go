package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DirConfig lays out a catalog checked out on disk.
type DirConfig struct {
	Root           string
	CategoriesPath string
	ContextsPath   string
	DisplayPath    string
}

// DirSource reads the catalog from the local filesystem. It is dated with
// the newest category file modification time.
type DirSource struct {
	cfg    DirConfig
	logger *zap.Logger
}

func NewDirSource(cfg DirConfig, logger *zap.Logger) *DirSource {
	if cfg.CategoriesPath == "" {
		cfg.CategoriesPath = "categories"
	}
	if cfg.ContextsPath == "" {
		cfg.ContextsPath = "context-groups.json"
	}
	if cfg.DisplayPath == "" {
		cfg.DisplayPath = "display-config.json"
	}
	return &DirSource{cfg: cfg, logger: nopIfNil(logger).Named("catalog.dir")}
}

// CategoriesDir is the directory a Watcher should observe.
func (s *DirSource) CategoriesDir() string {
	return filepath.Join(s.cfg.Root, s.cfg.CategoriesPath)
}

func (s *DirSource) Load(ctx context.Context) (*Catalog, error) {
	entries, err := os.ReadDir(s.CategoriesDir())
	if err != nil {
		return nil, fmt.Errorf("read categories dir: %w", err)
	}

	raw := rawCatalog{categoryFiles: make(map[string][]byte, len(entries))}
	var newest time.Time
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isCategoryFile(entry.Name()) {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.CategoriesDir(), entry.Name()))
		if err != nil {
			s.logger.Warn("read category file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		raw.categoryFiles[entry.Name()] = body
		if info, err := entry.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if !newest.IsZero() {
		raw.lastModified = newest.Format(LastModifiedLayout)
	}
	raw.contexts = s.optionalFile(s.cfg.ContextsPath)
	raw.display = s.optionalFile(s.cfg.DisplayPath)
	return assemble(raw, s.logger), nil
}

func (s *DirSource) optionalFile(name string) []byte {
	body, err := os.ReadFile(filepath.Join(s.cfg.Root, name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read catalog file", zap.String("file", name), zap.Error(err))
		}
		return nil
	}
	return body
}
