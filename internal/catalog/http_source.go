package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	cacheKeyFiles        = "category_files"
	cacheKeyLastModified = "last_modified"
	fetchConcurrency     = 8
	userAgent            = "MuteSky-App"
)

var errRateLimited = errors.New("listing rate limited")

// HTTPConfig points the HTTP source at a published catalog.
type HTTPConfig struct {
	// BaseURL serves category files as BaseURL/<file>.
	BaseURL string
	// ListURL returns a JSON array of {"name": "<file>"} entries.
	ListURL string
	// CommitsURL returns a JSON array of commits, newest first, for the
	// categories path. Optional.
	CommitsURL  string
	ContextsURL string
	DisplayURL  string
	CacheTTL    time.Duration
	Timeout     time.Duration
}

// HTTPSource fetches the catalog over HTTP. The file listing and the
// revision date are cached for CacheTTL; category files are always fetched
// fresh.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
	cache  *gocache.Cache
	logger *zap.Logger
}

func NewHTTPSource(cfg HTTPConfig, logger *zap.Logger) *HTTPSource {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		logger: nopIfNil(logger).Named("catalog.http"),
	}
}

func (s *HTTPSource) Load(ctx context.Context) (*Catalog, error) {
	files := s.categoryFiles(ctx)

	var (
		mu  sync.Mutex
		raw = rawCatalog{categoryFiles: make(map[string][]byte, len(files))}
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(fetchConcurrency)
	for _, file := range files {
		file := file
		group.Go(func() error {
			body, err := s.fetch(groupCtx, joinURL(s.cfg.BaseURL, file))
			if err != nil {
				if ctxErr := groupCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn("category fetch failed", zap.String("file", file), zap.Error(err))
				return nil
			}
			mu.Lock()
			raw.categoryFiles[file] = body
			mu.Unlock()
			return nil
		})
	}
	group.Go(func() error {
		if s.cfg.ContextsURL == "" {
			return nil
		}
		body, err := s.fetch(groupCtx, s.cfg.ContextsURL)
		if err != nil {
			s.logger.Warn("context catalog fetch failed", zap.Error(err))
			return nil
		}
		mu.Lock()
		raw.contexts = body
		mu.Unlock()
		return nil
	})
	group.Go(func() error {
		if s.cfg.DisplayURL == "" {
			return nil
		}
		body, err := s.fetch(groupCtx, s.cfg.DisplayURL)
		if err != nil {
			s.logger.Warn("display config fetch failed", zap.Error(err))
			return nil
		}
		mu.Lock()
		raw.display = body
		mu.Unlock()
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	raw.lastModified = s.lastModified(ctx)
	return assemble(raw, s.logger), nil
}

// categoryFiles lists category files, falling back to the fixed list when
// the listing is unreachable or rate limited.
func (s *HTTPSource) categoryFiles(ctx context.Context) []string {
	if cached, ok := s.cache.Get(cacheKeyFiles); ok {
		return cached.([]string)
	}
	if s.cfg.ListURL == "" {
		return FallbackCategoryFiles
	}

	body, err := s.fetch(ctx, s.cfg.ListURL)
	if err != nil {
		if errors.Is(err, errRateLimited) {
			s.logger.Debug("category listing rate limited, using fallback list")
		} else {
			s.logger.Warn("category listing failed, using fallback list", zap.Error(err))
		}
		return FallbackCategoryFiles
	}
	if !gjson.ValidBytes(body) {
		s.logger.Warn("category listing is not JSON, using fallback list")
		return FallbackCategoryFiles
	}

	var files []string
	for _, name := range gjson.GetBytes(body, "#.name").Array() {
		if isCategoryFile(name.String()) {
			files = append(files, name.String())
		}
	}
	if len(files) == 0 {
		return FallbackCategoryFiles
	}
	s.cache.SetDefault(cacheKeyFiles, files)
	return files
}

func (s *HTTPSource) lastModified(ctx context.Context) string {
	if cached, ok := s.cache.Get(cacheKeyLastModified); ok {
		return cached.(string)
	}
	if s.cfg.CommitsURL == "" {
		return FallbackLastModified
	}
	body, err := s.fetch(ctx, s.cfg.CommitsURL)
	if err != nil {
		s.logger.Warn("last modified lookup failed", zap.Error(err))
		return FallbackLastModified
	}
	raw := gjson.GetBytes(body, "0.commit.committer.date").String()
	when, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return FallbackLastModified
	}
	formatted := when.Format(LastModifiedLayout)
	s.cache.SetDefault(cacheKeyLastModified, formatted)
	return formatted
}

// Invalidate drops the cached listing and revision date.
func (s *HTTPSource) Invalidate() {
	s.cache.Flush()
}

func (s *HTTPSource) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-store")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

func joinURL(base, file string) string {
	return strings.TrimRight(base, "/") + "/" + file
}
