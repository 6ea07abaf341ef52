package search

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxKeywords = "mutesky_keywords"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *zap.Logger

	mu      sync.Mutex
	indexed map[string]struct{}
}

// NewMeili creates a Meilisearch client and configures the keyword index.
// An unreachable server is not an error; the health loop keeps probing.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client:  client,
		done:    make(chan struct{}),
		logger:  logger.Named("search.meili"),
		indexed: make(map[string]struct{}),
	}

	if _, err := client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxKeywords,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxKeywords), zap.Error(err))
	}

	index := m.client.Index(idxKeywords)
	filterable := []interface{}{"category", "categoryWeight"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"keyword", "categoryName", "category"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID: idxKeywords,
		Query:    q.Text,
		Limit:    limit,
	}
	if q.Category != "" {
		sr.Filter = fmt.Sprintf("category = %q", q.Category)
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		Keyword:        decodeString(hit, "keyword"),
		Category:       decodeString(hit, "category"),
		CategoryName:   decodeString(hit, "categoryName"),
		Weight:         decodeInt(hit, "weight"),
		CategoryWeight: decodeInt(hit, "categoryWeight"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// Replace upserts records and deletes those indexed by a previous call that
// are no longer present.
func (m *Meili) Replace(records []KeywordRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]struct{}, len(records))
	for _, record := range records {
		next[record.ID] = struct{}{}
	}
	if len(records) > 0 {
		if _, err := m.client.Index(idxKeywords).AddDocuments(records, nil); err != nil {
			return fmt.Errorf("index keywords: %w", err)
		}
	}
	for id := range m.indexed {
		if _, keep := next[id]; keep {
			continue
		}
		if _, err := m.client.Index(idxKeywords).DeleteDocument(id, nil); err != nil {
			m.logger.Warn("delete stale keyword", zap.String("id", id), zap.Error(err))
			next[id] = struct{}{}
		}
	}
	m.indexed = next
	return nil
}
